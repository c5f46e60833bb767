// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// Search path variables set from dependency layouts.
const (
	EnvPath            = "PATH"
	EnvPkgConfigPath   = "PKG_CONFIG_PATH"
	EnvCPath           = "CPATH"
	EnvLibraryPath     = "LIBRARY_PATH"
	EnvCMakePrefixPath = "CMAKE_PREFIX_PATH"
)

type (
	// Dispatcher routes shell snippets to Virtual and everything else to Native.
	Dispatcher struct {
		Native  Runner
		Virtual Runner
	}
)

// NewDispatcher wires the default native and virtual runners.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{Native: NewNativeRunner(), Virtual: NewVirtualRunner()}
}

// Run implements Runner.
func (d *Dispatcher) Run(ctx context.Context, inv Invocation) *Result {
	if inv.Script != "" {
		return d.Virtual.Run(ctx, inv)
	}
	return d.Native.Run(ctx, inv)
}

// FromStep renders step through view into an invocation running in dir.
// env is used as is.
func FromStep(step recipe.BuildStep, view *resolver.View, dir string, env map[string]string) (Invocation, error) {
	if step.Workdir != "" {
		dir = filepath.Join(dir, filepath.FromSlash(step.Workdir))
	}
	inv := Invocation{Dir: dir, Env: env}

	program, args := step.Invocation()
	rendered, err := view.RenderAll(args)
	if err != nil {
		return Invocation{}, err
	}

	if step.Tool == recipe.ToolShell {
		if len(rendered) != 1 {
			return Invocation{}, fmt.Errorf("shell step takes exactly one argument, got %d", len(rendered))
		}
		inv.Script = rendered[0]
		return inv, nil
	}

	if program == "" {
		return Invocation{}, errors.New("step has no program")
	}
	inv.Program, err = view.Render(recipe.Template(program))
	if err != nil {
		return Invocation{}, err
	}
	inv.Args = rendered
	return inv, nil
}

// WithSearchPaths returns a copy of base with the bin, pkg-config, header,
// library and CMake search paths of layouts prepended, in order.
func WithSearchPaths(base map[string]string, layouts ...resolver.Layout) map[string]string {
	env := maps.Clone(base)
	if env == nil {
		env = make(map[string]string)
	}
	var bins, pkgconfig, includes, libs, prefixes []string
	for _, l := range layouts {
		bin, _ := l.Path(recipe.AttrBin)
		lib, _ := l.Path(recipe.AttrLib)
		include, _ := l.Path(recipe.AttrInclude)
		share, _ := l.Path(recipe.AttrShare)
		bins = append(bins, bin)
		pkgconfig = append(pkgconfig, filepath.Join(lib, "pkgconfig"), filepath.Join(share, "pkgconfig"))
		includes = append(includes, include)
		libs = append(libs, lib)
		prefixes = append(prefixes, l.Prefix)
	}
	PrependPath(env, EnvPath, bins...)
	PrependPath(env, EnvPkgConfigPath, pkgconfig...)
	PrependPath(env, EnvCPath, includes...)
	PrependPath(env, EnvLibraryPath, libs...)
	PrependPath(env, EnvCMakePrefixPath, prefixes...)
	return env
}

// BuildEnv layers one package's build environment over base: dependency
// search paths, then the recipe's env assignments, then env_prepend, then
// env_remove, then deparallelization. base is not modified.
func BuildEnv(base map[string]string, view *resolver.View, spec *recipe.PackageSpec) (map[string]string, error) {
	env := WithSearchPaths(base, view.Layouts()...)

	for _, key := range slices.Sorted(maps.Keys(spec.Env)) {
		value, err := view.Render(spec.Env[key])
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", key, err)
		}
		env[key] = value
	}
	for _, key := range slices.Sorted(maps.Keys(spec.EnvPrepend)) {
		value, err := view.Render(spec.EnvPrepend[key])
		if err != nil {
			return nil, fmt.Errorf("env_prepend %s: %w", key, err)
		}
		if strings.HasSuffix(key, "PATH") {
			PrependPath(env, key, filepath.SplitList(value)...)
		} else {
			PrependFlags(env, key, value)
		}
	}
	for _, key := range spec.EnvRemove {
		delete(env, key)
	}
	if spec.Deparallel {
		env["MAKEFLAGS"] = "-j1"
		env["CMAKE_BUILD_PARALLEL_LEVEL"] = "1"
	}
	return env, nil
}

// TestEnv layers a test environment over base: the package's own paths
// first, then its visible dependencies. HOME points at the test directory.
func TestEnv(base map[string]string, view *resolver.View, testPath string) map[string]string {
	env := WithSearchPaths(base, append([]resolver.Layout{view.Self()}, view.Layouts()...)...)
	env["HOME"] = testPath
	return env
}
