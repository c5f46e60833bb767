// SPDX-License-Identifier: MPL-2.0

// Package verify runs the post-install smoke tests of a package.
//
// Cases run in declaration order inside one temporary directory, which
// <testpath> names. Fixtures are written there before each case. The first
// failing check stops the run with a TestFailedError.
package verify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/pkg/platform"
	"github.com/tapforge/tapforge/pkg/recipe"
)

type (
	// Runner executes the test cases of installed packages.
	Runner struct {
		Exec     runtime.Runner
		Resolver *resolver.Resolver
		Platform platform.Platform
		// BaseEnv is the host environment tests start from. Not modified.
		BaseEnv map[string]string
		// TempDir is where test directories are created; empty means os.TempDir.
		TempDir string
		Logger  *slog.Logger
	}

	// Result summarizes one package's test run.
	Result struct {
		Package  recipe.PackageName
		Passed   []string
		Duration time.Duration
	}
)

// NewRunner creates a Runner. A nil exec selects the default dispatcher and
// a nil logger slog.Default().
func NewRunner(exec runtime.Runner, res *resolver.Resolver, p platform.Platform, baseEnv map[string]string, logger *slog.Logger) *Runner {
	if exec == nil {
		exec = runtime.NewDispatcher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Exec:     exec,
		Resolver: res,
		Platform: p,
		BaseEnv:  baseEnv,
		Logger:   logger,
	}
}

// Verify runs the active test cases of spec built in mode. The package must
// be registered with the resolver; its runtime and optional dependencies are
// visible, its build-only dependencies are not. output, when non-nil,
// receives the combined output of every case.
func (r *Runner) Verify(ctx context.Context, spec *recipe.PackageSpec, mode recipe.BuildMode, output io.Writer) (*Result, error) {
	start := time.Now()
	result := &Result{Package: spec.Name}

	self, ok := r.Resolver.Lookup(spec.Name)
	if !ok {
		return result, &resolver.UnresolvedPathError{Package: spec.Name, Attr: recipe.AttrPrefix, Reason: "package is not installed"}
	}

	cases := spec.ActiveTestCases(mode, r.Platform)
	if len(cases) == 0 {
		r.logger().Debug("no test cases", "package", spec.Name)
		return result, nil
	}

	testPath, err := os.MkdirTemp(r.TempDir, "tapforge-test-"+string(spec.Name)+"-")
	if err != nil {
		return result, fmt.Errorf("failed to create test directory: %w", err)
	}
	defer os.RemoveAll(testPath)

	view := r.Resolver.View(spec.Name, self, runtimeDeps(spec, mode, r.Platform)).WithTestPath(testPath)
	env := runtime.TestEnv(r.BaseEnv, view, testPath)

	for i, c := range cases {
		label := c.Label(i)
		r.logger().Debug("running test case", "package", spec.Name, "case", label)
		if err := r.runCase(ctx, c, view, testPath, env, output); err != nil {
			err.Package, err.Index, err.Case = spec.Name, i, label
			result.Duration = time.Since(start)
			return result, err
		}
		result.Passed = append(result.Passed, label)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) runCase(ctx context.Context, c recipe.TestCase, view *resolver.View, testPath string, env map[string]string, output io.Writer) *TestFailedError {
	for _, f := range c.Fixtures {
		if err := writeFixture(testPath, f); err != nil {
			return &TestFailedError{Err: err}
		}
	}

	inv, err := runtime.FromStep(c.Step(), view, testPath, env)
	if err != nil {
		return &TestFailedError{Err: err}
	}
	inv.Output = output

	res := r.Exec.Run(ctx, inv)
	if res.Error != nil {
		return &TestFailedError{Err: res.Error}
	}
	if res.TimedOut {
		return &TestFailedError{Err: ctx.Err()}
	}
	if int(res.ExitCode) != c.ExitCode {
		return &TestFailedError{
			Check:    "exit code",
			Expected: strconv.Itoa(c.ExitCode),
			Actual:   res.ExitCode.String(),
		}
	}

	for _, m := range c.Expect {
		actual := stream(res, m.Stream)
		ok, err := Match(m, actual)
		if err != nil {
			return &TestFailedError{Err: err}
		}
		if !ok {
			s := m.Stream
			if s == "" {
				s = recipe.StreamStdout
			}
			return &TestFailedError{
				Check:    string(s) + " " + string(m.Match),
				Expected: truncate(m.Value),
				Actual:   truncate(actual),
			}
		}
	}

	for _, t := range c.Exists {
		path, err := view.Render(t)
		if err != nil {
			return &TestFailedError{Err: err}
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(testPath, filepath.FromSlash(path))
		}
		if _, err := os.Stat(path); err != nil {
			return &TestFailedError{Check: "exists", Expected: truncate(path), Actual: "missing"}
		}
	}
	return nil
}

func writeFixture(testPath string, f recipe.Fixture) error {
	if !filepath.IsLocal(filepath.FromSlash(f.Path)) {
		return fmt.Errorf("fixture %s: path escapes the test directory", f.Path)
	}
	data, err := f.Bytes()
	if err != nil {
		return err
	}
	path := filepath.Join(testPath, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fixture %s: %w", f.Path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("fixture %s: %w", f.Path, err)
	}
	return nil
}

func runtimeDeps(spec *recipe.PackageSpec, mode recipe.BuildMode, p platform.Platform) []recipe.PackageName {
	var out []recipe.PackageName
	for _, d := range spec.ActiveDependencies(mode, p) {
		if d.Kind != recipe.KindBuild {
			out = append(out, d.Name)
		}
	}
	return out
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
