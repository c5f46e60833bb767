// SPDX-License-Identifier: MPL-2.0

// Package source locates the unpacked source tree of a package. Retrieval
// and extraction happen outside tapforge; a Provider only maps a recipe and
// build mode to a directory.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tapforge/tapforge/pkg/recipe"
)

// ErrSourceNotFound is the sentinel error wrapped by NotFoundError.
var ErrSourceNotFound = errors.New("source tree not found")

type (
	// Provider returns the source directory of spec in mode.
	Provider interface {
		Fetch(ctx context.Context, spec *recipe.PackageSpec, mode recipe.BuildMode) (string, error)
	}

	// DirProvider finds pre-extracted trees under Root.
	DirProvider struct {
		Root string
	}

	// NotFoundError lists the directories that were tried.
	NotFoundError struct {
		Package recipe.PackageName
		Mode    recipe.BuildMode
		Tried   []string
	}
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s source tree for %s (tried %s)", e.Mode, e.Package, strings.Join(e.Tried, ", "))
}

// Unwrap returns ErrSourceNotFound for errors.Is() compatibility.
func (e *NotFoundError) Unwrap() error { return ErrSourceNotFound }

// Candidates returns the directories Fetch looks at, most specific first:
// <name>-<version> for stable or <name>-head for head, then <name>.
func (p DirProvider) Candidates(spec *recipe.PackageSpec, mode recipe.BuildMode) []string {
	tag := spec.Version
	if mode == recipe.ModeHead {
		tag = "head"
	}
	return []string{
		filepath.Join(p.Root, string(spec.Name)+"-"+tag),
		filepath.Join(p.Root, string(spec.Name)),
	}
}

// Fetch returns the first existing candidate directory.
func (p DirProvider) Fetch(ctx context.Context, spec *recipe.PackageSpec, mode recipe.BuildMode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if mode == recipe.ModeHead && spec.Head == nil {
		return "", fmt.Errorf("%s: recipe has no head source", spec.Name)
	}

	tried := p.Candidates(spec, mode)
	for _, dir := range tried {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return "", err
			}
			return abs, nil
		}
	}
	return "", &NotFoundError{Package: spec.Name, Mode: mode, Tried: tried}
}
