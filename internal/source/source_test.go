// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tapforge/tapforge/pkg/recipe"
)

func TestDirProvider_Fetch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, d := range []string{"proj-9.4.1", "proj-head", "gdal"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	p := DirProvider{Root: root}
	proj := &recipe.PackageSpec{Name: "proj", Version: "9.4.1", Head: &recipe.Head{URL: "https://github.com/OSGeo/PROJ.git"}}
	gdal := &recipe.PackageSpec{Name: "gdal", Version: "3.9.0", Head: &recipe.Head{URL: "https://github.com/OSGeo/gdal.git"}}

	tests := []struct {
		name string
		spec *recipe.PackageSpec
		mode recipe.BuildMode
		want string
	}{
		{"stable versioned", proj, recipe.ModeStable, "proj-9.4.1"},
		{"head", proj, recipe.ModeHead, "proj-head"},
		{"fallback stable", gdal, recipe.ModeStable, "gdal"},
		{"fallback head", gdal, recipe.ModeHead, "gdal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := p.Fetch(context.Background(), tt.spec, tt.mode)
			if err != nil {
				t.Fatal(err)
			}
			if got != filepath.Join(root, tt.want) {
				t.Errorf("Fetch() = %q, want %q", got, filepath.Join(root, tt.want))
			}
		})
	}
}

func TestDirProvider_NotFound(t *testing.T) {
	t.Parallel()

	p := DirProvider{Root: t.TempDir()}
	_, err := p.Fetch(context.Background(), &recipe.PackageSpec{Name: "libtiff", Version: "4.6.0"}, recipe.ModeStable)
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || len(nf.Tried) != 2 {
		t.Errorf("expected two tried candidates, got %+v", nf)
	}

	if _, err := p.Fetch(context.Background(), &recipe.PackageSpec{Name: "libtiff"}, recipe.ModeHead); err == nil {
		t.Error("expected error for head mode without a head block")
	}
}
