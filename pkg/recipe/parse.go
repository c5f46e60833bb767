// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tapforge/tapforge/pkg/cueutil"
)

// RecipeExt is the file extension of recipe files.
const RecipeExt = ".cue"

var (
	//go:embed recipe_schema.cue
	recipeSchema string

	// ErrDuplicatePackage is returned when two recipe files declare the same name.
	ErrDuplicatePackage = errors.New("duplicate package")
)

type (
	// Tap is a loaded set of recipes keyed by package name.
	Tap struct {
		specs map[PackageName]*PackageSpec
	}

	// DuplicatePackageError names both files declaring the same package.
	DuplicatePackageError struct {
		Name  PackageName
		First string
		Again string
	}
)

func (e *DuplicatePackageError) Error() string {
	return fmt.Sprintf("package %q declared in both %s and %s", e.Name, e.First, e.Again)
}

func (e *DuplicatePackageError) Unwrap() error { return ErrDuplicatePackage }

// Parse reads and parses a recipe file.
func Parse(path string) (*PackageSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe at %s: %w", path, err)
	}
	return ParseBytes(data, path)
}

// ParseBytes parses recipe content. It runs the CUE schema, normalizes
// omitted dependency kinds to runtime and then applies Go-level validation.
func ParseBytes(data []byte, path string) (*PackageSpec, error) {
	result, err := cueutil.ParseAndDecodeString[PackageSpec](
		recipeSchema,
		data,
		"#Recipe",
		cueutil.WithFilename(path),
	)
	if err != nil {
		return nil, err
	}

	spec := result.Value
	spec.FilePath = path
	normalizeKinds(spec)

	if errs := spec.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", path, errs)
	}
	return spec, nil
}

func normalizeKinds(spec *PackageSpec) {
	for i := range spec.Dependencies {
		if spec.Dependencies[i].Kind == "" {
			slog.Debug("dependency kind omitted, treating as runtime",
				"package", spec.Name, "dependency", spec.Dependencies[i].Name)
			spec.Dependencies[i].Kind = KindRuntime
		}
	}
	if spec.Head != nil {
		for i := range spec.Head.Dependencies {
			spec.Head.Dependencies[i].Kind = KindBuild
		}
	}
}

// NewTap builds a tap from already parsed specs.
func NewTap(specs ...*PackageSpec) (*Tap, error) {
	t := &Tap{specs: make(map[PackageName]*PackageSpec, len(specs))}
	for _, s := range specs {
		if prev, ok := t.specs[s.Name]; ok {
			return nil, &DuplicatePackageError{Name: s.Name, First: prev.FilePath, Again: s.FilePath}
		}
		t.specs[s.Name] = s
	}
	return t, nil
}

// LoadTap parses every recipe file under dirs. Missing directories are
// skipped; parse errors from all files are joined.
func LoadTap(dirs ...string) (*Tap, error) {
	var (
		specs []*PackageSpec
		errs  []error
	)
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != RecipeExt {
				return nil
			}
			spec, perr := Parse(path)
			if perr != nil {
				errs = append(errs, perr)
				return nil
			}
			specs = append(specs, spec)
			return nil
		})
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("recipe path does not exist", "path", dir)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("scanning %s: %w", dir, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewTap(specs...)
}

// Get returns the spec for name.
func (t *Tap) Get(name PackageName) (*PackageSpec, bool) {
	s, ok := t.specs[name]
	return s, ok
}

// Names returns all package names in lexicographic order.
func (t *Tap) Names() []PackageName {
	names := make([]PackageName, 0, len(t.specs))
	for n := range t.specs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of recipes.
func (t *Tap) Len() int { return len(t.specs) }
