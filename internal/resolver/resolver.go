// SPDX-License-Identifier: MPL-2.0

// Package resolver maps package names to install layouts and renders
// argument templates against them. Layouts accumulate as packages finish
// installing and are removed only by uninstall.
package resolver

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tapforge/tapforge/pkg/recipe"
)

type (
	// Lookup answers whether a package is already present outside this run.
	Lookup interface {
		Lookup(name recipe.PackageName) (Layout, bool)
	}

	// Resolver is the shared name -> layout table. Safe for concurrent use.
	Resolver struct {
		mu       sync.RWMutex
		layouts  map[recipe.PackageName]Layout
		fallback Lookup
		logger   *slog.Logger
	}

	// Option configures a Resolver.
	Option func(*Resolver)
)

// WithFallback consults l for names that were never registered.
func WithFallback(l Lookup) Option {
	return func(r *Resolver) { r.fallback = l }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates an empty Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		layouts: make(map[recipe.PackageName]Layout),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a package installed by this run.
func (r *Resolver) Register(name recipe.PackageName, prefix, configTool string) {
	r.put(name, Layout{Prefix: prefix, ConfigTool: configTool})
}

// RegisterExternal records a package provided outside tapforge.
func (r *Resolver) RegisterExternal(name recipe.PackageName, prefix, configTool string) {
	r.put(name, Layout{Prefix: prefix, ConfigTool: configTool, External: true})
}

func (r *Resolver) put(name recipe.PackageName, l Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layouts[name] = l
	r.logger.Debug("layout registered", "package", name, "prefix", l.Prefix, "external", l.External)
}

// Unregister forgets a package's layout.
func (r *Resolver) Unregister(name recipe.PackageName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.layouts, name)
}

// Lookup returns the registered layout, falling back to the pre-existing
// registry when one is configured.
func (r *Resolver) Lookup(name recipe.PackageName) (Layout, bool) {
	r.mu.RLock()
	l, ok := r.layouts[name]
	r.mu.RUnlock()
	if ok {
		return l, true
	}
	if r.fallback != nil {
		return r.fallback.Lookup(name)
	}
	return Layout{}, false
}

// Registered lists the names registered in this resolver, sorted.
func (r *Resolver) Registered() []recipe.PackageName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]recipe.PackageName, 0, len(r.layouts))
	for n := range r.layouts {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the path one dependency placeholder refers to, e.g.
// "<dep:libtiff:lib>". Only dependency placeholders can be resolved without
// a package scope; use View for the others.
func (r *Resolver) Resolve(placeholder string) (string, error) {
	var (
		out   string
		count int
	)
	_, err := recipe.Template(placeholder).Expand(func(p recipe.Placeholder) (string, error) {
		count++
		if p.Kind != recipe.RefDep {
			return "", fmt.Errorf("%s needs a package scope", p)
		}
		v, err := r.resolveDep(p.Package, p.Attr)
		out = v
		return v, err
	})
	if err != nil {
		return "", err
	}
	if count != 1 {
		return "", fmt.Errorf("%q is not a single placeholder", placeholder)
	}
	return out, nil
}

// Render expands every dependency placeholder in t.
func (r *Resolver) Render(t recipe.Template) (string, error) {
	return t.Expand(func(p recipe.Placeholder) (string, error) {
		if p.Kind != recipe.RefDep {
			return "", fmt.Errorf("%s needs a package scope", p)
		}
		return r.resolveDep(p.Package, p.Attr)
	})
}

func (r *Resolver) resolveDep(name recipe.PackageName, attr recipe.Attr) (string, error) {
	l, ok := r.Lookup(name)
	if !ok {
		return "", &UnresolvedPathError{Package: name, Attr: attr, Reason: "package is not installed or registered"}
	}
	path, ok := l.Path(attr)
	if !ok {
		return "", &UnresolvedPathError{Package: name, Attr: attr, Reason: "package declares no config tool"}
	}
	return path, nil
}
