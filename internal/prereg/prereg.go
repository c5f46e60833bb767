// SPDX-License-Identifier: MPL-2.0

// Package prereg answers whether a package is already present in or next
// to the install root without being part of the current plan: system
// libraries declared in configuration, and packages recorded by earlier runs.
package prereg

import (
	"slices"

	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/pkg/recipe"
)

type (
	// Static is a fixed name -> layout table, typically from configuration.
	Static map[recipe.PackageName]resolver.Layout

	// Chain consults each lookup in order and returns the first hit.
	Chain []resolver.Lookup

	// Versioned is a lookup that also knows installed versions. The planner
	// uses it to reuse dependencies already built at the wanted version.
	Versioned interface {
		resolver.Lookup
		InstalledVersion(name recipe.PackageName) (string, bool)
	}
)

// Lookup implements resolver.Lookup. Static entries are always external.
func (s Static) Lookup(name recipe.PackageName) (resolver.Layout, bool) {
	l, ok := s[name]
	if ok {
		l.External = true
	}
	return l, ok
}

// Names returns the table keys, sorted.
func (s Static) Names() []recipe.PackageName {
	out := make([]recipe.PackageName, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Lookup implements resolver.Lookup.
func (c Chain) Lookup(name recipe.PackageName) (resolver.Layout, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if layout, ok := l.Lookup(name); ok {
			return layout, true
		}
	}
	return resolver.Layout{}, false
}

// InstalledVersion reports the version from the first member that tracks versions.
func (c Chain) InstalledVersion(name recipe.PackageName) (string, bool) {
	for _, l := range c {
		v, ok := l.(Versioned)
		if !ok {
			continue
		}
		if version, found := v.InstalledVersion(name); found {
			return version, true
		}
	}
	return "", false
}
