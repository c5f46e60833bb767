// SPDX-License-Identifier: MPL-2.0

package prereg

import (
	"github.com/tapforge/tapforge/internal/ledger"
	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// Installed exposes the ledger of a root as a Versioned lookup.
type Installed struct {
	Ledger *ledger.Ledger
}

// Lookup implements resolver.Lookup.
func (i Installed) Lookup(name recipe.PackageName) (resolver.Layout, bool) {
	if i.Ledger == nil {
		return resolver.Layout{}, false
	}
	return i.Ledger.Lookup(name)
}

// InstalledVersion returns the recorded version of name.
func (i Installed) InstalledVersion(name recipe.PackageName) (string, bool) {
	if i.Ledger == nil {
		return "", false
	}
	e, ok := i.Ledger.Get(name)
	return e.Version, ok
}
