// SPDX-License-Identifier: MPL-2.0

// Package conflict guards the install root against two packages owning the
// same artifact key. Claims are taken before a package installs, committed
// to the ledger once it has, and released if it never gets there.
package conflict

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tapforge/tapforge/internal/ledger"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// ErrArtifactConflict is returned when a claim overlaps another package's claim.
var ErrArtifactConflict = errors.New("artifact conflict")

type (
	// Store persists committed claims. *ledger.Ledger satisfies it.
	Store interface {
		Entries() []ledger.Entry
		Record(ledger.Entry) error
		Remove(recipe.PackageName) error
	}

	// ArtifactConflictError names the package that already holds the claim.
	ArtifactConflictError struct {
		Package recipe.PackageName
		Holder  recipe.PackageName
		// Key is the shared artifact key; empty when the conflict comes from
		// a declaration rather than a key overlap.
		Key string
		// Installed is true when the holder was installed by an earlier run.
		Installed bool
	}

	// Registry tracks in-flight and committed claims. Safe for concurrent use.
	Registry struct {
		mu     sync.Mutex
		claims map[recipe.PackageName]*claim
		store  Store
		logger *slog.Logger
	}

	claim struct {
		name      recipe.PackageName
		keys      []string
		conflicts []string
		committed bool
	}
)

func (e *ArtifactConflictError) Error() string {
	holder := string(e.Holder)
	if e.Installed {
		holder += " (installed)"
	}
	if e.Key != "" {
		return fmt.Sprintf("artifact conflict: %s claims %q already owned by %s", e.Package, e.Key, holder)
	}
	return fmt.Sprintf("artifact conflict: %s and %s are declared conflicting; uninstall %s first", e.Package, holder, e.Holder)
}

func (e *ArtifactConflictError) Unwrap() error { return ErrArtifactConflict }

// New creates a Registry backed by store. A nil store keeps claims in memory only.
func New(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		claims: make(map[recipe.PackageName]*claim),
		store:  store,
		logger: logger,
	}
}

// Claim reserves keys for name. It fails if any key is held by another
// package, or if either side declares a conflict with the other, checking
// both in-flight claims and packages installed by earlier runs. A repeated
// claim by the same name replaces the previous one.
func (r *Registry) Claim(name recipe.PackageName, keys, conflictsWith []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &claim{name: name, keys: sortedCopy(keys), conflicts: sortedCopy(conflictsWith)}

	for _, other := range r.sortedClaims() {
		if other.name == name {
			continue
		}
		if err := c.against(other.name, other.keys, other.conflicts, other.committed); err != nil {
			return err
		}
	}
	if r.store != nil {
		for _, e := range r.store.Entries() {
			if e.Name == name {
				continue
			}
			if _, inFlight := r.claims[e.Name]; inFlight {
				continue
			}
			if err := c.against(e.Name, e.Keys, e.Conflicts, true); err != nil {
				return err
			}
		}
	}

	r.claims[name] = c
	r.logger.Debug("artifact keys claimed", "package", name, "keys", c.keys)
	return nil
}

func (c *claim) against(holder recipe.PackageName, keys, conflicts []string, installed bool) error {
	for _, k := range c.keys {
		if slices.Contains(keys, k) {
			return &ArtifactConflictError{Package: c.name, Holder: holder, Key: k, Installed: installed}
		}
	}
	if slices.Contains(c.conflicts, string(holder)) || slices.Contains(conflicts, string(c.name)) {
		return &ArtifactConflictError{Package: c.name, Holder: holder, Installed: installed}
	}
	return nil
}

// Release drops an uncommitted claim. Committed claims stay until Forget.
func (r *Registry) Release(name recipe.PackageName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.claims[name]; ok && !c.committed {
		delete(r.claims, name)
		r.logger.Debug("claim released", "package", name)
	}
}

// Commit persists the claim of entry.Name. Keys and conflicts are taken from
// the claim, the rest from entry.
func (r *Registry) Commit(entry ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.claims[entry.Name]
	if !ok {
		return fmt.Errorf("commit %s: no claim held", entry.Name)
	}
	entry.Keys = slices.Clone(c.keys)
	entry.Conflicts = slices.Clone(c.conflicts)
	if r.store != nil {
		if err := r.store.Record(entry); err != nil {
			return fmt.Errorf("commit %s: %w", entry.Name, err)
		}
	}
	c.committed = true
	return nil
}

// Forget removes the claim and the persisted record of name.
func (r *Registry) Forget(name recipe.PackageName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.claims, name)
	if r.store != nil {
		if err := r.store.Remove(name); err != nil {
			return fmt.Errorf("forget %s: %w", name, err)
		}
	}
	return nil
}

// Holder returns the package owning key, if any.
func (r *Registry) Holder(key string) (recipe.PackageName, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.sortedClaims() {
		if slices.Contains(c.keys, key) {
			return c.name, true
		}
	}
	if r.store != nil {
		for _, e := range r.store.Entries() {
			if slices.Contains(e.Keys, key) {
				return e.Name, true
			}
		}
	}
	return "", false
}

func (r *Registry) sortedClaims() []*claim {
	out := make([]*claim, 0, len(r.claims))
	for _, c := range r.claims {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *claim) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	return out
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}
