// SPDX-License-Identifier: MPL-2.0

// Package ledger persists which packages are installed in a root and which
// artifact keys they own. The ledger is a TOML document read at startup and
// rewritten under an exclusive file lock after every install or uninstall.
package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"lukechampine.com/blake3"

	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/pkg/recipe"
)

const (
	// FormatVersion is written into every ledger file.
	FormatVersion = "1"

	// RelPath is the ledger location relative to the install root.
	RelPath = "var/tapforge/claims.toml"
)

// ErrChecksumMismatch is returned when the stored checksum does not match the entries.
var ErrChecksumMismatch = errors.New("ledger checksum mismatch")

type (
	// Entry records one installed package.
	Entry struct {
		Name        recipe.PackageName `toml:"name"`
		Version     string             `toml:"version"`
		Mode        recipe.BuildMode   `toml:"mode,omitempty"`
		Prefix      string             `toml:"prefix"`
		ConfigTool  string             `toml:"config_tool,omitempty"`
		Keys        []string           `toml:"keys"`
		Conflicts   []string           `toml:"conflicts,omitempty"`
		InstalledAt time.Time          `toml:"installed_at"`
	}

	// Ledger is the in-memory view of one root's claims file.
	Ledger struct {
		mu      sync.RWMutex
		path    string
		entries map[recipe.PackageName]Entry
	}

	document struct {
		Version  string  `toml:"version"`
		Checksum string  `toml:"checksum"`
		Packages []Entry `toml:"package"`
	}
)

// PathFor returns the ledger file for root.
func PathFor(root string) string {
	return filepath.Join(root, filepath.FromSlash(RelPath))
}

// Open loads the ledger of root. A missing file yields an empty ledger.
func Open(root string) (*Ledger, error) {
	l := &Ledger{path: PathFor(root), entries: make(map[recipe.PackageName]Entry)}
	entries, err := read(l.path)
	if err != nil {
		return nil, err
	}
	l.entries = entries
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Get returns the entry for name.
func (l *Ledger) Get(name recipe.PackageName) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	return e, ok
}

// Entries returns all entries sorted by name.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedEntries(l.entries)
}

// Lookup exposes recorded installs as layouts, so the ledger can back the
// pre-existing package registry.
func (l *Ledger) Lookup(name recipe.PackageName) (resolver.Layout, bool) {
	e, ok := l.Get(name)
	if !ok {
		return resolver.Layout{}, false
	}
	return resolver.Layout{Prefix: e.Prefix, ConfigTool: e.ConfigTool}, true
}

// Record adds or replaces an entry and saves the ledger.
func (l *Ledger) Record(e Entry) error {
	if e.InstalledAt.IsZero() {
		e.InstalledAt = time.Now().UTC()
	}
	slices.Sort(e.Keys)
	return l.update(func(m map[recipe.PackageName]Entry) {
		m[e.Name] = e
	})
}

// Remove drops an entry and saves the ledger. Removing an unknown name is a no-op.
func (l *Ledger) Remove(name recipe.PackageName) error {
	return l.update(func(m map[recipe.PackageName]Entry) {
		delete(m, name)
	})
}

// update applies fn under the file lock. The file is re-read first so
// writes from concurrent processes are not lost.
func (l *Ledger) update(fn func(map[recipe.PackageName]Entry)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	lock, err := acquireFileLock(l.path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	current, err := read(l.path)
	if err != nil {
		return err
	}
	fn(current)

	if err := write(l.path, current); err != nil {
		return err
	}
	l.entries = current
	slog.Debug("ledger saved", "path", l.path, "packages", len(current))
	return nil
}

func read(path string) (map[recipe.PackageName]Entry, error) {
	entries := make(map[recipe.PackageName]Entry)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	sum, err := checksum(doc.Packages)
	if err != nil {
		return nil, err
	}
	if sum != doc.Checksum {
		return nil, fmt.Errorf("%s: %w", path, ErrChecksumMismatch)
	}
	for _, e := range doc.Packages {
		entries[e.Name] = e
	}
	return entries, nil
}

func write(path string, entries map[recipe.PackageName]Entry) error {
	doc := document{Version: FormatVersion, Packages: sortedEntries(entries)}
	sum, err := checksum(doc.Packages)
	if err != nil {
		return err
	}
	doc.Checksum = sum

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename ledger: %w", err)
	}
	return nil
}

// checksum is the blake3 digest of the TOML encoding of the entry set.
func checksum(entries []Entry) (string, error) {
	data, err := toml.Marshal(struct {
		Packages []Entry `toml:"package"`
	}{entries})
	if err != nil {
		return "", fmt.Errorf("failed to encode ledger entries: %w", err)
	}
	h := blake3.New(32, nil)
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortedEntries(m map[recipe.PackageName]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
