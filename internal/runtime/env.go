// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// InheritAll copies the whole host environment.
	InheritAll InheritMode = "all"
	// InheritNone starts from an empty environment.
	InheritNone InheritMode = "none"
	// InheritAllow copies only the listed host variables.
	InheritAllow InheritMode = "allow"
)

// ErrInvalidInheritMode is the sentinel error wrapped by InvalidInheritModeError.
var ErrInvalidInheritMode = errors.New("invalid env inherit mode")

type (
	// InheritMode selects which host variables a build environment starts with.
	InheritMode string

	// InvalidInheritModeError is returned when an InheritMode is unknown.
	InvalidInheritModeError struct {
		Value InheritMode
	}

	// HostEnv describes the base environment handed to every invocation.
	HostEnv struct {
		Mode  InheritMode
		Allow []string
		// Deny removes variables after inheritance, in every mode.
		Deny []string
		// Vars are set last and win over inherited values.
		Vars map[string]string
	}
)

// Error implements the error interface.
func (e *InvalidInheritModeError) Error() string {
	return fmt.Sprintf("invalid env inherit mode %q (valid: all, none, allow)", e.Value)
}

// Unwrap returns ErrInvalidInheritMode for errors.Is() compatibility.
func (e *InvalidInheritModeError) Unwrap() error { return ErrInvalidInheritMode }

// Validate returns an error if the mode is unknown. Empty means all.
func (m InheritMode) Validate() error {
	switch m {
	case "", InheritAll, InheritNone, InheritAllow:
		return nil
	default:
		return &InvalidInheritModeError{Value: m}
	}
}

// Build returns the base environment from the current process environment.
func (h HostEnv) Build() (map[string]string, error) {
	return h.BuildFrom(os.Environ())
}

// BuildFrom returns the base environment from an explicit KEY=VALUE list.
func (h HostEnv) BuildFrom(environ []string) (map[string]string, error) {
	if err := h.Mode.Validate(); err != nil {
		return nil, err
	}

	host := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if ok && key != "" {
			host[key] = value
		}
	}

	env := make(map[string]string)
	switch h.Mode {
	case "", InheritAll:
		maps.Copy(env, host)
	case InheritAllow:
		for _, key := range h.Allow {
			if v, ok := host[key]; ok {
				env[key] = v
			}
		}
	case InheritNone:
	}

	for _, key := range h.Deny {
		delete(env, key)
	}
	maps.Copy(env, h.Vars)
	return env, nil
}

// EnvToSlice converts an environment map to a sorted KEY=VALUE slice.
func EnvToSlice(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// PrependFlags prepends the space-separated words of flags to key, as for
// LDFLAGS or CPPFLAGS. The existing value is kept after them.
func PrependFlags(env map[string]string, key, flags string) {
	words := strings.Fields(flags)
	if len(words) == 0 {
		return
	}
	env[key] = strings.Join(append(words, strings.Fields(env[key])...), " ")
}

// PrependPath prepends dirs to the list-valued variable key, skipping
// entries already present.
func PrependPath(env map[string]string, key string, dirs ...string) {
	var existing []string
	if cur := env[key]; cur != "" {
		existing = filepath.SplitList(cur)
	}
	var head []string
	for _, d := range dirs {
		if d == "" || slices.Contains(head, d) || slices.Contains(existing, d) {
			continue
		}
		head = append(head, d)
	}
	if len(head) == 0 {
		return
	}
	env[key] = strings.Join(append(head, existing...), string(os.PathListSeparator))
}
