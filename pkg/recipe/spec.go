// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"slices"

	"github.com/tapforge/tapforge/pkg/platform"
)

// ActiveDependencies returns the dependencies in effect for mode on p:
// the base list filtered by platform, plus the head-only build dependencies
// when mode is head. Order follows the recipe, base list first.
func (s *PackageSpec) ActiveDependencies(mode BuildMode, p platform.Platform) []Dependency {
	var out []Dependency
	for _, d := range s.Dependencies {
		if d.Platforms.Matches(p) {
			out = append(out, d)
		}
	}
	if mode == ModeHead && s.Head != nil {
		for _, d := range s.Head.Dependencies {
			if !d.Platforms.Matches(p) {
				continue
			}
			d.Kind = KindBuild
			out = append(out, d)
		}
	}
	return out
}

// ActiveSteps returns the build steps that run for mode on p.
func (s *PackageSpec) ActiveSteps(mode BuildMode, p platform.Platform) []BuildStep {
	var out []BuildStep
	for _, st := range s.Steps {
		if st.Mode.Applies(mode) && st.Platforms.Matches(p) {
			out = append(out, st)
		}
	}
	return out
}

// ActiveTestCases returns the test cases that run for mode on p.
func (s *PackageSpec) ActiveTestCases(mode BuildMode, p platform.Platform) []TestCase {
	if s.Test == nil {
		return nil
	}
	var out []TestCase
	for _, c := range s.Test.Cases {
		if c.Mode.Applies(mode) && c.Platforms.Matches(p) {
			out = append(out, c)
		}
	}
	return out
}

// SupportsMode reports whether the recipe can be built in mode.
func (s *PackageSpec) SupportsMode(mode BuildMode) bool {
	return mode != ModeHead || s.Head != nil
}

// SourceURL returns the source location for mode. Stable and head never mix.
func (s *PackageSpec) SourceURL(mode BuildMode) string {
	if mode == ModeHead && s.Head != nil {
		return s.Head.URL
	}
	return s.Source.URL
}

// ArtifactKeys returns the package name and its declared aliases, sorted
// and deduplicated.
func (s *PackageSpec) ArtifactKeys() []string {
	keys := append([]string{string(s.Name)}, s.Artifacts...)
	slices.Sort(keys)
	return slices.Compact(keys)
}

// ConflictsWith returns the declaration naming other, if any.
func (s *PackageSpec) ConflictsWith(other PackageName) (ConflictDeclaration, bool) {
	for _, c := range s.Conflicts {
		if c.Name == other {
			return c, true
		}
	}
	return ConflictDeclaration{}, false
}

// ConflictNames lists the names this package declares conflicts with.
func (s *PackageSpec) ConflictNames() []string {
	out := make([]string, 0, len(s.Conflicts))
	for _, c := range s.Conflicts {
		out = append(out, string(c.Name))
	}
	return out
}
