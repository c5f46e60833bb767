// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"path/filepath"

	"github.com/tapforge/tapforge/pkg/recipe"
)

// OptDir is the directory under the root that holds package prefixes.
const OptDir = "opt"

// Layout is the set of install paths of one package.
type Layout struct {
	Prefix     string `toml:"prefix"`
	ConfigTool string `toml:"config_tool,omitempty"`
	// External marks layouts provided outside tapforge (system libraries).
	External bool `toml:"-"`
}

// PrefixFor returns the prefix a package installs into under root.
func PrefixFor(root string, name recipe.PackageName) string {
	return filepath.Join(root, OptDir, string(name))
}

// PlannedLayout is the layout name will have once installed into root.
func PlannedLayout(root string, spec *recipe.PackageSpec) Layout {
	return Layout{Prefix: PrefixFor(root, spec.Name), ConfigTool: spec.ConfigTool}
}

// Path returns the attribute's path. It reports false only for
// config-tool-path on a package that declares no config tool.
func (l Layout) Path(attr recipe.Attr) (string, bool) {
	switch attr {
	case recipe.AttrPrefix:
		return l.Prefix, true
	case recipe.AttrBin:
		return filepath.Join(l.Prefix, "bin"), true
	case recipe.AttrLib:
		return filepath.Join(l.Prefix, "lib"), true
	case recipe.AttrInclude:
		return filepath.Join(l.Prefix, "include"), true
	case recipe.AttrShare:
		return filepath.Join(l.Prefix, "share"), true
	case recipe.AttrConfigToolPath:
		if l.ConfigTool == "" {
			return "", false
		}
		return filepath.Join(l.Prefix, filepath.FromSlash(l.ConfigTool)), true
	default:
		return "", false
	}
}
