// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"errors"
	"fmt"

	"github.com/tapforge/tapforge/pkg/recipe"
)

// ErrUnresolvedDependencyPath is returned when a placeholder names a
// package whose layout is not known. It signals an ordering problem and is
// never answered with an empty string.
var ErrUnresolvedDependencyPath = errors.New("unresolved dependency path")

// UnresolvedPathError names the package and attribute that could not be resolved.
type UnresolvedPathError struct {
	Package recipe.PackageName
	Attr    recipe.Attr
	Reason  string
}

func (e *UnresolvedPathError) Error() string {
	ref := string(e.Package)
	if e.Attr != "" {
		ref += ":" + string(e.Attr)
	}
	return fmt.Sprintf("unresolved dependency path %s: %s", ref, e.Reason)
}

func (e *UnresolvedPathError) Unwrap() error { return ErrUnresolvedDependencyPath }
