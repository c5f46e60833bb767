// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tapforge/tapforge/pkg/recipe"
)

var (
	// ErrUnknownDependency is returned when a name matches no recipe and no pre-existing package.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCyclicDependency is returned when the build and runtime relation has a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrConflictingPackages is returned when two planned packages are declared conflicting.
	ErrConflictingPackages = errors.New("conflicting packages")

	// ErrNoHeadSource is returned when head mode is requested for a recipe without a head block.
	ErrNoHeadSource = errors.New("no head source")
)

type (
	// UnknownDependencyError names the missing package and who asked for it.
	// Package is empty when the name was requested as a target.
	UnknownDependencyError struct {
		Package    recipe.PackageName
		Dependency recipe.PackageName
	}

	// CyclicDependencyError carries the full cycle in depends-on order,
	// first package repeated at the end: [A B A] reads "A depends on B
	// depends on A".
	CyclicDependencyError struct {
		Cycle []recipe.PackageName
	}

	// ConflictingPackagesError names both packages and the declared reason.
	ConflictingPackagesError struct {
		A, B   recipe.PackageName
		Reason string
	}
)

func (e *UnknownDependencyError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("unknown package %q", e.Dependency)
	}
	return fmt.Sprintf("%s depends on unknown package %q", e.Package, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, n := range e.Cycle {
		parts[i] = string(n)
	}
	return "cyclic dependency: " + strings.Join(parts, " -> ")
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

func (e *ConflictingPackagesError) Error() string {
	msg := fmt.Sprintf("%s conflicts with %s", e.A, e.B)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConflictingPackagesError) Unwrap() error { return ErrConflictingPackages }
