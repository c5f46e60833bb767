// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
)

// Package states.
const (
	Pending    State = "pending"
	Skipped    State = "skipped"
	Building   State = "building"
	Failed     State = "failed"
	Installed  State = "installed"
	Tested     State = "tested"
	Verified   State = "verified"
	TestFailed State = "test-failed"
)

// ErrInvalidTransition is the sentinel error wrapped by InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

type (
	// State is the lifecycle position of one package in a build.
	State string

	// InvalidTransitionError describes a rejected state change.
	InvalidTransitionError struct {
		Package string
		From    State
		To      State
	}
)

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Package, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for errors.Is() compatibility.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case Skipped, Failed, Verified, TestFailed:
		return true
	default:
		return false
	}
}

// Installed reports whether the package is present in the root. Dependents
// may build against it.
func (s State) Installed() bool {
	return s == Installed || s == Tested || s == Verified
}

// CanTransition reports whether from -> to is a legal move. Pending may go
// straight to Failed when a dependency failed or the build was cancelled.
func CanTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Skipped || to == Building || to == Failed
	case Building:
		return to == Failed || to == Installed
	case Installed:
		return to == Tested
	case Tested:
		return to == Verified || to == TestFailed
	default:
		return false
	}
}
