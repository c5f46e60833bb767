// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// MaxOutputTail bounds the build output kept in a BuildFailedError.
const MaxOutputTail = 4096

var (
	// ErrBuildFailed is returned when a build step fails.
	ErrBuildFailed = errors.New("build failed")
	// ErrTimeout is returned when a package exceeds its time budget.
	ErrTimeout = errors.New("build timed out")
	// ErrDependencyFailed is returned for packages whose dependency did not
	// become usable.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrPlanHalted is returned for packages that never started because an
	// unrelated package failed and keep-going was off.
	ErrPlanHalted = errors.New("plan halted")
	// ErrUnsupportedPlatform is returned for packages skipped on this platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

type (
	// BuildFailedError describes the failing step of a package build.
	BuildFailedError struct {
		Package recipe.PackageName
		// Step is the 0-based index of the failing step among active steps;
		// -1 when the failure happened outside a step.
		Step     int
		Tool     recipe.Tool
		ExitCode runtime.ExitCode
		// Output is the tail of the step's combined output.
		Output string
		Err    error
	}

	// TimeoutError is returned when a package ran past its timeout.
	TimeoutError struct {
		Package recipe.PackageName
		Timeout time.Duration
	}

	// DependencyFailedError names the package whose failure blocked this one.
	DependencyFailedError struct {
		Package recipe.PackageName
		// Dependency is the direct dependency that did not become usable.
		Dependency recipe.PackageName
		// Cause is the package where the failure originated.
		Cause recipe.PackageName
	}

	// PlanHaltedError names the failure that stopped the plan.
	PlanHaltedError struct {
		Package recipe.PackageName
		Cause   recipe.PackageName
	}

	// UnsupportedPlatformError names the platform a package was skipped on.
	UnsupportedPlatformError struct {
		Package  recipe.PackageName
		Platform string
	}
)

// Error implements the error interface.
func (e *BuildFailedError) Error() string {
	switch {
	case e.Step < 0:
		return fmt.Sprintf("build of %s failed: %v", e.Package, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("build of %s failed at step %d (%s): %v", e.Package, e.Step+1, e.Tool, e.Err)
	default:
		return fmt.Sprintf("build of %s failed at step %d (%s): exit code %s", e.Package, e.Step+1, e.Tool, e.ExitCode)
	}
}

// Unwrap returns ErrBuildFailed, plus the underlying error when there is one.
func (e *BuildFailedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrBuildFailed, e.Err}
	}
	return []error{ErrBuildFailed}
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s", e.Package, e.Timeout)
}

// Unwrap returns ErrTimeout for errors.Is() compatibility.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Error implements the error interface.
func (e *DependencyFailedError) Error() string {
	if e.Dependency != e.Cause {
		return fmt.Sprintf("%s not built: dependency %s failed (caused by %s)", e.Package, e.Dependency, e.Cause)
	}
	return fmt.Sprintf("%s not built: dependency %s failed", e.Package, e.Cause)
}

// Unwrap returns ErrDependencyFailed for errors.Is() compatibility.
func (e *DependencyFailedError) Unwrap() error { return ErrDependencyFailed }

// Error implements the error interface.
func (e *PlanHaltedError) Error() string {
	return fmt.Sprintf("%s not started: build halted after %s failed", e.Package, e.Cause)
}

// Unwrap returns ErrPlanHalted for errors.Is() compatibility.
func (e *PlanHaltedError) Unwrap() error { return ErrPlanHalted }

// Error implements the error interface.
func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("%s is not supported on %s", e.Package, e.Platform)
}

// Unwrap returns ErrUnsupportedPlatform for errors.Is() compatibility.
func (e *UnsupportedPlatformError) Unwrap() error { return ErrUnsupportedPlatform }

// tail keeps at most the last MaxOutputTail bytes, starting on a rune boundary.
func tail(s string) string {
	if len(s) <= MaxOutputTail {
		return s
	}
	start := len(s) - MaxOutputTail
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
