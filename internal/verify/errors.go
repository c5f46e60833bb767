// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tapforge/tapforge/pkg/recipe"
)

// MaxDetail bounds the expected and actual text kept in a TestFailedError.
const MaxDetail = 512

// ErrTestFailed is the sentinel error wrapped by TestFailedError.
var ErrTestFailed = errors.New("test failed")

// TestFailedError records the first failing check of a package's tests.
type TestFailedError struct {
	Package recipe.PackageName
	// Index is the 0-based position of the case among the active cases.
	Index int
	Case  string
	// Check describes what failed: "exit code", "stdout exact", "exists".
	Check    string
	Expected string
	Actual   string
	// Err is set when the case could not run at all.
	Err error
}

// Error implements the error interface.
func (e *TestFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("test %s of %s: %v", e.Case, e.Package, e.Err)
	}
	return fmt.Sprintf("test %s of %s: %s: expected %q, got %q", e.Case, e.Package, e.Check, e.Expected, e.Actual)
}

// Unwrap returns ErrTestFailed, plus the run error when there is one.
func (e *TestFailedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTestFailed, e.Err}
	}
	return []error{ErrTestFailed}
}

// truncate keeps at most MaxDetail bytes without splitting a UTF-8 sequence.
func truncate(s string) string {
	if len(s) <= MaxDetail {
		return s
	}
	end := MaxDetail
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
