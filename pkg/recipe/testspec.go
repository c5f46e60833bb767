// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"

	"github.com/tapforge/tapforge/pkg/platform"
)

// Output streams a matcher can inspect.
const (
	StreamStdout   Stream = "stdout"
	StreamStderr   Stream = "stderr"
	StreamCombined Stream = "combined"
)

// Matcher kinds.
const (
	MatchExact    MatchKind = "exact"
	MatchContains MatchKind = "contains"
	MatchRegex    MatchKind = "regex"
)

// Fixture encodings.
const (
	EncodingText   FixtureEncoding = "text"
	EncodingBase64 FixtureEncoding = "base64"
)

// ErrInvalidMatcher is returned when a matcher is malformed.
var ErrInvalidMatcher = errors.New("invalid matcher")

type (
	// Stream selects which captured output a matcher reads.
	Stream string

	// MatchKind selects the comparison a matcher performs.
	MatchKind string

	// FixtureEncoding says how Fixture.Content is stored.
	FixtureEncoding string

	// TestSpec is the post-install smoke test of a package.
	TestSpec struct {
		Cases []TestCase `json:"cases"`
	}

	// TestCase runs one command and checks its outcome.
	TestCase struct {
		Name      string              `json:"name,omitempty"`
		Tool      Tool                `json:"tool,omitempty"`
		Args      []Template          `json:"args"`
		Fixtures  []Fixture           `json:"fixtures,omitempty"`
		Expect    []Matcher           `json:"expect,omitempty"`
		Exists    []Template          `json:"exists,omitempty"`
		ExitCode  int                 `json:"exit_code"`
		Platforms *platform.Predicate `json:"platforms,omitempty"`
		Mode      BuildMode           `json:"mode,omitempty"`
	}

	// Fixture is a file written into the test directory before the case runs.
	Fixture struct {
		Path     string          `json:"path"`
		Content  string          `json:"content"`
		Encoding FixtureEncoding `json:"encoding,omitempty"`
	}

	// Matcher asserts on one output stream.
	Matcher struct {
		Stream Stream    `json:"stream,omitempty"`
		Match  MatchKind `json:"match"`
		Value  string    `json:"value"`
	}

	// InvalidMatcherError describes a matcher that cannot be evaluated.
	InvalidMatcherError struct {
		Matcher Matcher
		Reason  string
	}
)

func (e *InvalidMatcherError) Error() string {
	return fmt.Sprintf("invalid %s matcher on %s: %s", e.Matcher.Match, e.Matcher.Stream, e.Reason)
}

func (e *InvalidMatcherError) Unwrap() error { return ErrInvalidMatcher }

// Label returns the case name, or "case N" (1-based) for unnamed cases.
func (c TestCase) Label(index int) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("case %d", index+1)
}

// Validate checks stream, kind and, for regex matchers, compilation.
func (m Matcher) Validate() error {
	switch m.Stream {
	case "", StreamStdout, StreamStderr, StreamCombined:
	default:
		return &InvalidMatcherError{Matcher: m, Reason: "unknown stream"}
	}
	switch m.Match {
	case MatchExact, MatchContains:
		return nil
	case MatchRegex:
		if _, err := regexp.Compile(m.Value); err != nil {
			return &InvalidMatcherError{Matcher: m, Reason: err.Error()}
		}
		return nil
	default:
		return &InvalidMatcherError{Matcher: m, Reason: "unknown match kind"}
	}
}

// Bytes decodes the fixture content.
func (f Fixture) Bytes() ([]byte, error) {
	switch f.Encoding {
	case "", EncodingText:
		return []byte(f.Content), nil
	case EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", f.Path, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("fixture %s: unknown encoding %q", f.Path, f.Encoding)
	}
}

// Step returns the case as a build step so it runs through the same
// invocation rules. Cases default to the command tool.
func (c TestCase) Step() BuildStep {
	tool := c.Tool
	if tool == "" {
		tool = ToolCommand
	}
	return BuildStep{Tool: tool, Args: c.Args, Platforms: c.Platforms, Mode: c.Mode}
}
