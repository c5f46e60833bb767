// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"regexp"
	"strings"

	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// stream returns the captured output a matcher reads.
func stream(res *runtime.Result, s recipe.Stream) string {
	switch s {
	case recipe.StreamStderr:
		return res.Stderr
	case recipe.StreamCombined:
		return res.Combined
	default:
		return res.Stdout
	}
}

// Match evaluates m against actual. Exact matching ignores one trailing
// newline on each side and nothing else.
func Match(m recipe.Matcher, actual string) (bool, error) {
	switch m.Match {
	case recipe.MatchExact:
		return strings.TrimSuffix(actual, "\n") == strings.TrimSuffix(m.Value, "\n"), nil
	case recipe.MatchContains:
		return strings.Contains(actual, m.Value), nil
	case recipe.MatchRegex:
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return false, err
		}
		return re.MatchString(actual), nil
	default:
		return false, m.Validate()
	}
}
