// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// shellStandIn replaces placeholders while checking snippet syntax, since a
// raw "<self:prefix>" would read as a redirection.
const shellStandIn = "/__tapforge_placeholder__"

// CheckShellSyntax parses a shell snippet with the POSIX-compatible parser
// used at execution time.
func CheckShellSyntax(snippet Template, name string) error {
	text, err := snippet.Expand(func(Placeholder) (string, error) { return shellStandIn, nil })
	if err != nil {
		return err
	}
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	if _, err := parser.Parse(strings.NewReader(text), name); err != nil {
		return fmt.Errorf("shell syntax: %w", err)
	}
	return nil
}
