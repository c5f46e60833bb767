// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// Layout attributes a placeholder can reference.
const (
	AttrPrefix         Attr = "prefix"
	AttrBin            Attr = "bin"
	AttrLib            Attr = "lib"
	AttrInclude        Attr = "include"
	AttrShare          Attr = "share"
	AttrConfigToolPath Attr = "config-tool-path"
)

// Placeholder kinds.
const (
	RefDep      RefKind = "dep"
	RefSelf     RefKind = "self"
	RefSource   RefKind = "source"
	RefTestPath RefKind = "testpath"
)

// ErrInvalidPlaceholder is returned for a malformed placeholder.
var ErrInvalidPlaceholder = errors.New("invalid placeholder")

type (
	// Template is an argument string that may contain placeholders.
	Template string

	// Attr names one path of a package layout.
	Attr string

	// RefKind distinguishes the placeholder forms.
	RefKind string

	// Placeholder is one parsed reference inside a Template.
	Placeholder struct {
		Kind    RefKind
		Package PackageName
		Attr    Attr
		Raw     string
	}

	// InvalidPlaceholderError carries the offending text.
	InvalidPlaceholderError struct {
		Raw    string
		Reason string
	}

	// ExpandFunc supplies the value of one placeholder.
	ExpandFunc func(Placeholder) (string, error)
)

func (e *InvalidPlaceholderError) Error() string {
	return fmt.Sprintf("invalid placeholder %q: %s", e.Raw, e.Reason)
}

func (e *InvalidPlaceholderError) Unwrap() error { return ErrInvalidPlaceholder }

// Validate accepts the six layout attributes.
func (a Attr) Validate() error {
	switch a {
	case AttrPrefix, AttrBin, AttrLib, AttrInclude, AttrShare, AttrConfigToolPath:
		return nil
	default:
		return fmt.Errorf("unknown layout attribute %q", a)
	}
}

func (p Placeholder) String() string {
	if p.Raw != "" {
		return p.Raw
	}
	switch p.Kind {
	case RefDep:
		return "<dep:" + string(p.Package) + ":" + string(p.Attr) + ">"
	case RefSelf:
		return "<self:" + string(p.Attr) + ">"
	default:
		return "<" + string(p.Kind) + ">"
	}
}

// Placeholders returns every placeholder in t in order of appearance.
func (t Template) Placeholders() ([]Placeholder, error) {
	var out []Placeholder
	_, err := t.Expand(func(p Placeholder) (string, error) {
		out = append(out, p)
		return "", nil
	})
	return out, err
}

// Expand replaces every placeholder with the value fn returns. Text that only
// looks like a redirection or comparison ("<", "<<EOF", "<3") is left alone.
func (t Template) Expand(fn ExpandFunc) (string, error) {
	s := string(t)
	var b strings.Builder
	for {
		start := nextPlaceholder(s)
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		b.WriteString(s[:start])
		end := strings.IndexByte(s[start:], '>')
		if end < 0 {
			return "", &InvalidPlaceholderError{Raw: s[start:], Reason: "missing closing '>'"}
		}
		raw := s[start : start+end+1]
		p, err := parsePlaceholder(raw)
		if err != nil {
			return "", err
		}
		val, err := fn(p)
		if err != nil {
			return "", err
		}
		b.WriteString(val)
		s = s[start+end+1:]
	}
}

func (t Template) String() string { return string(t) }

// nextPlaceholder finds the next '<' that opens one of the known forms.
func nextPlaceholder(s string) int {
	offset := 0
	for {
		i := strings.IndexByte(s[offset:], '<')
		if i < 0 {
			return -1
		}
		rest := s[offset+i+1:]
		if strings.HasPrefix(rest, "dep:") || strings.HasPrefix(rest, "self:") ||
			strings.HasPrefix(rest, "source>") || strings.HasPrefix(rest, "testpath>") {
			return offset + i
		}
		offset += i + 1
	}
}

func parsePlaceholder(raw string) (Placeholder, error) {
	body := strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
	parts := strings.Split(body, ":")
	p := Placeholder{Kind: RefKind(parts[0]), Raw: raw}

	switch p.Kind {
	case RefSource, RefTestPath:
		if len(parts) != 1 {
			return Placeholder{}, &InvalidPlaceholderError{Raw: raw, Reason: "takes no arguments"}
		}
	case RefSelf:
		if len(parts) != 2 {
			return Placeholder{}, &InvalidPlaceholderError{Raw: raw, Reason: "expected <self:ATTR>"}
		}
		p.Attr = Attr(parts[1])
	case RefDep:
		if len(parts) != 3 {
			return Placeholder{}, &InvalidPlaceholderError{Raw: raw, Reason: "expected <dep:NAME:ATTR>"}
		}
		p.Package = PackageName(parts[1])
		if err := p.Package.Validate(); err != nil {
			return Placeholder{}, &InvalidPlaceholderError{Raw: raw, Reason: err.Error()}
		}
		p.Attr = Attr(parts[2])
	default:
		return Placeholder{}, &InvalidPlaceholderError{Raw: raw, Reason: "unknown kind"}
	}

	if p.Attr != "" {
		if err := p.Attr.Validate(); err != nil {
			return Placeholder{}, &InvalidPlaceholderError{Raw: raw, Reason: err.Error()}
		}
	}
	return p, nil
}
