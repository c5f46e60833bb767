// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"fmt"
	"slices"

	"github.com/tapforge/tapforge/pkg/recipe"
)

// View is the resolver as seen by one package: only the listed
// dependencies are visible, and <self:*>, <source> and <testpath> resolve
// against the values set on the view. Build-only dependencies are in the
// build view and absent from the test view.
type View struct {
	r        *Resolver
	owner    recipe.PackageName
	allowed  []recipe.PackageName
	self     Layout
	source   string
	testPath string
}

// View returns a scope for owner that can see the allowed dependencies.
func (r *Resolver) View(owner recipe.PackageName, self Layout, allowed []recipe.PackageName) *View {
	a := slices.Clone(allowed)
	slices.Sort(a)
	return &View{r: r, owner: owner, allowed: slices.Compact(a), self: self}
}

// WithSource returns a copy of v with <source> bound to dir.
func (v *View) WithSource(dir string) *View {
	c := *v
	c.source = dir
	return &c
}

// WithTestPath returns a copy of v with <testpath> bound to dir.
func (v *View) WithTestPath(dir string) *View {
	c := *v
	c.testPath = dir
	return &c
}

// Self returns the owner's layout.
func (v *View) Self() Layout { return v.self }

// Visible reports whether name is in scope.
func (v *View) Visible(name recipe.PackageName) bool {
	_, ok := slices.BinarySearch(v.allowed, name)
	return ok
}

// Layouts returns the layouts of visible dependencies that are resolvable,
// in name order. Used to build search paths.
func (v *View) Layouts() []Layout {
	out := make([]Layout, 0, len(v.allowed))
	for _, n := range v.allowed {
		if l, ok := v.r.Lookup(n); ok {
			out = append(out, l)
		}
	}
	return out
}

// Render expands every placeholder in t.
func (v *View) Render(t recipe.Template) (string, error) {
	return t.Expand(v.resolve)
}

// RenderAll expands a list of templates.
func (v *View) RenderAll(ts []recipe.Template) ([]string, error) {
	out := make([]string, len(ts))
	for i, t := range ts {
		s, err := v.Render(t)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (v *View) resolve(p recipe.Placeholder) (string, error) {
	switch p.Kind {
	case recipe.RefSelf:
		path, ok := v.self.Path(p.Attr)
		if !ok {
			return "", &UnresolvedPathError{Package: v.owner, Attr: p.Attr, Reason: "package declares no config tool"}
		}
		return path, nil
	case recipe.RefSource:
		if v.source == "" {
			return "", fmt.Errorf("%s: no source directory in this scope", p)
		}
		return v.source, nil
	case recipe.RefTestPath:
		if v.testPath == "" {
			return "", fmt.Errorf("%s: only available while testing", p)
		}
		return v.testPath, nil
	case recipe.RefDep:
		if !v.Visible(p.Package) {
			return "", &UnresolvedPathError{
				Package: p.Package,
				Attr:    p.Attr,
				Reason:  fmt.Sprintf("not a dependency of %s in this phase", v.owner),
			}
		}
		return v.r.resolveDep(p.Package, p.Attr)
	default:
		return "", fmt.Errorf("unknown placeholder %s", p)
	}
}
