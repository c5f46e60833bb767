// SPDX-License-Identifier: MPL-2.0

// Package plan turns a set of recipes and requested targets into a
// validated, ordered build plan. Graph errors are detected here, before any
// build activity, so a failed plan has no side effects.
package plan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"lukechampine.com/blake3"

	"github.com/tapforge/tapforge/internal/dag"
	"github.com/tapforge/tapforge/internal/prereg"
	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/pkg/platform"
	"github.com/tapforge/tapforge/pkg/recipe"
)

type (
	// Specs is where the planner finds recipes. *recipe.Tap satisfies it.
	Specs interface {
		Get(name recipe.PackageName) (*recipe.PackageSpec, bool)
	}

	// Options control one planning pass.
	Options struct {
		// Platform is the active platform predicates are evaluated against.
		Platform platform.Platform
		// Mode applies to the targets. Dependencies always build stable.
		Mode recipe.BuildMode
		// RebuildDependencies disables reuse of dependencies already
		// installed at the wanted version.
		RebuildDependencies bool
		// Preexisting resolves names no recipe provides, and reports
		// installed versions for reuse. May be nil.
		Preexisting resolver.Lookup
		Logger      *slog.Logger
	}

	// Edge is one dependency of a node.
	Edge struct {
		Name recipe.PackageName
		Kind recipe.DependencyKind
		// Planned is false when the dependency is satisfied outside the
		// plan, by an external package or a reused install.
		Planned bool
	}

	// Node is one package the plan will build.
	Node struct {
		Spec   *recipe.PackageSpec
		Mode   recipe.BuildMode
		Target bool
		Deps   []Edge
	}

	// Reuse records a dependency satisfied by an existing install.
	Reuse struct {
		Name     recipe.PackageName
		Version  string
		External bool
	}

	// Plan is a validated build order for a target set.
	Plan struct {
		Order       []*Node
		Targets     []recipe.PackageName
		Reused      []Reuse
		Dropped     []Edge
		Platform    platform.Platform
		Fingerprint string

		index      map[recipe.PackageName]*Node
		dependents map[recipe.PackageName][]recipe.PackageName
	}

	planner struct {
		specs   Specs
		opts    Options
		targets map[recipe.PackageName]bool
		nodes   map[recipe.PackageName]*Node
		reused  map[recipe.PackageName]Reuse
		dropped []Edge
	}
)

// Name returns the package name of the node.
func (n *Node) Name() recipe.PackageName { return n.Spec.Name }

// BuildOnly lists planned and pre-existing build-only dependencies. They are
// visible while building and evicted afterwards.
func (n *Node) BuildOnly() []recipe.PackageName {
	return n.depNames(func(e Edge) bool { return e.Kind == recipe.KindBuild })
}

// RuntimeDeps lists runtime and optional dependencies.
func (n *Node) RuntimeDeps() []recipe.PackageName {
	return n.depNames(func(e Edge) bool { return e.Kind != recipe.KindBuild })
}

// AllDeps lists every dependency name.
func (n *Node) AllDeps() []recipe.PackageName {
	return n.depNames(func(Edge) bool { return true })
}

func (n *Node) depNames(keep func(Edge) bool) []recipe.PackageName {
	var out []recipe.PackageName
	for _, e := range n.Deps {
		if keep(e) {
			out = append(out, e.Name)
		}
	}
	return out
}

// Resolve validates specs against targets and returns an ordered plan.
// Identical inputs yield an identical order and fingerprint.
func Resolve(specs Specs, targets []recipe.PackageName, opts Options) (*Plan, error) {
	if opts.Mode == "" {
		opts.Mode = recipe.ModeStable
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &planner{
		specs:   specs,
		opts:    opts,
		targets: make(map[recipe.PackageName]bool, len(targets)),
		nodes:   make(map[recipe.PackageName]*Node),
		reused:  make(map[recipe.PackageName]Reuse),
	}

	sortedTargets := slices.Clone(targets)
	slices.Sort(sortedTargets)
	sortedTargets = slices.Compact(sortedTargets)
	for _, t := range sortedTargets {
		p.targets[t] = true
	}
	for _, t := range sortedTargets {
		if err := p.visit(t); err != nil {
			return nil, err
		}
	}

	order, err := p.order()
	if err != nil {
		return nil, err
	}
	if err := p.checkConflicts(order); err != nil {
		return nil, err
	}

	return p.build(sortedTargets, order), nil
}

// visit adds name and its transitive dependencies to the closure.
func (p *planner) visit(name recipe.PackageName) error {
	if _, ok := p.nodes[name]; ok {
		return nil
	}
	spec, ok := p.specs.Get(name)
	if !ok {
		return &UnknownDependencyError{Dependency: name}
	}

	mode := recipe.ModeStable
	if p.targets[name] {
		mode = p.opts.Mode
	}
	if !spec.SupportsMode(mode) {
		return fmt.Errorf("%s: %w", name, ErrNoHeadSource)
	}

	node := &Node{Spec: spec, Mode: mode, Target: p.targets[name]}
	p.nodes[name] = node

	for _, d := range spec.ActiveDependencies(mode, p.opts.Platform) {
		edge := Edge{Name: d.Name, Kind: d.Kind, Planned: true}

		depSpec, known := p.specs.Get(d.Name)
		switch {
		case known && p.reusable(depSpec):
			edge.Planned = false
		case known:
			if err := p.visit(d.Name); err != nil {
				return err
			}
		case p.external(d.Name):
			edge.Planned = false
		case d.Kind == recipe.KindOptional:
			p.opts.Logger.Info("optional dependency not found, dropping", "package", name, "dependency", d.Name)
			p.dropped = append(p.dropped, Edge{Name: d.Name, Kind: d.Kind})
			continue
		default:
			return &UnknownDependencyError{Package: name, Dependency: d.Name}
		}
		node.Deps = append(node.Deps, edge)
	}
	return nil
}

// reusable reports whether a non-target dependency is already installed
// at the recipe's version.
func (p *planner) reusable(spec *recipe.PackageSpec) bool {
	if p.targets[spec.Name] || p.opts.RebuildDependencies {
		return false
	}
	if _, planned := p.nodes[spec.Name]; planned {
		return false
	}
	versioned, ok := p.opts.Preexisting.(prereg.Versioned)
	if !ok {
		return false
	}
	v, ok := versioned.InstalledVersion(spec.Name)
	if !ok || v != spec.Version {
		return false
	}
	p.reused[spec.Name] = Reuse{Name: spec.Name, Version: v}
	return true
}

func (p *planner) external(name recipe.PackageName) bool {
	if p.opts.Preexisting == nil {
		return false
	}
	l, ok := p.opts.Preexisting.Lookup(name)
	if ok {
		p.reused[name] = Reuse{Name: name, External: l.External}
	}
	return ok
}

func (p *planner) order() ([]recipe.PackageName, error) {
	g := dag.New()
	for name, node := range p.nodes {
		g.AddNode(string(name))
		for _, e := range node.Deps {
			if e.Planned {
				g.AddEdge(string(e.Name), string(name))
			}
		}
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		var ce *dag.CycleError
		if errors.As(err, &ce) {
			// The graph runs dependency -> dependent; report depends-on order.
			cycle := make([]recipe.PackageName, len(ce.Cycle))
			for i, n := range ce.Cycle {
				cycle[len(cycle)-1-i] = recipe.PackageName(n)
			}
			return nil, &CyclicDependencyError{Cycle: cycle}
		}
		return nil, err
	}

	out := make([]recipe.PackageName, len(sorted))
	for i, n := range sorted {
		out[i] = recipe.PackageName(n)
	}
	return out, nil
}

// checkConflicts fails if any two planned packages are declared
// conflicting, in either direction.
func (p *planner) checkConflicts(order []recipe.PackageName) error {
	names := slices.Clone(order)
	slices.Sort(names)
	for i, a := range names {
		for _, b := range names[i+1:] {
			sa, sb := p.nodes[a].Spec, p.nodes[b].Spec
			if c, ok := sa.ConflictsWith(b); ok {
				return &ConflictingPackagesError{A: a, B: b, Reason: c.Reason}
			}
			if c, ok := sb.ConflictsWith(a); ok {
				return &ConflictingPackagesError{A: b, B: a, Reason: c.Reason}
			}
		}
	}
	return nil
}

func (p *planner) build(targets, order []recipe.PackageName) *Plan {
	pl := &Plan{
		Targets:    targets,
		Dropped:    p.dropped,
		Platform:   p.opts.Platform,
		index:      make(map[recipe.PackageName]*Node, len(order)),
		dependents: make(map[recipe.PackageName][]recipe.PackageName),
	}
	for _, name := range order {
		n := p.nodes[name]
		pl.Order = append(pl.Order, n)
		pl.index[name] = n
		for _, e := range n.Deps {
			if e.Planned {
				pl.dependents[e.Name] = append(pl.dependents[e.Name], name)
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(p.reused)) {
		pl.Reused = append(pl.Reused, p.reused[name])
	}
	pl.Fingerprint = fingerprint(pl.Order)
	return pl
}

// fingerprint is the blake3 digest of the ordered (name, version, mode, edges) tuples.
func fingerprint(order []*Node) string {
	h := blake3.New(32, nil)
	for _, n := range order {
		var b strings.Builder
		fmt.Fprintf(&b, "%s\x00%s\x00%s", n.Spec.Name, n.Spec.Version, n.Mode)
		for _, e := range n.Deps {
			fmt.Fprintf(&b, "\x00%s:%s:%t", e.Name, e.Kind, e.Planned)
		}
		b.WriteByte('\n')
		_, _ = h.Write([]byte(b.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Node returns the planned node for name.
func (pl *Plan) Node(name recipe.PackageName) (*Node, bool) {
	n, ok := pl.index[name]
	return n, ok
}

// Names returns the build order as names.
func (pl *Plan) Names() []recipe.PackageName {
	out := make([]recipe.PackageName, len(pl.Order))
	for i, n := range pl.Order {
		out[i] = n.Spec.Name
	}
	return out
}

// Dependents returns the planned packages that depend directly on name, in plan order.
func (pl *Plan) Dependents(name recipe.PackageName) []recipe.PackageName {
	return slices.Clone(pl.dependents[name])
}
