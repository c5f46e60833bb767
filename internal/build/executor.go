// SPDX-License-Identifier: MPL-2.0

// Package build executes a plan: it claims artifact keys, runs each
// package's steps through a runtime.Runner, installs, registers and commits
// the result, then runs the package's tests.
//
// Packages run on a pool of workers. A package starts once its build-only
// dependencies are installed and its runtime and optional dependencies are
// verified. Every package gets its own environment and resolver view; the
// base environment is never modified.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tapforge/tapforge/internal/conflict"
	"github.com/tapforge/tapforge/internal/plan"
	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/internal/source"
	"github.com/tapforge/tapforge/internal/verify"
	"github.com/tapforge/tapforge/pkg/platform"
	"github.com/tapforge/tapforge/pkg/recipe"
)

type (
	// Verifier runs the tests of an installed package.
	Verifier interface {
		Verify(ctx context.Context, spec *recipe.PackageSpec, mode recipe.BuildMode, output io.Writer) (*verify.Result, error)
	}

	// Config wires an Executor.
	Config struct {
		// Root is the installation root.
		Root     string
		Platform platform.Platform
		Runner   runtime.Runner
		Resolver *resolver.Resolver
		Claims   *conflict.Registry
		Sources  source.Provider
		// Verifier defaults to a verify.Runner sharing Runner and Resolver.
		Verifier Verifier
		// Jobs is the number of packages built concurrently. Minimum 1.
		Jobs int
		// Timeout bounds one package's build and tests. Zero disables it.
		Timeout time.Duration
		// KeepGoing keeps starting unrelated packages after a failure.
		KeepGoing bool
		Observer  Observer
		Logger    *slog.Logger
	}

	// Executor runs plans. It is safe to reuse across plans but not to run
	// two plans against the same root concurrently.
	Executor struct {
		cfg Config
	}

	// Result is the final outcome of one package.
	Result struct {
		Name     recipe.PackageName
		Version  string
		Mode     recipe.BuildMode
		State    State
		Err      error
		LogPath  string
		Duration time.Duration
		Tests    *verify.Result
	}

	run struct {
		e        *Executor
		plan     *plan.Plan
		env      map[string]string
		verifier Verifier
		logger   *slog.Logger

		// claimAfter lists, per package, the earlier planned packages that
		// share one of its artifact keys.
		claimAfter map[recipe.PackageName][]recipe.PackageName

		mu      sync.Mutex
		results map[recipe.PackageName]*Result
		halted  recipe.PackageName

		events chan progress
	}

	progress struct {
		name recipe.PackageName
		done bool
	}
)

// New creates an Executor. Runner, Resolver, Claims and Sources are required.
func New(cfg Config) (*Executor, error) {
	switch {
	case cfg.Runner == nil:
		return nil, errors.New("build: no runner configured")
	case cfg.Resolver == nil:
		return nil, errors.New("build: no resolver configured")
	case cfg.Claims == nil:
		return nil, errors.New("build: no conflict registry configured")
	case cfg.Sources == nil:
		return nil, errors.New("build: no source provider configured")
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{cfg: cfg}, nil
}

// Execute builds every node of p with base env layered under each package's
// environment. Results come back in plan order. The error is non-nil only
// when ctx ended before the plan finished.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, env map[string]string) ([]*Result, error) {
	if p == nil {
		return nil, errors.New("build: nil plan")
	}

	r := &run{
		e:        e,
		plan:     p,
		env:      env,
		verifier: e.cfg.Verifier,
		logger:   e.cfg.Logger,
		results:  make(map[recipe.PackageName]*Result, len(p.Order)),
		events:   make(chan progress),

		claimAfter: sharedKeyPredecessors(p.Order),
	}
	if r.verifier == nil {
		r.verifier = verify.NewRunner(e.cfg.Runner, e.cfg.Resolver, e.cfg.Platform, env, e.cfg.Logger)
	}
	for _, n := range p.Order {
		r.results[n.Name()] = &Result{Name: n.Name(), Version: n.Spec.Version, Mode: n.Mode, State: Pending}
	}

	r.logger.Debug("executing plan", "packages", len(p.Order), "jobs", e.cfg.Jobs, "fingerprint", p.Fingerprint)

	running := 0
	for {
		r.mu.Lock()
		ready := r.settle(ctx)
		for _, n := range ready {
			if running >= e.cfg.Jobs {
				break
			}
			r.transitionLocked(n.Name(), Building, nil)
			running++
			go r.build(ctx, n)
		}
		r.mu.Unlock()

		if running == 0 {
			break
		}
		// An installed package may unblock build-only dependents while its
		// own tests are still running.
		if ev := <-r.events; ev.done {
			running--
			r.noteCompletion(ev.name)
		}
	}

	out := make([]*Result, 0, len(p.Order))
	for _, n := range p.Order {
		out = append(out, r.results[n.Name()])
	}
	return out, ctx.Err()
}

// settle resolves every pending package whose fate is already decided and
// returns the ones ready to start, in plan order. Callers hold r.mu.
func (r *run) settle(ctx context.Context) []*plan.Node {
	var ready []*plan.Node
	for _, n := range r.plan.Order {
		name := n.Name()
		if r.results[name].State != Pending {
			continue
		}

		if err := ctx.Err(); err != nil {
			r.transitionLocked(name, Skipped, fmt.Errorf("%s not started: %w", name, err))
			continue
		}
		if !n.Spec.Platforms.Matches(r.e.cfg.Platform) {
			r.transitionLocked(name, Skipped, &UnsupportedPlatformError{Package: name, Platform: r.e.cfg.Platform.String()})
			continue
		}

		satisfied, blocked := true, false
		for _, edge := range n.Deps {
			if !edge.Planned {
				continue
			}
			dep := r.results[edge.Name]
			var halt *PlanHaltedError
			if dep.State == Skipped && errors.As(dep.Err, &halt) {
				r.transitionLocked(name, Skipped, &PlanHaltedError{Package: name, Cause: halt.Cause})
				blocked = true
				break
			}
			if dep.State == Failed || dep.State == TestFailed || dep.State == Skipped {
				r.transitionLocked(name, Failed, &DependencyFailedError{Package: name, Dependency: edge.Name, Cause: rootCause(dep)})
				blocked = true
				break
			}
			if edge.Kind == recipe.KindBuild && !dep.State.Installed() {
				satisfied = false
			}
			if edge.Kind != recipe.KindBuild && dep.State != Verified {
				satisfied = false
			}
		}
		if blocked || !satisfied {
			continue
		}
		// Overlapping claims are taken in plan order so the same package
		// wins on every run.
		if slices.ContainsFunc(r.claimAfter[name], func(prior recipe.PackageName) bool {
			st := r.results[prior].State
			return st == Pending || st == Building
		}) {
			continue
		}

		if r.halted != "" {
			r.transitionLocked(name, Skipped, &PlanHaltedError{Package: name, Cause: r.halted})
			continue
		}
		ready = append(ready, n)
	}
	return ready
}

// sharedKeyPredecessors maps each node to the earlier nodes of order whose
// artifact keys overlap with its own.
func sharedKeyPredecessors(order []*plan.Node) map[recipe.PackageName][]recipe.PackageName {
	owners := make(map[string][]recipe.PackageName)
	out := make(map[recipe.PackageName][]recipe.PackageName)
	for _, n := range order {
		name := n.Name()
		var prior []recipe.PackageName
		for _, key := range n.Spec.ArtifactKeys() {
			for _, o := range owners[key] {
				if !slices.Contains(prior, o) {
					prior = append(prior, o)
				}
			}
			owners[key] = append(owners[key], name)
		}
		if len(prior) > 0 {
			out[name] = prior
		}
	}
	return out
}

func rootCause(dep *Result) recipe.PackageName {
	var df *DependencyFailedError
	if errors.As(dep.Err, &df) {
		return df.Cause
	}
	return dep.Name
}

func (r *run) noteCompletion(name recipe.PackageName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.results[name]
	if (res.State == Failed || res.State == TestFailed) && r.halted == "" && !r.e.cfg.KeepGoing {
		r.halted = name
		r.logger.Debug("halting plan", "cause", name)
	}
}

func (r *run) transition(name recipe.PackageName, to State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitionLocked(name, to, err)
}

func (r *run) transitionLocked(name recipe.PackageName, to State, err error) {
	res := r.results[name]
	from := res.State
	if !CanTransition(from, to) {
		r.logger.Error("rejected state transition", "error", &InvalidTransitionError{Package: string(name), From: from, To: to})
		return
	}
	res.State = to
	if err != nil {
		res.Err = err
	}
	r.logger.Debug("package state", "package", name, "from", from, "to", to)
	if obs := r.e.cfg.Observer; obs != nil {
		obs.Observe(Event{Package: name, From: from, To: to, Err: err, Time: time.Now()})
	}
}
