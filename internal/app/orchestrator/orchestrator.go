// SPDX-License-Identifier: MPL-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/tapforge/tapforge/internal/build"
	"github.com/tapforge/tapforge/internal/config"
	"github.com/tapforge/tapforge/internal/conflict"
	"github.com/tapforge/tapforge/internal/issue"
	"github.com/tapforge/tapforge/internal/ledger"
	"github.com/tapforge/tapforge/internal/plan"
	"github.com/tapforge/tapforge/internal/prereg"
	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/internal/source"
	"github.com/tapforge/tapforge/internal/verify"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// ErrNotInstalled is returned by Uninstall for a package with no ledger record.
var ErrNotInstalled = errors.New("package is not installed")

type (
	// Options configures an Orchestrator. Config is required.
	Options struct {
		Config *config.Config
		// Tap overrides loading recipes from Config.RecipeDirs().
		Tap *recipe.Tap
		// Runner defaults to the native/virtual dispatcher.
		Runner runtime.Runner
		// Sources defaults to a directory provider over Config.SourcesPath().
		Sources source.Provider
		// Environ is the host environment; nil means os.Environ().
		Environ  []string
		Observer build.Observer
		// TestOutput receives the output of test cases run by Test.
		TestOutput io.Writer
		Logger     *slog.Logger
	}

	// Orchestrator runs plan, build, test and uninstall against one root.
	Orchestrator struct {
		cfg      *config.Config
		tap      *recipe.Tap
		ledger   *ledger.Ledger
		pre      prereg.Chain
		resolver *resolver.Resolver
		claims   *conflict.Registry
		runner   runtime.Runner
		sources  source.Provider
		env      map[string]string
		observer build.Observer
		testOut  io.Writer
		logger   *slog.Logger
	}

	// Report is the outcome of Build or Test.
	Report struct {
		// Plan is nil for Test.
		Plan    *plan.Plan
		Targets []recipe.PackageName
		Results []*build.Result
	}

	// NotInstalledError names a package Uninstall could not find.
	NotInstalledError struct {
		Package recipe.PackageName
	}
)

// Error implements the error interface.
func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("%s: package is not installed", e.Package)
}

// Unwrap returns ErrNotInstalled for errors.Is() compatibility.
func (e *NotInstalledError) Unwrap() error { return ErrNotInstalled }

// New loads the tap and the ledger of the configured root.
func New(opts Options) (*Orchestrator, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("orchestrator: no configuration")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tap := opts.Tap
	if tap == nil {
		var err error
		if tap, err = recipe.LoadTap(cfg.RecipeDirs()...); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load recipes").
				WithResource(strings.Join(cfg.RecipeDirs(), string(os.PathListSeparator))).
				WithIssue(issue.RecipeParseFailedId).
				WithSuggestion("Fix the reported recipe fields and run the command again").
				Wrap(err).
				BuildError()
		}
	}

	l, err := ledger.Open(cfg.Root)
	if err != nil {
		ctx := issue.NewErrorContext().
			WithOperation("open claim ledger").
			WithResource(ledger.PathFor(cfg.Root))
		if errors.Is(err, ledger.ErrChecksumMismatch) {
			ctx = ctx.WithIssue(issue.LedgerCorruptId).
				WithSuggestion("Restore the ledger from a backup or remove it and reinstall packages")
		}
		return nil, ctx.Wrap(err).BuildError()
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	env, err := cfg.HostEnv().BuildFrom(environ)
	if err != nil {
		return nil, err
	}

	externals := cfg.Externals()
	installed := prereg.Installed{Ledger: l}
	res := resolver.New(resolver.WithFallback(installed), resolver.WithLogger(logger))
	for _, name := range externals.Names() {
		ext := externals[name]
		res.RegisterExternal(name, ext.Prefix, ext.ConfigTool)
	}

	o := &Orchestrator{
		cfg:      cfg,
		tap:      tap,
		ledger:   l,
		pre:      prereg.Chain{externals, installed},
		resolver: res,
		claims:   conflict.New(l, logger),
		runner:   opts.Runner,
		sources:  opts.Sources,
		env:      env,
		observer: opts.Observer,
		testOut:  opts.TestOutput,
		logger:   logger,
	}
	if o.runner == nil {
		o.runner = runtime.NewDispatcher()
	}
	if o.sources == nil {
		o.sources = source.DirProvider{Root: cfg.SourcesPath()}
	}

	logger.Debug("orchestrator ready", "root", cfg.Root, "recipes", tap.Len(), "installed", len(l.Entries()))
	return o, nil
}

// Tap returns the loaded recipes.
func (o *Orchestrator) Tap() *recipe.Tap { return o.tap }

// Ledger returns the claim ledger of the root.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Plan resolves targets into an ordered build plan without side effects.
func (o *Orchestrator) Plan(ctx context.Context, targets []recipe.PackageName) (*plan.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return plan.Resolve(o.tap, targets, plan.Options{
		Platform:            o.cfg.TargetPlatform(),
		Mode:                o.cfg.BuildMode,
		RebuildDependencies: o.cfg.RebuildDependencies,
		Preexisting:         o.pre,
		Logger:              o.logger,
	})
}

// Build plans targets and executes the plan. Graph errors are returned
// before anything runs; package failures are reported in the Report.
func (o *Orchestrator) Build(ctx context.Context, targets []recipe.PackageName) (*Report, error) {
	p, err := o.Plan(ctx, targets)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, p, nil)
}

// Execute runs a plan produced by Plan. A nil observer falls back to the
// one given in Options.
func (o *Orchestrator) Execute(ctx context.Context, p *plan.Plan, observer build.Observer) (*Report, error) {
	if observer == nil {
		observer = o.observer
	}
	exec, err := build.New(build.Config{
		Root:      o.cfg.Root,
		Platform:  p.Platform,
		Runner:    o.runner,
		Resolver:  o.resolver,
		Claims:    o.claims,
		Sources:   o.sources,
		Jobs:      o.cfg.Jobs,
		Timeout:   o.cfg.Timeout,
		KeepGoing: o.cfg.KeepGoing,
		Observer:  observer,
		Logger:    o.logger,
	})
	if err != nil {
		return nil, err
	}

	results, err := exec.Execute(ctx, p, o.env)
	report := &Report{Plan: p, Targets: slices.Clone(p.Targets), Results: results}
	return report, err
}

// Test reruns the tests of installed targets in the mode they were built
// with. A target that is not installed fails with an unresolved path error
// for its own prefix.
func (o *Orchestrator) Test(ctx context.Context, targets []recipe.PackageName) (*Report, error) {
	specs := make([]*recipe.PackageSpec, 0, len(targets))
	for _, name := range targets {
		spec, ok := o.tap.Get(name)
		if !ok {
			return nil, &plan.UnknownDependencyError{Dependency: name}
		}
		specs = append(specs, spec)
	}

	v := verify.NewRunner(o.runner, o.resolver, o.cfg.TargetPlatform(), o.env, o.logger)

	report := &Report{Targets: slices.Clone(targets)}
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, o.test(ctx, v, spec))
	}
	return report, nil
}

func (o *Orchestrator) test(ctx context.Context, v *verify.Runner, spec *recipe.PackageSpec) *build.Result {
	start := time.Now()
	mode := o.cfg.BuildMode
	if e, ok := o.ledger.Get(spec.Name); ok && e.Mode != "" {
		mode = e.Mode
	}
	res := &build.Result{Name: spec.Name, Version: spec.Version, Mode: mode}

	tests, err := v.Verify(ctx, spec, mode, o.testOut)
	res.Tests = tests
	res.Duration = time.Since(start)

	var unresolved *resolver.UnresolvedPathError
	switch {
	case err == nil:
		res.State = build.Verified
	case errors.As(err, &unresolved):
		res.State = build.Failed
		res.Err = err
	default:
		res.State = build.TestFailed
		res.Err = err
	}
	o.logger.Debug("tested", "package", spec.Name, "mode", mode, "state", res.State)
	return res
}

// Uninstall forgets the claims and layouts of names. Installed files are
// left in place. Installed packages that still depend on a removed one are
// logged.
func (o *Orchestrator) Uninstall(ctx context.Context, names []recipe.PackageName) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := o.ledger.Get(name); !ok {
			return &NotInstalledError{Package: name}
		}
		for _, dependent := range o.installedDependents(name) {
			o.logger.Warn("uninstalling a dependency of an installed package", "package", name, "dependent", dependent)
		}
		if err := o.claims.Forget(name); err != nil {
			return err
		}
		o.resolver.Unregister(name)
		o.logger.Info("uninstalled", "package", name)
	}
	return nil
}

// installedDependents lists installed packages whose recipes depend on name
// at runtime.
func (o *Orchestrator) installedDependents(name recipe.PackageName) []recipe.PackageName {
	p := o.cfg.TargetPlatform()
	var out []recipe.PackageName
	for _, e := range o.ledger.Entries() {
		spec, ok := o.tap.Get(e.Name)
		if !ok || e.Name == name {
			continue
		}
		for _, d := range spec.ActiveDependencies(e.Mode, p) {
			if d.Name == name && d.Kind != recipe.KindBuild {
				out = append(out, e.Name)
				break
			}
		}
	}
	return out
}

// Success reports whether every target ended Verified.
func (r *Report) Success() bool {
	if r == nil {
		return false
	}
	targets := make(map[recipe.PackageName]bool, len(r.Targets))
	for _, t := range r.Targets {
		targets[t] = true
	}
	seen := 0
	for _, res := range r.Results {
		if !targets[res.Name] {
			continue
		}
		if res.State != build.Verified {
			return false
		}
		seen++
	}
	return seen == len(targets)
}

// Failed returns the results that did not end Verified, in plan order.
func (r *Report) Failed() []*build.Result {
	var out []*build.Result
	for _, res := range r.Results {
		if res.State != build.Verified {
			out = append(out, res)
		}
	}
	return out
}

// Caveats returns the caveats of verified targets with self placeholders
// rendered, keyed by package.
func (o *Orchestrator) Caveats(r *Report) map[recipe.PackageName]string {
	out := make(map[recipe.PackageName]string)
	for _, res := range r.Results {
		if res.State != build.Verified || !slices.Contains(r.Targets, res.Name) {
			continue
		}
		spec, ok := o.tap.Get(res.Name)
		if !ok || spec.Caveats == "" {
			continue
		}
		text := spec.Caveats
		if self, ok := o.resolver.Lookup(res.Name); ok {
			rendered, err := o.resolver.View(res.Name, self, nil).Render(recipe.Template(text))
			if err != nil {
				o.logger.Debug("caveats not rendered", "package", res.Name, "error", err)
			} else {
				text = rendered
			}
		}
		out[res.Name] = text
	}
	return out
}
