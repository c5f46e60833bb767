// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tapforge/tapforge/internal/buildlog"
	"github.com/tapforge/tapforge/internal/ledger"
	"github.com/tapforge/tapforge/internal/plan"
	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/pkg/recipe"
)

// build runs one package from Building to a terminal state and reports
// progress on r.events.
func (r *run) build(ctx context.Context, n *plan.Node) {
	name := n.Name()
	start := time.Now()
	defer func() {
		r.mu.Lock()
		r.results[name].Duration = time.Since(start)
		r.mu.Unlock()
		r.events <- progress{name: name, done: true}
	}()

	pctx := ctx
	if t := r.e.cfg.Timeout; t > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	log, err := buildlog.Create(r.e.cfg.Root, name)
	if err != nil {
		r.transition(name, Failed, &BuildFailedError{Package: name, Step: -1, Err: err})
		return
	}
	defer func() {
		if err := log.Close(); err != nil {
			r.logger.Warn("failed to close build log", "package", name, "error", err)
		}
	}()
	r.mu.Lock()
	r.results[name].LogPath = log.Path()
	r.mu.Unlock()

	if err := r.install(pctx, n, log); err != nil {
		r.e.cfg.Claims.Release(name)
		r.transition(name, Failed, r.classify(ctx, pctx, name, err))
		return
	}
	r.transition(name, Installed, nil)
	r.events <- progress{name: name}

	r.transition(name, Tested, nil)
	log.Printf("==> testing %s", name)
	tests, err := r.verifier.Verify(pctx, n.Spec, n.Mode, log)
	r.mu.Lock()
	r.results[name].Tests = tests
	r.mu.Unlock()
	if err != nil {
		// The package is installed by now, so a deadline hit here ends
		// TestFailed with the timeout as cause.
		r.transition(name, TestFailed, r.classify(ctx, pctx, name, err))
		return
	}
	r.transition(name, Verified, nil)
}

// install claims, builds and commits one package.
func (r *run) install(ctx context.Context, n *plan.Node, log *buildlog.Writer) error {
	cfg := r.e.cfg
	spec := n.Spec
	name := spec.Name

	if err := cfg.Claims.Claim(name, spec.ArtifactKeys(), spec.ConflictNames()); err != nil {
		return err
	}

	src, err := cfg.Sources.Fetch(ctx, spec, n.Mode)
	if err != nil {
		return &BuildFailedError{Package: name, Step: -1, Err: err}
	}

	self := resolver.PlannedLayout(cfg.Root, spec)
	if err := os.MkdirAll(self.Prefix, 0o755); err != nil {
		return &BuildFailedError{Package: name, Step: -1, Err: err}
	}

	view := cfg.Resolver.View(name, self, n.AllDeps()).WithSource(src)
	env, err := runtime.BuildEnv(r.env, view, spec)
	if err != nil {
		return &BuildFailedError{Package: name, Step: -1, Err: err}
	}

	steps := spec.ActiveSteps(n.Mode, cfg.Platform)
	log.Printf("==> building %s %s (%s) in %s", name, spec.Version, n.Mode, src)
	for i, step := range steps {
		inv, err := runtime.FromStep(step, view, src, env)
		if err != nil {
			return &BuildFailedError{Package: name, Step: i, Tool: step.Tool, Err: err}
		}
		inv.Output = log
		log.Printf("==> [%d/%d] %s", i+1, len(steps), describe(inv))
		r.logger.Debug("running step", "package", name, "step", i+1, "tool", step.Tool)

		res := cfg.Runner.Run(ctx, inv)
		if err := ctx.Err(); err != nil {
			return &BuildFailedError{Package: name, Step: i, Tool: step.Tool, Err: err, Output: tail(res.Combined)}
		}
		if res.Error != nil {
			return &BuildFailedError{Package: name, Step: i, Tool: step.Tool, Err: res.Error, Output: tail(res.Combined)}
		}
		if !res.ExitCode.IsSuccess() {
			return &BuildFailedError{Package: name, Step: i, Tool: step.Tool, ExitCode: res.ExitCode, Output: tail(res.Combined)}
		}
	}

	for _, pi := range spec.PostInstall {
		dir, err := view.Render(pi.Mkdir)
		if err != nil {
			return &BuildFailedError{Package: name, Step: -1, Err: fmt.Errorf("post-install: %w", err)}
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(self.Prefix, filepath.FromSlash(dir))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &BuildFailedError{Package: name, Step: -1, Err: fmt.Errorf("post-install: %w", err)}
		}
	}

	entry := ledger.Entry{
		Name:       name,
		Version:    spec.Version,
		Mode:       n.Mode,
		Prefix:     self.Prefix,
		ConfigTool: self.ConfigTool,
	}
	if err := cfg.Claims.Commit(entry); err != nil {
		return &BuildFailedError{Package: name, Step: -1, Err: err}
	}
	cfg.Resolver.Register(name, self.Prefix, self.ConfigTool)
	log.Printf("==> installed %s into %s", name, self.Prefix)
	return nil
}

// classify turns an expired package deadline into a TimeoutError. Parent
// cancellation is left as is.
func (r *run) classify(parent, pctx context.Context, name recipe.PackageName, err error) error {
	if parent.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Package: name, Timeout: r.e.cfg.Timeout}
	}
	return err
}

func describe(inv runtime.Invocation) string {
	if inv.Script != "" {
		return "sh: " + inv.Script
	}
	return fmt.Sprintf("%s %q", inv.Program, inv.Args)
}
