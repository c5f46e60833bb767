// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultKillTimeout is how long the interpreter waits after an interrupt
// before killing an external command whose context has ended.
const DefaultKillTimeout = 2 * time.Second

// VirtualRunner interprets shell snippets with mvdan.cc/sh.
type VirtualRunner struct {
	Logger *slog.Logger
	// KillTimeout overrides DefaultKillTimeout when positive.
	KillTimeout time.Duration
}

// NewVirtualRunner creates a VirtualRunner logging to slog.Default().
func NewVirtualRunner() *VirtualRunner {
	return &VirtualRunner{Logger: slog.Default()}
}

// Run parses inv.Script as bash and executes it.
func (r *VirtualRunner) Run(ctx context.Context, inv Invocation) *Result {
	if strings.TrimSpace(inv.Script) == "" {
		return NewErrorResult(errors.New("no script to execute"))
	}
	if err := validateWorkDir(inv.Dir); err != nil {
		return NewErrorResult(err)
	}

	prog, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(inv.Script), "step")
	if err != nil {
		return NewErrorResult(fmt.Errorf("failed to parse script: %w", err))
	}

	out := newCapture(inv.Output)
	killTimeout := r.KillTimeout
	if killTimeout <= 0 {
		killTimeout = DefaultKillTimeout
	}

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(EnvToSlice(inv.Env)...)),
		interp.StdIO(nil, out.stdoutWriter(), out.stderrWriter()),
		interp.ExecHandlers(r.logExec, func(interp.ExecHandlerFunc) interp.ExecHandlerFunc {
			return interp.DefaultExecHandler(killTimeout)
		}),
	}
	if inv.Dir != "" {
		opts = append(opts, interp.Dir(inv.Dir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return NewErrorResult(fmt.Errorf("failed to create interpreter: %w", err))
	}

	err = runner.Run(ctx, prog)
	result := out.fill(&Result{})
	if err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			result.ExitCode = ExitCode(status)
		} else {
			result.ExitCode = 1
			result.Error = err
		}
	}
	return markTimeout(ctx, result)
}

func (r *VirtualRunner) logExec(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if r.Logger != nil {
			r.Logger.Debug("exec", "args", args)
		}
		return next(ctx, args)
	}
}
