// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultWaitDelay bounds how long Run waits for output pipes after the
// process group has been killed.
const DefaultWaitDelay = 5 * time.Second

// NativeRunner executes programs with os/exec.
type NativeRunner struct {
	Logger *slog.Logger
}

// NewNativeRunner creates a NativeRunner logging to slog.Default().
func NewNativeRunner() *NativeRunner {
	return &NativeRunner{Logger: slog.Default()}
}

// Run executes inv.Program in its own process group and captures output.
func (r *NativeRunner) Run(ctx context.Context, inv Invocation) *Result {
	if inv.Program == "" {
		return NewErrorResult(errors.New("no program to execute"))
	}
	if err := validateWorkDir(inv.Dir); err != nil {
		return NewErrorResult(err)
	}

	program := inv.Program
	if inv.Dir != "" && !filepath.IsAbs(program) && strings.ContainsRune(program, '/') {
		program = filepath.Join(inv.Dir, program)
	}
	if !filepath.IsAbs(program) && !strings.ContainsRune(program, '/') {
		resolved, err := lookPath(program, inv.Env)
		if err != nil {
			return NewErrorResult(err)
		}
		program = resolved
	}

	cmd := exec.CommandContext(ctx, program, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = EnvToSlice(inv.Env)
	cmd.WaitDelay = DefaultWaitDelay
	setProcessGroup(cmd)

	out := newCapture(inv.Output)
	cmd.Stdout = out.stdoutWriter()
	cmd.Stderr = out.stderrWriter()

	if r.Logger != nil {
		r.Logger.Debug("running", "program", program, "args", inv.Args, "dir", inv.Dir)
	}

	err := cmd.Run()
	result := out.fill(extractExitCode(err))
	return markTimeout(ctx, result)
}

// lookPath resolves name against the PATH of the invocation environment
// rather than the orchestrator's own.
func lookPath(name string, env map[string]string) (string, error) {
	path, ok := env["PATH"]
	if !ok {
		return exec.LookPath(name)
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
}

// extractExitCode determines the exit code from a command execution error.
func extractExitCode(err error) *Result {
	result := &Result{}
	if err == nil {
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := ExitCode(exitErr.ExitCode())
		if code < 0 {
			// Killed by a signal.
			result.ExitCode = 1
			result.Error = fmt.Errorf("process terminated: %s", exitErr.ProcessState)
			return result
		}
		if validateErr := code.Validate(); validateErr != nil {
			result.ExitCode = 1
			result.Error = validateErr
			return result
		}
		result.ExitCode = code
		return result
	}

	// Some other error (e.g., command not found, permission denied)
	result.ExitCode = 1
	result.Error = err
	return result
}
