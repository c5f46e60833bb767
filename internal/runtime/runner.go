// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

type (
	// Invocation describes one subprocess run.
	Invocation struct {
		// Program is the executable for native runs. Relative paths with a
		// separator ("./configure") resolve against Dir.
		Program string
		Args    []string
		// Script is the shell snippet for virtual runs.
		Script string
		Dir    string
		// Env is the complete environment; nothing is inherited implicitly.
		Env map[string]string
		// Output, when set, additionally receives the combined output as it
		// is produced (build logs).
		Output io.Writer
	}

	// Runner executes an invocation. Implementations must honor ctx: when it
	// ends, the subprocess and its children are terminated.
	Runner interface {
		Run(ctx context.Context, inv Invocation) *Result
	}
)

// markTimeout sets TimedOut when ctx ended by deadline.
func markTimeout(ctx context.Context, r *Result) *Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.TimedOut = true
	}
	return r
}

// validateWorkDir validates that a working directory exists and is accessible.
// This provides a better error message than letting exec fail with a cryptic error.
func validateWorkDir(dir string) error {
	if dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", dir)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("permission denied: %s", dir)
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	return nil
}
