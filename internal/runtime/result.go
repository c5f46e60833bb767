// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"io"
	"sync"
)

type (
	// Result is the outcome of one invocation.
	Result struct {
		// ExitCode is the process exit status. It is 1 when the process
		// could not be started, with Error set.
		ExitCode ExitCode
		// Error is set for failures to run at all (missing program, bad
		// working directory), not for non-zero exits.
		Error error
		// Stdout and Stderr hold the separate streams.
		Stdout string
		Stderr string
		// Combined holds both streams in the order they were written.
		Combined string
		// TimedOut is true when the invocation was stopped by its deadline.
		TimedOut bool
	}

	// capture collects the three views of a process's output.
	capture struct {
		mu       sync.Mutex
		stdout   bytes.Buffer
		stderr   bytes.Buffer
		combined bytes.Buffer
		tee      io.Writer
	}

	streamWriter struct {
		c   *capture
		buf *bytes.Buffer
	}
)

// NewErrorResult creates a Result with exit code 1 and the given error.
func NewErrorResult(err error) *Result {
	return &Result{ExitCode: 1, Error: err}
}

// Success reports a zero exit with no run error.
func (r *Result) Success() bool {
	return r.Error == nil && r.ExitCode.IsSuccess() && !r.TimedOut
}

func newCapture(tee io.Writer) *capture {
	return &capture{tee: tee}
}

func (c *capture) stdoutWriter() io.Writer { return &streamWriter{c: c, buf: &c.stdout} }
func (c *capture) stderrWriter() io.Writer { return &streamWriter{c: c, buf: &c.stderr} }

// Write appends to the stream buffer, the combined buffer and the tee under
// one lock, so Combined preserves write order across both streams.
func (w *streamWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.buf.Write(p)
	w.c.combined.Write(p)
	if w.c.tee != nil {
		_, _ = w.c.tee.Write(p)
	}
	return len(p), nil
}

func (c *capture) fill(r *Result) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Stdout = c.stdout.String()
	r.Stderr = c.stderr.String()
	r.Combined = c.combined.String()
	return r
}
