// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tapforge/tapforge/internal/build"
)

// progress reports executor transitions. On a terminal it drives a progress
// bar counting finished packages; otherwise it logs each transition.
type progress struct {
	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	logger *slog.Logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newProgress returns an observer for a plan of total packages. The bar is
// only used when w is a terminal and logging is not verbose.
func newProgress(w io.Writer, total int, verbose bool, logger *slog.Logger) *progress {
	p := &progress{logger: logger}
	if isTerminal(w) && !verbose && total > 0 {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("planning"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

// Observe implements build.Observer.
func (p *progress) Observe(e build.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		level := slog.LevelInfo
		if e.To == build.Tested {
			level = slog.LevelDebug
		}
		attrs := []any{"package", e.Package, "state", e.To}
		if e.Err != nil {
			attrs = append(attrs, "error", e.Err)
		}
		p.logger.Log(context.Background(), level, "package "+string(e.To), attrs...)
		return
	}

	switch {
	case e.To == build.Building:
		p.bar.Describe("building " + string(e.Package))
	case e.To == build.Tested:
		p.bar.Describe("testing " + string(e.Package))
	case e.To.Terminal():
		_ = p.bar.Add(1)
	}
}

// Finish clears the bar.
func (p *progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
