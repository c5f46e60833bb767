// SPDX-License-Identifier: MPL-2.0

// Package buildlog stores the combined output of every package build as a
// zstd-compressed file under the install root.
package buildlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/tapforge/tapforge/pkg/recipe"
)

const (
	// RelDir is the log directory relative to the install root.
	RelDir = "var/tapforge/logs"
	// Ext is the file extension of a build log.
	Ext = ".log.zst"
)

// Writer is an open build log. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	zw   *zstd.Encoder
	path string
}

// PathFor returns the log file of name under root.
func PathFor(root string, name recipe.PackageName) string {
	return filepath.Join(root, filepath.FromSlash(RelDir), string(name)+Ext)
}

// Create truncates and opens the log of name.
func Create(root string, name recipe.PackageName) (*Writer, error) {
	path := PathFor(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create build log: %w", err)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &Writer{f: f, zw: zw, path: path}, nil
}

// Path returns the file the writer compresses into.
func (w *Writer) Path() string { return w.path }

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.zw.Write(p)
}

// Printf writes a formatted line.
func (w *Writer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

// Close flushes the compressed stream and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	zerr := w.zw.Close()
	ferr := w.f.Close()
	if zerr != nil {
		return fmt.Errorf("failed to flush build log: %w", zerr)
	}
	return ferr
}

// Read returns the decompressed log of name.
func Read(root string, name recipe.PackageName) ([]byte, error) {
	f, err := os.Open(PathFor(root, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer zr.Close()

	return io.ReadAll(zr)
}
