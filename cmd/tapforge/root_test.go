// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tapforge/tapforge/internal/build"
	"github.com/tapforge/tapforge/internal/conflict"
	"github.com/tapforge/tapforge/internal/issue"
	"github.com/tapforge/tapforge/internal/plan"
	"github.com/tapforge/tapforge/internal/verify"
)

func TestOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want map[string]any
	}{
		{"none", nil, map[string]any{}},
		{"jobs and head", []string{"--jobs", "3", "--head"}, map[string]any{"jobs": 3, "build_mode": "head"}},
		{"verbose", []string{"-v", "--log-format", "json"}, map[string]any{"log.level": "debug", "log.format": "json"}},
		{"timeout and root", []string{"--timeout", "90s", "--root", "/opt/tf", "-k"}, map[string]any{
			"timeout": 90 * time.Second, "root": "/opt/tf", "keep_going": true,
		}},
		{"head off", []string{"--head=false", "--rebuild-dependencies"}, map[string]any{"rebuild_dependencies": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := newApp(&bytes.Buffer{}, &bytes.Buffer{})
			root := newRootCommand(a)
			planCmd, _, err := root.Find([]string{"plan"})
			if err != nil {
				t.Fatal(err)
			}
			if err := planCmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}

			got := a.overrides(planCmd)
			if len(got) != len(tt.want) {
				t.Fatalf("overrides() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("overrides()[%q] = %v (%T), want %v (%T)", k, got[k], got[k], v, v)
				}
			}
		})
	}
}

func TestIssueFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want issue.Id
	}{
		{"nil", nil, 0},
		{"plain", errors.New("x"), 0},
		{"cycle", &plan.CyclicDependencyError{Cycle: nil}, issue.DependencyCycleId},
		{"timeout", &build.TimeoutError{Package: "a", Timeout: time.Second}, issue.BuildTimeoutId},
		{"build failed", &build.BuildFailedError{Package: "a", Step: 0, Err: errors.New("exit 1")}, issue.BuildFailedId},
		{"dependency failed", &build.DependencyFailedError{Package: "b", Dependency: "a"}, issue.DependencyFailedId},
		{"artifact conflict", fmt.Errorf("claim: %w", &conflict.ArtifactConflictError{Package: "b", Holder: "a"}), issue.ArtifactConflictId},
		{"test failed", &verify.TestFailedError{Package: "a"}, issue.TestFailedId},
		{"actionable", issue.NewErrorContext().WithOperation("x").WithIssue(issue.LedgerCorruptId).BuildError(), issue.LedgerCorruptId},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := issueFor(tt.err); got != tt.want {
				t.Errorf("issueFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

// workspace is a root, a tap and a config file wired together.
type workspace struct {
	dir     string
	root    string
	cfgPath string
}

func newWorkspace(t *testing.T, recipes map[string]string) *workspace {
	t.Helper()

	dir := t.TempDir()
	w := &workspace{dir: dir, root: filepath.Join(dir, "root"), cfgPath: filepath.Join(dir, "config.cue")}
	taps := filepath.Join(dir, "taps")
	sources := filepath.Join(dir, "sources")
	for name, body := range recipes {
		mustWrite(t, filepath.Join(taps, name+".cue"), body)
		if err := os.MkdirAll(filepath.Join(sources, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(t, w.cfgPath, fmt.Sprintf("root: %q\nrecipe_paths: [%q]\nsources_dir: %q\njobs: 1\n",
		filepath.ToSlash(w.root), filepath.ToSlash(taps), filepath.ToSlash(sources)))
	return w
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// run executes the CLI with args and returns stdout, stderr and the error.
func (w *workspace) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	root := newRootCommand(a)
	root.SetArgs(append([]string{"--config", w.cfgPath}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

const libRecipe = `
name: "lib"
version: "1.0"
source: url: "https://example.invalid/lib.tar.gz"
steps: [{tool: "shell", args: ["echo lib 1.0 > <self:prefix>/version.txt"]}]
test: cases: [{
	name: "version"
	tool: "shell"
	args: ["cat <self:prefix>/version.txt"]
	expect: [{match: "exact", value: "lib 1.0"}]
}]
caveats: "Data lives in <self:share>/lib."
`

const appRecipe = `
name: "app"
version: "2.0"
source: url: "https://example.invalid/app.tar.gz"
dependencies: [{name: "lib", kind: "runtime"}, {name: "docs", kind: "optional"}]
steps: [{tool: "shell", args: ["echo built"]}]
`

func TestPlanCommand(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t, map[string]string{"lib": libRecipe, "app": appRecipe})
	stdout, stderr, err := w.run(t, "plan", "app")
	if err != nil {
		t.Fatalf("plan: %v\n%s", err, stderr)
	}

	libAt := strings.Index(stdout, "lib")
	appAt := strings.Index(stdout, "app")
	if libAt < 0 || appAt < 0 || libAt > appAt {
		t.Errorf("plan output does not list lib before app:\n%s", stdout)
	}
	if !strings.Contains(stdout, "docs") {
		t.Errorf("plan output does not mention the dropped optional dependency:\n%s", stdout)
	}
}

func TestPlanCommandUnknownTarget(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t, map[string]string{"lib": libRecipe})
	_, stderr, err := w.run(t, "plan", "ghost")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("plan error = %v, want exit 1", err)
	}
	if !strings.Contains(stderr, "ghost") {
		t.Errorf("stderr does not name the unknown package:\n%s", stderr)
	}
}

func TestBuildTestUninstall(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t, map[string]string{"lib": libRecipe})

	stdout, stderr, err := w.run(t, "build", "lib")
	if err != nil {
		t.Fatalf("build: %v\nstdout:\n%s\nstderr:\n%s", err, stdout, stderr)
	}
	if !strings.Contains(stdout, "verified") {
		t.Errorf("build output missing verified state:\n%s", stdout)
	}
	if !strings.Contains(stdout, filepath.Join(w.root, "opt", "lib", "share")) {
		t.Errorf("build output missing rendered caveats:\n%s", stdout)
	}

	stdout, _, err = w.run(t, "log", "lib")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(stdout, "[1/1]") {
		t.Errorf("build log missing step header:\n%s", stdout)
	}

	if _, stderr, err := w.run(t, "test", "lib"); err != nil {
		t.Fatalf("test: %v\n%s", err, stderr)
	}

	if _, stderr, err := w.run(t, "uninstall", "lib"); err != nil {
		t.Fatalf("uninstall: %v\n%s", err, stderr)
	}
	if _, _, err := w.run(t, "uninstall", "lib"); err == nil {
		t.Error("second uninstall succeeded")
	}
	if _, _, err := w.run(t, "test", "lib"); err == nil {
		t.Error("test after uninstall succeeded")
	}
}

func TestBuildCommandFailure(t *testing.T) {
	t.Parallel()

	failing := strings.Replace(libRecipe, `echo lib 1.0 > <self:prefix>/version.txt`, `echo missing header >&2; exit 3`, 1)
	w := newWorkspace(t, map[string]string{"lib": failing, "app": appRecipe})

	stdout, _, err := w.run(t, "build", "app")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("build error = %v, want exit 1", err)
	}
	for _, want := range []string{"failed", "tapforge log lib"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestConfigCommands(t *testing.T) {
	t.Parallel()

	w := newWorkspace(t, nil)
	stdout, _, err := w.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(stdout, "jobs: 1") {
		t.Errorf("config show output:\n%s", stdout)
	}

	fresh := filepath.Join(t.TempDir(), "fresh.cue")
	var out bytes.Buffer
	a := newApp(&out, &bytes.Buffer{})
	root := newRootCommand(a)
	root.SetArgs([]string{"--config", fresh, "config", "init"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("config init did not create %s: %v", fresh, err)
	}
}
