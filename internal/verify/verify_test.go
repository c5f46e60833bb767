// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"context"
	"errors"
	"os"
	goruntime "runtime"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/pkg/platform"
	"github.com/tapforge/tapforge/pkg/recipe"
)

var linux = platform.Platform{OS: platform.Linux, Arch: platform.AMD64}

// stubRunner answers every invocation with the same result.
type stubRunner struct {
	result runtime.Result
	calls  []runtime.Invocation
}

func (s *stubRunner) Run(_ context.Context, inv runtime.Invocation) *runtime.Result {
	s.calls = append(s.calls, inv)
	r := s.result
	return &r
}

func toolSpec(cases ...recipe.TestCase) *recipe.PackageSpec {
	return &recipe.PackageSpec{
		Name:    "tool",
		Version: "1.2.3",
		Dependencies: []recipe.Dependency{
			{Name: "libfoo", Kind: recipe.KindRuntime},
			{Name: "cmake", Kind: recipe.KindBuild},
		},
		Test: &recipe.TestSpec{Cases: cases},
	}
}

func installedResolver() *resolver.Resolver {
	r := resolver.New()
	r.Register("tool", "/root/opt/tool", "")
	r.Register("libfoo", "/root/opt/libfoo", "")
	r.Register("cmake", "/root/opt/cmake", "")
	return r
}

func versionCase() recipe.TestCase {
	return recipe.TestCase{
		Name:   "version",
		Args:   []recipe.Template{"<self:bin>/tool", "--version"},
		Expect: []recipe.Matcher{{Stream: recipe.StreamStdout, Match: recipe.MatchExact, Value: "v1.2.3\n"}},
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	t.Parallel()

	r := NewRunner(nil, installedResolver(), linux, nil, nil)
	if _, ok := r.Exec.(*runtime.Dispatcher); !ok {
		t.Errorf("Exec = %T, want *runtime.Dispatcher", r.Exec)
	}
	if r.Logger == nil || r.Platform != linux {
		t.Errorf("runner = %+v", r)
	}
}

func TestVerify_ExactMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stdout string
		pass   bool
	}{
		{"identical", "v1.2.3\n", true},
		{"no trailing newline", "v1.2.3", true},
		{"different version", "v1.2.4\n", false},
		{"extra newline", "v1.2.3\n\n", false},
		{"leading space", " v1.2.3\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stub := &stubRunner{result: runtime.Result{Stdout: tt.stdout}}
			r := &Runner{Exec: stub, Resolver: installedResolver(), Platform: linux}
			res, err := r.Verify(context.Background(), toolSpec(versionCase()), recipe.ModeStable, nil)

			if tt.pass {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				if len(res.Passed) != 1 || res.Passed[0] != "version" {
					t.Errorf("Passed = %v", res.Passed)
				}
				return
			}

			if !errors.Is(err, ErrTestFailed) {
				t.Fatalf("expected ErrTestFailed, got %v", err)
			}
			var tf *TestFailedError
			if !errors.As(err, &tf) {
				t.Fatal("expected *TestFailedError")
			}
			if tf.Package != "tool" || tf.Index != 0 || tf.Case != "version" {
				t.Errorf("failure identity = %s/%d/%s", tf.Package, tf.Index, tf.Case)
			}
			if tf.Expected != "v1.2.3\n" || tf.Actual != tt.stdout {
				t.Errorf("Expected = %q Actual = %q", tf.Expected, tf.Actual)
			}
		})
	}
}

func TestVerify_InvocationAndScope(t *testing.T) {
	t.Parallel()

	stub := &stubRunner{result: runtime.Result{Stdout: "v1.2.3\n"}}
	r := NewRunner(stub, installedResolver(), linux, map[string]string{"PATH": "/usr/bin"}, nil)
	if _, err := r.Verify(context.Background(), toolSpec(versionCase()), recipe.ModeStable, nil); err != nil {
		t.Fatal(err)
	}
	inv := stub.calls[0]
	if inv.Program != "/root/opt/tool/bin/tool" {
		t.Errorf("Program = %q", inv.Program)
	}
	if !strings.Contains(inv.Env["PATH"], "/root/opt/libfoo/bin") {
		t.Errorf("runtime dependency missing from PATH: %q", inv.Env["PATH"])
	}
	if strings.Contains(inv.Env["PATH"], "/root/opt/cmake/bin") {
		t.Errorf("build-only dependency leaked into test PATH: %q", inv.Env["PATH"])
	}

	// A build-only dependency cannot be referenced while testing.
	c := recipe.TestCase{Args: []recipe.Template{"<dep:cmake:bin>/cmake", "--version"}}
	_, err := r.Verify(context.Background(), toolSpec(c), recipe.ModeStable, nil)
	if !errors.Is(err, resolver.ErrUnresolvedDependencyPath) || !errors.Is(err, ErrTestFailed) {
		t.Errorf("expected unresolved path test failure, got %v", err)
	}
}

func TestVerify_NotInstalled(t *testing.T) {
	t.Parallel()

	r := &Runner{Exec: &stubRunner{}, Resolver: resolver.New(), Platform: linux}
	_, err := r.Verify(context.Background(), toolSpec(versionCase()), recipe.ModeStable, nil)
	var up *resolver.UnresolvedPathError
	if !errors.As(err, &up) || up.Package != "tool" {
		t.Errorf("expected UnresolvedPathError for tool, got %v", err)
	}
}

func TestVerify_ExitCodeAndStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	stub := &stubRunner{result: runtime.Result{ExitCode: 2}}
	r := &Runner{Exec: stub, Resolver: installedResolver(), Platform: linux}
	spec := toolSpec(
		recipe.TestCase{Args: []recipe.Template{"tool", "--bad"}, ExitCode: 2},
		recipe.TestCase{Args: []recipe.Template{"tool"}},
		recipe.TestCase{Args: []recipe.Template{"tool", "--never"}},
	)
	_, err := r.Verify(context.Background(), spec, recipe.ModeStable, nil)
	var tf *TestFailedError
	if !errors.As(err, &tf) {
		t.Fatalf("expected TestFailedError, got %v", err)
	}
	if tf.Index != 1 || tf.Case != "case 2" || tf.Check != "exit code" || tf.Expected != "0" || tf.Actual != "2" {
		t.Errorf("failure = %+v", tf)
	}
	if len(stub.calls) != 2 {
		t.Errorf("ran %d cases, want 2", len(stub.calls))
	}
}

func TestVerify_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 2000)
	stub := &stubRunner{result: runtime.Result{Stderr: long}}
	r := &Runner{Exec: stub, Resolver: installedResolver(), Platform: linux}
	c := recipe.TestCase{
		Args:   []recipe.Template{"tool"},
		Expect: []recipe.Matcher{{Stream: recipe.StreamStderr, Match: recipe.MatchContains, Value: "needle"}},
	}
	_, err := r.Verify(context.Background(), toolSpec(c), recipe.ModeStable, nil)
	var tf *TestFailedError
	if !errors.As(err, &tf) {
		t.Fatalf("expected TestFailedError, got %v", err)
	}
	if len(tf.Actual) != MaxDetail || tf.Check != "stderr contains" {
		t.Errorf("Actual len = %d, Check = %q", len(tf.Actual), tf.Check)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantLen int
	}{
		{"short", "ok", 2},
		{"ascii over limit", strings.Repeat("x", MaxDetail+10), MaxDetail},
		// "é" is two bytes; the limit falls inside the last one kept whole.
		{"rune across limit", "x" + strings.Repeat("é", MaxDetail), MaxDetail - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := truncate(tt.in)
			if len(got) != tt.wantLen {
				t.Errorf("len(truncate()) = %d, want %d", len(got), tt.wantLen)
			}
			if !utf8.ValidString(got) {
				t.Error("truncate() produced invalid UTF-8")
			}
		})
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		m      recipe.Matcher
		actual string
		want   bool
	}{
		{recipe.Matcher{Match: recipe.MatchExact, Value: "v1.2.3"}, "v1.2.3\n", true},
		{recipe.Matcher{Match: recipe.MatchExact, Value: "v1.2.3\n"}, "v1.2.4\n", false},
		{recipe.Matcher{Match: recipe.MatchContains, Value: "GDAL 3.9"}, "GDAL 3.9.0, released 2024/05/07\n", true},
		{recipe.Matcher{Match: recipe.MatchRegex, Value: `^Rel\. \d+\.\d+`}, "Rel. 9.4.1, June 1st, 2024\n", true},
		{recipe.Matcher{Match: recipe.MatchRegex, Value: `^\d+$`}, "abc", false},
	}
	for _, tt := range tests {
		got, err := Match(tt.m, tt.actual)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Match(%+v, %q) = %v, want %v", tt.m, tt.actual, got, tt.want)
		}
	}

	if _, err := Match(recipe.Matcher{Match: recipe.MatchRegex, Value: "("}, "x"); err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestVerify_FixturesAndExists(t *testing.T) {
	t.Parallel()
	if goruntime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := &Runner{
		Exec:     runtime.NewDispatcher(),
		Resolver: installedResolver(),
		Platform: linux,
		BaseEnv:  map[string]string{"PATH": os.Getenv("PATH")},
		TempDir:  t.TempDir(),
	}
	spec := toolSpec(
		recipe.TestCase{
			Name: "convert",
			Tool: recipe.ToolShell,
			Args: []recipe.Template{"cat in/points.txt > <testpath>/out.txt && printf '%s' \"$HOME\" | grep -q tapforge-test"},
			Fixtures: []recipe.Fixture{
				{Path: "in/points.txt", Content: "1 2\n"},
				{Path: "blob.bin", Content: "AAEC", Encoding: recipe.EncodingBase64},
			},
			Exists: []recipe.Template{"out.txt", "<testpath>/blob.bin"},
		},
		recipe.TestCase{
			Name:   "content",
			Args:   []recipe.Template{"cat", "out.txt"},
			Expect: []recipe.Matcher{{Match: recipe.MatchExact, Value: "1 2"}},
		},
	)
	res, err := r.Verify(context.Background(), spec, recipe.ModeStable, nil)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(res.Passed) != 2 {
		t.Errorf("Passed = %v", res.Passed)
	}

	missing := toolSpec(recipe.TestCase{Args: []recipe.Template{"true"}, Exists: []recipe.Template{"never.txt"}})
	_, err = r.Verify(context.Background(), missing, recipe.ModeStable, nil)
	var tf *TestFailedError
	if !errors.As(err, &tf) || tf.Check != "exists" {
		t.Errorf("expected exists failure, got %v", err)
	}
}

func TestVerify_FixtureEscape(t *testing.T) {
	t.Parallel()

	r := &Runner{Exec: &stubRunner{}, Resolver: installedResolver(), Platform: linux, TempDir: t.TempDir()}
	c := recipe.TestCase{Args: []recipe.Template{"true"}, Fixtures: []recipe.Fixture{{Path: "../evil", Content: "x"}}}
	_, err := r.Verify(context.Background(), toolSpec(c), recipe.ModeStable, nil)
	if !errors.Is(err, ErrTestFailed) || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("expected escape failure, got %v", err)
	}
}
