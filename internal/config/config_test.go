// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tapforge/tapforge/internal/issue"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/internal/testutil"
	"github.com/tapforge/tapforge/pkg/platform"
	"github.com/tapforge/tapforge/pkg/recipe"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	return testutil.WriteFile(t, filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), content)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Jobs < 1 {
		t.Errorf("Jobs = %d, want >= 1", cfg.Jobs)
	}
	if cfg.BuildMode != recipe.ModeStable {
		t.Errorf("BuildMode = %q, want stable", cfg.BuildMode)
	}
	if cfg.Log.Level != LogLevelInfo || cfg.Log.Format != LogFormatText {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
	if cfg.Env.Inherit != runtime.InheritAll {
		t.Errorf("Env.Inherit = %q, want all", cfg.Env.Inherit)
	}
	if cfg.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", cfg.Timeout)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	loaded, err := LoadWithPath(context.Background(), LoadOptions{
		ConfigDirPath: t.TempDir(),
		Overrides:     map[string]any{"root": root},
	})
	if err != nil {
		t.Fatalf("LoadWithPath: %v", err)
	}
	if loaded.Path != "" {
		t.Errorf("Path = %q, want empty", loaded.Path)
	}
	if loaded.Root != root {
		t.Errorf("Root = %q, want %q", loaded.Root, root)
	}
	if got, want := loaded.RecipeDirs(), []string{filepath.Join(root, "taps")}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("RecipeDirs() = %v, want %v", got, want)
	}
	if got := loaded.SourcesPath(); got != filepath.Join(root, "sources") {
		t.Errorf("SourcesPath() = %q", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	path := writeConfig(t, dir, `
root: "`+filepath.ToSlash(root)+`"
jobs: 3
timeout: "45m"
keep_going: true
build_mode: "head"
platform: {os: "linux", arch: "arm64"}
log: {level: "debug", format: "json"}
env: {
	inherit: "allow"
	allow: ["PATH", "HOME"]
	vars: {CFLAGS: "-O2", MixedCase: "x"}
}
external: [{name: "zlib", prefix: "/usr", config_tool: "/usr/bin/zlib-config"}]
`)

	loaded, err := LoadWithPath(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("LoadWithPath: %v", err)
	}
	cfg := loaded.Config

	if loaded.Path != path {
		t.Errorf("Path = %q, want %q", loaded.Path, path)
	}
	if cfg.Jobs != 3 {
		t.Errorf("Jobs = %d, want 3", cfg.Jobs)
	}
	if cfg.Timeout != 45*time.Minute {
		t.Errorf("Timeout = %v, want 45m", cfg.Timeout)
	}
	if !cfg.KeepGoing {
		t.Error("KeepGoing = false, want true")
	}
	if cfg.BuildMode != recipe.ModeHead {
		t.Errorf("BuildMode = %q, want head", cfg.BuildMode)
	}
	if got := cfg.TargetPlatform(); got != (platform.Platform{OS: platform.Linux, Arch: platform.ARM64}) {
		t.Errorf("TargetPlatform() = %v", got)
	}
	if cfg.Log.Level.SlogLevel().String() != "DEBUG" || cfg.Log.Format != LogFormatJSON {
		t.Errorf("Log = %+v", cfg.Log)
	}

	host := cfg.HostEnv()
	if host.Mode != runtime.InheritAllow || len(host.Allow) != 2 {
		t.Errorf("HostEnv() = %+v", host)
	}
	if host.Vars["CFLAGS"] != "-O2" || host.Vars["MixedCase"] != "x" {
		t.Errorf("Vars = %v, want case-preserved keys", host.Vars)
	}

	ext := cfg.Externals()
	layout, ok := ext.Lookup("zlib")
	if !ok {
		t.Fatal("external zlib not found")
	}
	if layout.Prefix != "/usr" || layout.ConfigTool != "/usr/bin/zlib-config" || !layout.External {
		t.Errorf("layout = %+v", layout)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
root: "`+filepath.ToSlash(filepath.Join(dir, "root"))+`"
jobs: 3
log: {level: "warn"}
`)
	t.Setenv("TAPFORGE_JOBS", "5")
	t.Setenv("TAPFORGE_LOG_LEVEL", "error")

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{
		ConfigFilePath: path,
		Overrides:      map[string]any{"jobs": 7},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Jobs != 7 {
		t.Errorf("Jobs = %d, want override 7", cfg.Jobs)
	}
	if cfg.Log.Level != LogLevelError {
		t.Errorf("Log.Level = %q, want env value error", cfg.Log.Level)
	}
}

func TestLoadConfigDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `root: "`+filepath.ToSlash(filepath.Join(dir, "root"))+`"`+"\njobs: 2\n")

	loaded, err := LoadWithPath(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("LoadWithPath: %v", err)
	}
	if loaded.Path != path || loaded.Jobs != 2 {
		t.Errorf("loaded %q jobs=%d, want %q jobs=2", loaded.Path, loaded.Jobs, path)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax error", "jobs: [", ""},
		{"unknown field", "colour: \"red\"\n", "colour"},
		{"jobs out of range", "jobs: 0\n", "jobs"},
		{"bad duration", "timeout: \"soon\"\n", "timeout"},
		{"bad build mode", "build_mode: \"nightly\"\n", "build_mode"},
		{"external without prefix", "external: [{name: \"zlib\"}]\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := writeConfig(t, dir, tt.content)
			_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path})
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}

			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("error %T is not an ActionableError", err)
			}
			if entry := ae.CatalogEntry(); entry == nil || entry.Id() != issue.ConfigLoadFailedId {
				t.Errorf("CatalogEntry() = %v, want ConfigLoadFailedId", entry)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(context.Background(), LoadOptions{
		ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue"),
	})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Load() error = %v, want not found", err)
	}
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Root = filepath.Join(string(filepath.Separator), "opt", "tapforge")
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"relative root", func(c *Config) { c.Root = "rel" }, "root"},
		{"zero jobs", func(c *Config) { c.Jobs = 0 }, "jobs"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "timeout"},
		{"bad mode", func(c *Config) { c.BuildMode = "x" }, "build_mode"},
		{"bad os", func(c *Config) { c.Platform.OS = "plan9" }, "platform.os"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad inherit", func(c *Config) { c.Env.Inherit = "some" }, "env.inherit"},
		{"duplicate external", func(c *Config) {
			abs := filepath.Join(string(filepath.Separator), "usr")
			c.External = []ExternalConfig{{Name: "zlib", Prefix: abs}, {Name: "zlib", Prefix: abs}}
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Root = filepath.Join(dir, "root")
	cfg.RecipePaths = []string{filepath.Join(dir, "taps")}
	cfg.Jobs = 4
	cfg.Timeout = 90 * time.Minute
	cfg.RebuildDependencies = true
	cfg.Platform.OS = platform.MacOS
	cfg.Env.Deny = []string{"LD_PRELOAD"}
	cfg.Env.Vars = map[string]string{"CC": "clang"}
	cfg.External = []ExternalConfig{{Name: "openssl", Prefix: filepath.Join(dir, "ssl")}}

	path := filepath.Join(dir, "cfg", "config.cue")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load: %v\n%s", err, GenerateCUE(cfg))
	}
	if got.Root != cfg.Root || got.Jobs != 4 || got.Timeout != cfg.Timeout || !got.RebuildDependencies {
		t.Errorf("round trip = %+v", got)
	}
	if got.Platform.OS != platform.MacOS || got.Platform.Arch != "" {
		t.Errorf("Platform = %+v", got.Platform)
	}
	if got.Env.Vars["CC"] != "clang" || len(got.Env.Deny) != 1 {
		t.Errorf("Env = %+v", got.Env)
	}
	if len(got.External) != 1 || got.External[0].Name != "openssl" {
		t.Errorf("External = %+v", got.External)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	t.Parallel()

	want := filepath.Join(t.TempDir(), "nested", "tapforge.cue")
	path, created, err := CreateDefaultConfig(want)
	if err != nil {
		t.Fatalf("CreateDefaultConfig: %v", err)
	}
	if path != want || !created {
		t.Fatalf("CreateDefaultConfig() = %q, %v", path, created)
	}
	if _, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path}); err != nil {
		t.Fatalf("generated default config does not load: %v", err)
	}

	if err := os.WriteFile(path, []byte("jobs: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, created, err := CreateDefaultConfig(path); err != nil || created {
		t.Fatalf("second CreateDefaultConfig = %v, %v", created, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "jobs: 9\n" {
		t.Error("CreateDefaultConfig overwrote an existing file")
	}
}

func TestConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	got, err := ConfigDir()
	if err != nil || got != dir {
		t.Fatalf("ConfigDir() = %q, %v, want %q", got, err, dir)
	}
}

func TestDefaultRootFollowsHome(t *testing.T) {
	home := t.TempDir()
	testutil.SetHomeDir(t, home)

	if got, want := DefaultRoot(), filepath.Join(home, ".tapforge"); got != want {
		t.Errorf("DefaultRoot() = %q, want %q", got, want)
	}

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if !strings.HasPrefix(dir, home) {
		t.Errorf("ConfigDir() = %q, want it under %q", dir, home)
	}
}
