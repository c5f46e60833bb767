// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tapforge/tapforge/internal/issue"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/pkg/cueutil"
	"github.com/tapforge/tapforge/pkg/recipe"
)

const (
	// AppName is the application name.
	AppName = "tapforge"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. TAPFORGE_JOBS.
	EnvPrefix = "TAPFORGE"
)

//go:embed config_schema.cue
var configSchema string

// DefaultRoot returns ~/.tapforge, or the empty string when the home
// directory is unknown.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "."+AppName)
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Root:      DefaultRoot(),
		Jobs:      max(1, goruntime.NumCPU()),
		BuildMode: recipe.ModeStable,
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Env: EnvConfig{
			Inherit: runtime.InheritAll,
			Vars:    map[string]string{},
		},
	}
}

// ConfigDir returns the tapforge configuration directory using
// platform-specific conventions: %APPDATA% on Windows, ~/Library/Application
// Support on macOS, and $XDG_CONFIG_HOME (defaulting to ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch goruntime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions loads configuration in precedence order: defaults, the
// CUE file, TAPFORGE_* environment variables, then explicit overrides.
// It returns the path of the file that was loaded, if any.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	var fileVars map[string]string
	if resolvedPath != "" {
		if fileVars, err = loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'tapforge config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	for _, key := range slices.Sorted(maps.Keys(opts.Overrides)) {
		v.Set(key, opts.Overrides[key])
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if len(fileVars) > 0 {
		if cfg.Env.Vars == nil {
			cfg.Env.Vars = make(map[string]string, len(fileVars))
		}
		maps.Copy(cfg.Env.Vars, fileVars)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check TAPFORGE_* environment variables and command-line flags").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// setDefaults registers every key so AutomaticEnv can see it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("root", d.Root)
	v.SetDefault("recipe_paths", d.RecipePaths)
	v.SetDefault("sources_dir", d.SourcesDir)
	v.SetDefault("jobs", d.Jobs)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("keep_going", d.KeepGoing)
	v.SetDefault("rebuild_dependencies", d.RebuildDependencies)
	v.SetDefault("build_mode", string(d.BuildMode))
	v.SetDefault("platform.os", string(d.Platform.OS))
	v.SetDefault("platform.arch", string(d.Platform.Arch))
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("env.inherit", string(d.Env.Inherit))
	v.SetDefault("env.allow", d.Env.Allow)
	v.SetDefault("env.deny", d.Env.Deny)
	v.SetDefault("env.vars", d.Env.Vars)
	v.SetDefault("external", d.External)
}

// resolveConfigFile picks the file to load. An explicit path must exist; the
// default locations are optional.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'tapforge config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cuePath) {
		return cuePath, nil
	}
	return "", nil
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into
// Viper. Fields are optional, so the check is non-concrete. env.vars is
// returned separately because Viper lowercases map keys and variable names
// are case-sensitive.
func loadCUEIntoViper(v *viper.Viper, path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := cueutil.DecodeMap(configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return nil, err
	}

	var vars map[string]string
	if env, ok := configMap["env"].(map[string]any); ok {
		if raw, ok := env["vars"].(map[string]any); ok {
			vars = make(map[string]string, len(raw))
			for k, val := range raw {
				vars[k] = fmt.Sprint(val)
			}
			delete(env, "vars")
		}
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return vars, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration to path unless the
// file exists. An empty path means config.cue in ConfigDir(). It reports
// the path and whether a file was created.
func CreateDefaultConfig(path string) (string, bool, error) {
	if path == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", false, err
		}
		path = filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	}
	if fileExists(path) {
		return path, false, nil
	}
	if err := Save(DefaultConfig(), path); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Save writes cfg as CUE to path, replacing any existing file atomically.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.cue")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(GenerateCUE(cfg)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// GenerateCUE renders the configuration as a CUE document accepted by
// #Config. Empty optional fields are omitted.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// tapforge configuration file\n\n")

	if cfg.Root != "" {
		fmt.Fprintf(&sb, "root: %q\n", cfg.Root)
	}
	if len(cfg.RecipePaths) > 0 {
		sb.WriteString("recipe_paths: [")
		for i, p := range cfg.RecipePaths {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%q", p)
		}
		sb.WriteString("]\n")
	}
	if cfg.SourcesDir != "" {
		fmt.Fprintf(&sb, "sources_dir: %q\n", cfg.SourcesDir)
	}
	fmt.Fprintf(&sb, "jobs: %d\n", cfg.Jobs)
	fmt.Fprintf(&sb, "timeout: %q\n", formatDuration(cfg.Timeout))
	fmt.Fprintf(&sb, "keep_going: %v\n", cfg.KeepGoing)
	fmt.Fprintf(&sb, "rebuild_dependencies: %v\n", cfg.RebuildDependencies)
	if cfg.BuildMode != "" {
		fmt.Fprintf(&sb, "build_mode: %q\n", cfg.BuildMode)
	}

	if cfg.Platform.OS != "" || cfg.Platform.Arch != "" {
		sb.WriteString("\nplatform: {\n")
		if cfg.Platform.OS != "" {
			fmt.Fprintf(&sb, "\tos: %q\n", cfg.Platform.OS)
		}
		if cfg.Platform.Arch != "" {
			fmt.Fprintf(&sb, "\tarch: %q\n", cfg.Platform.Arch)
		}
		sb.WriteString("}\n")
	}

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	sb.WriteString("\nenv: {\n")
	if cfg.Env.Inherit != "" {
		fmt.Fprintf(&sb, "\tinherit: %q\n", cfg.Env.Inherit)
	}
	writeList(&sb, "allow", cfg.Env.Allow)
	writeList(&sb, "deny", cfg.Env.Deny)
	if len(cfg.Env.Vars) > 0 {
		sb.WriteString("\tvars: {\n")
		for _, k := range slices.Sorted(maps.Keys(cfg.Env.Vars)) {
			fmt.Fprintf(&sb, "\t\t%q: %q\n", k, cfg.Env.Vars[k])
		}
		sb.WriteString("\t}\n")
	}
	sb.WriteString("}\n")

	if len(cfg.External) > 0 {
		sb.WriteString("\nexternal: [\n")
		for _, ext := range cfg.External {
			if ext.ConfigTool != "" {
				fmt.Fprintf(&sb, "\t{name: %q, prefix: %q, config_tool: %q},\n", ext.Name, ext.Prefix, ext.ConfigTool)
			} else {
				fmt.Fprintf(&sb, "\t{name: %q, prefix: %q},\n", ext.Name, ext.Prefix)
			}
		}
		sb.WriteString("]\n")
	}

	return sb.String()
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "\t%s: [", key)
	for i, s := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%q", s)
	}
	sb.WriteString("]\n")
}

// formatDuration renders d in a form the schema accepts.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0"
	}
	return d.String()
}
