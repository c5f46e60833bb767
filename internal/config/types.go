// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tapforge/tapforge/internal/prereg"
	"github.com/tapforge/tapforge/internal/resolver"
	"github.com/tapforge/tapforge/internal/runtime"
	"github.com/tapforge/tapforge/pkg/platform"
	"github.com/tapforge/tapforge/pkg/recipe"
)

const (
	// LogLevelDebug logs everything.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// LogFormatText writes human-readable lines.
	LogFormatText LogFormat = "text"
	// LogFormatJSON writes one JSON object per line.
	LogFormatJSON LogFormat = "json"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level the CLI logger emits.
	LogLevel string

	// LogFormat selects the CLI logger formatter.
	LogFormat string

	// Config is the complete tapforge configuration.
	Config struct {
		Root                string           `json:"root" mapstructure:"root"`
		RecipePaths         []string         `json:"recipe_paths" mapstructure:"recipe_paths"`
		SourcesDir          string           `json:"sources_dir" mapstructure:"sources_dir"`
		Jobs                int              `json:"jobs" mapstructure:"jobs"`
		Timeout             time.Duration    `json:"timeout" mapstructure:"timeout"`
		KeepGoing           bool             `json:"keep_going" mapstructure:"keep_going"`
		RebuildDependencies bool             `json:"rebuild_dependencies" mapstructure:"rebuild_dependencies"`
		BuildMode           recipe.BuildMode `json:"build_mode" mapstructure:"build_mode"`
		Platform            PlatformConfig   `json:"platform" mapstructure:"platform"`
		Log                 LogConfig        `json:"log" mapstructure:"log"`
		Env                 EnvConfig        `json:"env" mapstructure:"env"`
		External            []ExternalConfig `json:"external" mapstructure:"external"`
	}

	// PlatformConfig overrides the detected host platform.
	PlatformConfig struct {
		OS   platform.OS   `json:"os" mapstructure:"os"`
		Arch platform.Arch `json:"arch" mapstructure:"arch"`
	}

	// LogConfig configures the CLI logger.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// EnvConfig describes the base build environment.
	EnvConfig struct {
		Inherit runtime.InheritMode `json:"inherit" mapstructure:"inherit"`
		Allow   []string            `json:"allow" mapstructure:"allow"`
		Deny    []string            `json:"deny" mapstructure:"deny"`
		Vars    map[string]string   `json:"vars" mapstructure:"vars"`
	}

	// ExternalConfig declares a package installed outside tapforge.
	ExternalConfig struct {
		Name       recipe.PackageName `json:"name" mapstructure:"name"`
		Prefix     string             `json:"prefix" mapstructure:"prefix"`
		ConfigTool string             `json:"config_tool" mapstructure:"config_tool"`
	}

	// InvalidConfigError collects the problems found by Config.Validate.
	InvalidConfigError struct {
		Problems []string
	}
)

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate returns an error if the level is not recognized.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, l)
	}
}

// SlogLevel maps the level to slog. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate returns an error if the format is not recognized.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, f)
	}
}

// Validate checks constraints the schema cannot express and those that
// apply to values coming from the environment or flags.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Root == "" {
		add("root: must not be empty")
	} else if !filepath.IsAbs(c.Root) {
		add("root: %q must be an absolute path", c.Root)
	}
	if c.Jobs < 1 {
		add("jobs: must be at least 1, got %d", c.Jobs)
	}
	if c.Timeout < 0 {
		add("timeout: must not be negative")
	}
	if err := c.BuildMode.Validate(); err != nil {
		add("build_mode: %v", err)
	}
	if c.Platform.OS != "" {
		if err := c.Platform.OS.Validate(); err != nil {
			add("platform.os: %v", err)
		}
	}
	if c.Platform.Arch != "" {
		if err := c.Platform.Arch.Validate(); err != nil {
			add("platform.arch: %v", err)
		}
	}
	if err := c.Log.Level.Validate(); err != nil {
		add("log.level: %v", err)
	}
	if err := c.Log.Format.Validate(); err != nil {
		add("log.format: %v", err)
	}
	if err := c.Env.Inherit.Validate(); err != nil {
		add("env.inherit: %v", err)
	}

	seen := make(map[recipe.PackageName]int, len(c.External))
	for i, ext := range c.External {
		if err := ext.Name.Validate(); err != nil {
			add("external[%d].name: %v", i, err)
		}
		if first, dup := seen[ext.Name]; dup {
			add("external[%d]: duplicate name %q (same as external[%d])", i, ext.Name, first)
		}
		seen[ext.Name] = i
		if !filepath.IsAbs(ext.Prefix) {
			add("external[%d].prefix: %q must be an absolute path", i, ext.Prefix)
		}
	}

	if len(problems) > 0 {
		return &InvalidConfigError{Problems: problems}
	}
	return nil
}

// TargetPlatform returns the configured platform, filling unset parts from
// the host.
func (c *Config) TargetPlatform() platform.Platform {
	p := platform.Current()
	if c.Platform.OS != "" {
		p.OS = c.Platform.OS
	}
	if c.Platform.Arch != "" {
		p.Arch = c.Platform.Arch
	}
	return p
}

// RecipeDirs returns the recipe search path; <root>/taps when none is set.
func (c *Config) RecipeDirs() []string {
	if len(c.RecipePaths) > 0 {
		return slices.Clone(c.RecipePaths)
	}
	return []string{filepath.Join(c.Root, "taps")}
}

// SourcesPath returns the source tree directory; <root>/sources when unset.
func (c *Config) SourcesPath() string {
	if c.SourcesDir != "" {
		return c.SourcesDir
	}
	return filepath.Join(c.Root, "sources")
}

// HostEnv returns the base environment description for builds.
func (c *Config) HostEnv() runtime.HostEnv {
	return runtime.HostEnv{
		Mode:  c.Env.Inherit,
		Allow: slices.Clone(c.Env.Allow),
		Deny:  slices.Clone(c.Env.Deny),
		Vars:  c.Env.Vars,
	}
}

// Externals returns the configured external packages as a lookup.
func (c *Config) Externals() prereg.Static {
	s := make(prereg.Static, len(c.External))
	for _, ext := range c.External {
		s[ext.Name] = resolver.Layout{Prefix: ext.Prefix, ConfigTool: ext.ConfigTool}
	}
	return s
}
