// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tapforge/tapforge/internal/app/orchestrator"
	"github.com/tapforge/tapforge/internal/build"
	"github.com/tapforge/tapforge/internal/config"
	"github.com/tapforge/tapforge/pkg/recipe"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// app holds the state shared by one invocation of the command tree.
	app struct {
		stdout io.Writer
		stderr io.Writer

		cfgFile     string
		verbose     bool
		root        string
		jobs        int
		timeout     time.Duration
		keepGoing   bool
		head        bool
		rebuildDeps bool
		logFormat   string

		cfg    *config.Loaded
		logger *slog.Logger
		// setDefault installs logger as the slog default. Off in tests.
		setDefault bool

		// newOrchestrator is replaced in tests.
		newOrchestrator func(orchestrator.Options) (*orchestrator.Orchestrator, error)
	}
)

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:          stdout,
		stderr:          stderr,
		logger:          slog.Default(),
		newOrchestrator: orchestrator.New,
	}
}

// newRootCommand builds the command tree around a.
func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tapforge",
		Short: "Dependency-aware builds for native packages",
		Long: TitleStyle.Render("tapforge") + SubtitleStyle.Render(" - dependency-aware builds for native packages") + `

tapforge reads a tap of CUE recipes, orders the requested packages and their
dependencies, builds them into one installation root and runs each recipe's
smoke tests.

` + SubtitleStyle.Render("Examples:") + `
  tapforge plan osgeo-gdal          Show the build order
  tapforge build osgeo-gdal         Build, install and test
  tapforge build --head osgeo-proj  Build the head checkout
  tapforge test osgeo-proj          Rerun the tests of an install
  tapforge config show              Show the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is <config dir>/tapforge/config.cue)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging and full error chains")
	flags.StringVar(&a.root, "root", "", "installation root")
	flags.IntVarP(&a.jobs, "jobs", "j", 0, "packages built concurrently")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-package time budget for build and tests (0 disables)")
	flags.BoolVarP(&a.keepGoing, "keep-going", "k", false, "keep building unrelated packages after a failure")
	flags.BoolVar(&a.head, "head", false, "build the requested packages from their head source")
	flags.BoolVar(&a.rebuildDeps, "rebuild-dependencies", false, "rebuild dependencies that are already installed")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(
		newPlanCommand(a),
		newBuildCommand(a),
		newTestCommand(a),
		newUninstallCommand(a),
		newLogCommand(a),
		newConfigCommand(a),
	)
	return rootCmd
}

// overrides returns the config keys set by flags the user changed.
func (a *app) overrides(cmd *cobra.Command) map[string]any {
	flags := cmd.Flags()
	out := make(map[string]any)
	if flags.Changed("root") {
		out["root"] = a.root
	}
	if flags.Changed("jobs") {
		out["jobs"] = a.jobs
	}
	if flags.Changed("timeout") {
		out["timeout"] = a.timeout
	}
	if flags.Changed("keep-going") {
		out["keep_going"] = a.keepGoing
	}
	if flags.Changed("head") && a.head {
		out["build_mode"] = string(recipe.ModeHead)
	}
	if flags.Changed("rebuild-dependencies") {
		out["rebuild_dependencies"] = a.rebuildDeps
	}
	if flags.Changed("log-format") {
		out["log.format"] = a.logFormat
	}
	if a.verbose {
		out["log.level"] = string(config.LogLevelDebug)
	}
	return out
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	loaded, err := config.LoadWithPath(cmd.Context(), config.LoadOptions{
		ConfigFilePath: a.cfgFile,
		Overrides:      a.overrides(cmd),
	})
	if err != nil {
		return a.fail(err)
	}
	a.cfg = loaded
	a.logger = newLogger(a.stderr, loaded.Log)
	if a.setDefault {
		slog.SetDefault(a.logger)
	}
	a.logger.Debug("configuration loaded", "path", loaded.Path, "root", loaded.Root)
	return nil
}

// newLogger returns a slog logger backed by a charmbracelet/log handler.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := log.Options{
		Prefix:          "tapforge",
		Level:           log.Level(cfg.Level.SlogLevel()),
		ReportTimestamp: cfg.Level == config.LogLevelDebug,
		TimeFormat:      time.TimeOnly,
	}
	if cfg.Format == config.LogFormatJSON {
		opts.Formatter = log.JSONFormatter
		opts.ReportTimestamp = true
	}
	return slog.New(log.NewWithOptions(w, opts))
}

// orchestrator builds an Orchestrator from the loaded configuration.
func (a *app) orchestrator(observer build.Observer) (*orchestrator.Orchestrator, error) {
	var testOut io.Writer
	if a.verbose {
		testOut = a.stderr
	}
	return a.newOrchestrator(orchestrator.Options{
		Config:     a.cfg.Config,
		Observer:   observer,
		TestOutput: testOut,
		Logger:     a.logger,
	})
}

func targetNames(args []string) ([]recipe.PackageName, error) {
	names := make([]recipe.PackageName, 0, len(args))
	for _, arg := range args {
		n := recipe.PackageName(arg)
		if err := n.Validate(); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	a := newApp(os.Stdout, os.Stderr)
	a.setDefault = true
	rootCmd := newRootCommand(a)

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
