// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tapforge/tapforge/internal/config"
)

// newConfigCommand creates the `tapforge config` command tree.
func newConfigCommand(a *app) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tapforge configuration",
		Long: `Manage tapforge configuration.

Configuration is stored in:
  - Linux: ~/.config/tapforge/config.cue
  - macOS: ~/Library/Application Support/tapforge/config.cue
  - Windows: %APPDATA%\tapforge\config.cue

Every key can be overridden with a TAPFORGE_* environment variable, e.g.
TAPFORGE_JOBS=4 or TAPFORGE_LOG_LEVEL=debug.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		RunE: func(_ *cobra.Command, _ []string) error {
			source := SubtitleStyle.Render("(using defaults)")
			if a.cfg.Path != "" {
				source = a.cfg.Path
			}
			fmt.Fprintf(a.stderr, "%s %s\n\n", TitleStyle.Render("Config file:"), source)
			fmt.Fprint(a.stdout, config.GenerateCUE(a.cfg.Config))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := a.configPath()
			if err != nil {
				return a.fail(err)
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		// The file may not exist yet, so configuration is not loaded first.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := a.configPath()
			if err != nil {
				return a.fail(err)
			}
			path, created, err := config.CreateDefaultConfig(path)
			if err != nil {
				return a.fail(err)
			}
			if !created {
				fmt.Fprintf(a.stdout, "%s already exists\n", path)
				return nil
			}
			fmt.Fprintf(a.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	return cfgCmd
}

// configPath returns the file --config names, or the default location.
func (a *app) configPath() (string, error) {
	if a.cfgFile != "" {
		return a.cfgFile, nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt), nil
}
