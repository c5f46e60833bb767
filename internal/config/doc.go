// SPDX-License-Identifier: MPL-2.0

// Package config handles tapforge configuration using Viper with CUE as the
// file format.
//
// Configuration is loaded from config.cue in the tapforge configuration
// directory ($XDG_CONFIG_HOME/tapforge on Linux, ~/Library/Application
// Support/tapforge on macOS, %APPDATA%\tapforge on Windows), or from an
// explicit file. The file is validated against the embedded #Config schema
// (config_schema.cue) before it is merged over the defaults. TAPFORGE_*
// environment variables override file values; explicit overrides, usually
// command-line flags, win over everything.
package config
