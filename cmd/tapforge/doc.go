// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the tapforge CLI commands.
package cmd
