// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and the catalog of markdown
// guidance the CLI renders for each failure kind.
package issue
