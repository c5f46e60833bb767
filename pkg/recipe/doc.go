// SPDX-License-Identifier: MPL-2.0

// Package recipe defines PackageSpec, the immutable description of one
// buildable package, and loads it from CUE recipe files.
//
// A tap is a directory of *.cue files, one package per file. Each file is
// unified with the embedded #Recipe schema, decoded, and then checked by
// Go-level validation: name syntax, duplicate dependencies, unknown tools,
// malformed placeholders, shell syntax and regex compilation.
//
// Argument templates may contain placeholders that are resolved only at
// execution time:
//
//	<dep:NAME:ATTR>   layout attribute of a dependency
//	<self:ATTR>       layout attribute of the package being built
//	<source>          the package's source directory
//	<testpath>        the per-test scratch directory (test cases only)
//
// ATTR is one of prefix, bin, lib, include, share or config-tool-path.
package recipe
