// SPDX-License-Identifier: MPL-2.0

// Package platform identifies the host a build runs on and evaluates the
// platform predicates recipes attach to dependencies, build steps and test
// cases. Every "only on macOS" style condition in a recipe is answered by
// Predicate.Matches and nowhere else.
package platform
