// SPDX-License-Identifier: MPL-2.0

// Package testutil holds small helpers shared by tapforge tests.
//
// Every helper fails the test immediately on error and registers its own
// cleanup, so callers never need to restore state by hand.
package testutil
