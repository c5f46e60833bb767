// SPDX-License-Identifier: MPL-2.0

// Package runtime runs build and test invocations as subprocesses.
//
// Two runners implement Runner:
//
//   - NativeRunner executes a program with os/exec in its own process
//     group. When the context ends the whole group is killed, so compiler
//     children spawned by make or cmake do not outlive a cancelled build.
//   - VirtualRunner interprets a POSIX shell snippet in-process with
//     mvdan.cc/sh. External commands the snippet calls still run natively.
//
// Both capture stdout, stderr and their interleaving into one Result.
package runtime
