// SPDX-License-Identifier: MPL-2.0

// Package orchestrator is the command surface of tapforge. It wires the
// configuration, the recipe tap, the claim ledger and the build executor
// together, decoupling the CLI from component construction.
package orchestrator
