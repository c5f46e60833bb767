// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE compile/unify/decode sequence shared by the
// recipe loader and the configuration loader.
//
// Every declarative file tapforge reads goes through the same three steps:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify it with the schema definition
//  3. Validate and decode into a Go value
//
// Errors are reported with JSON-path style locations such as
// "steps[2].args[0]" so recipe authors can find the offending field.
package cueutil
