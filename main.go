// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/tapforge/tapforge/cmd/tapforge"

func main() {
	cmd.Execute()
}
