// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package runtime

import (
	"os"
	"os/exec"
)

// setProcessGroup falls back to killing only the direct child.
func setProcessGroup(*exec.Cmd) {}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
