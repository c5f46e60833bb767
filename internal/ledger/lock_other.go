// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package ledger

// fileLock is a no-op where flock is unavailable; the in-process mutex on
// Ledger is the only serialization.
type fileLock struct{}

func acquireFileLock(string) (*fileLock, error) { return &fileLock{}, nil }

// Release is a no-op.
func (l *fileLock) Release() {}
