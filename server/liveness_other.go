//go:build !unix

package server

import (
	"os"
)

// processAlive relies on os.FindProcess failing for an exited process, which
// holds on Windows.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
