//go:build unix

package server

import (
	"golang.org/x/sys/unix"
)

// processAlive sends signal 0, which performs the existence and permission
// checks without delivering anything. EPERM means the process exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
