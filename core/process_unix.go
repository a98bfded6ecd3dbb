//go:build !windows

package core

import (
	"os"
	"syscall"
)

// isProcessAlive reports whether the PID recorded in a lock file still names
// a running process. Signal 0 performs the existence check without delivering
// anything to the target.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
