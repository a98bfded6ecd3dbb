//go:build windows

package core

import (
	"syscall"
	"unsafe"
)

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess        = kernel32.NewProc("OpenProcess")
	procCloseHandle        = kernel32.NewProc("CloseHandle")
	procGetExitCodeProcess = kernel32.NewProc("GetExitCodeProcess")
)

const (
	processQueryInformation = 0x0400
	stillActive             = 259
)

// isProcessAlive reports whether the PID recorded in a lock file still names
// a running process. On Windows the PID must be opened and its exit code
// inspected; a reused PID whose process has exited reports not alive.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	handle, _, _ := procOpenProcess.Call(
		uintptr(processQueryInformation),
		uintptr(0),
		uintptr(pid),
	)
	if handle == 0 {
		return false
	}
	defer procCloseHandle.Call(handle)

	var exitCode uint32
	if ret, _, _ := procGetExitCodeProcess.Call(handle, uintptr(unsafe.Pointer(&exitCode))); ret == 0 {
		return false
	}
	return exitCode == stillActive
}
