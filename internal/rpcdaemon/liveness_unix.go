//go:build unix

package rpcdaemon

import "golang.org/x/sys/unix"

// isProcessAlive does a signal-0-style probe: sending signal 0 only checks
// for the process's existence and permission, it never actually signals
// it. EPERM (the process exists but belongs to another user) is treated as
// alive, matching the spec's explicit rule.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil || err == unix.EPERM {
		return true
	}
	return false
}
