//go:build unix

package main

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setDetached puts the spawned gateway process in its own session so it
// survives this CLI invocation exiting, the same approach the RPC Daemon
// Manager uses for the agent daemon.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func killProcess(pid int) error {
	return unix.Kill(pid, syscall.SIGTERM)
}

// killProcess0 is a signal-0 liveness probe: it never actually signals the
// process, it only checks for its existence and permission. EPERM (owned
// by another user) is treated as alive.
func killProcess0(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
