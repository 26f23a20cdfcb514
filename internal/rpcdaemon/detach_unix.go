//go:build unix

package rpcdaemon

import (
	"os/exec"
	"syscall"
)

// setDetached puts the spawned daemon in its own session so it survives
// this process exiting.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
