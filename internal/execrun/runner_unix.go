//go:build !windows

package execrun

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so a cancel can
// signal every descendant, not just the immediate child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid signals the process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}
