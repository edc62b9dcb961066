// SPDX-License-Identifier: MIT

//go:build linux

package capture

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr isolates the encoder into its own process group and arms
// the kernel-level kill-on-drop: if this process dies for any reason, the
// child receives SIGKILL without any cleanup code running.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// terminateProcess sends the graceful terminate signal to the child's
// process group, falling back to the process itself if the group signal
// fails (e.g. the child never made it into its own group).
func terminateProcess(cmd *exec.Cmd, pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err == nil {
		return nil
	}
	if cmd.Process != nil {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}

// killProcessGroup force-kills the child's whole process group so any
// helpers the encoder forked die with it.
func killProcessGroup(cmd *exec.Cmd, pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	if cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}
