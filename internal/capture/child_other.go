// SPDX-License-Identifier: MIT

//go:build !linux && !darwin

package capture

import (
	"os"
	"os/exec"
)

func setSysProcAttr(cmd *exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd, pid int) error {
	if cmd.Process != nil {
		return cmd.Process.Signal(os.Interrupt)
	}
	return nil
}

func killProcessGroup(cmd *exec.Cmd, pid int) error {
	if cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}
