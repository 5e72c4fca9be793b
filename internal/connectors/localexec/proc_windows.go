//go:build windows

package localexec

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

func configureEngineProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

func killEngineProc(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
