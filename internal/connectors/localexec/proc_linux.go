//go:build linux

package localexec

import (
	"os/exec"
	"syscall"
)

// configureEngineProc puts the engine in its own process group and has the
// kernel kill it if querygate dies without running Terminate.
func configureEngineProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

func killEngineProc(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
