//go:build unix

package smt

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcGroup puts the solver in its own process group so a timeout kill
// reaches worker subprocesses the solver may have forked.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProc(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err == nil {
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}
