//go:build unix

package harness

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return nil
	}

	pgid, err := unix.Getpgid(p.Pid)
	if err != nil {
		return err
	}

	return unix.Kill(-pgid, sig)
}

func interruptGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGINT)
}

func killGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func processGone(err error) bool {
	return errors.Is(err, unix.ESRCH)
}
