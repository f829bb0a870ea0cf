//go:build !unix

package harness

import (
	"errors"
	"os"
	"os/exec"
)

// Without process groups only the direct child is signalled.

func setProcessGroup(*exec.Cmd) {}

func interruptGroup(p *os.Process) error {
	if p == nil {
		return nil
	}

	if err := p.Signal(os.Interrupt); err != nil {
		return p.Kill()
	}

	return nil
}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}

	return p.Kill()
}

func processGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
