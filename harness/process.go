package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Handle is a started or startable child process.
//
// Output is only meaningful for processes created with captured output and
// only after Start; reaching EOF on it is the completion signal. Terminate
// interrupts the process group and waits for the process to exit.
type Handle interface {
	Start() error
	Output() io.Reader
	Wait() error
	Terminate() error
}

// Process runs a command in its own process group so that everything it
// spawns (for example the binary behind "go run") can be signalled at once.
type Process struct {
	name    string
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	capture bool
	grace   time.Duration
	logger  *slog.Logger

	waitOnce sync.Once
	done     chan struct{}
	waitErr  error
}

// ProcessConfig describes a child process.
type ProcessConfig struct {
	Name string
	Argv []string
	Dir  string

	// Capture pipes stdout to Output. Otherwise stdout goes to Stdout.
	Capture bool
	Stdout  io.Writer
	Stderr  io.Writer

	// Grace is how long Terminate waits after the interrupt before it
	// kills the group.
	Grace time.Duration
}

// NewProcess prepares a process. Cancelling ctx kills the whole group.
func NewProcess(ctx context.Context, cfg ProcessConfig, logger *slog.Logger) *Process {
	cmd := exec.CommandContext(ctx, cfg.Argv[0], cfg.Argv[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Stderr = cfg.Stderr

	if !cfg.Capture {
		cmd.Stdout = cfg.Stdout
	}

	setProcessGroup(cmd)

	cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}
	cmd.WaitDelay = cfg.Grace

	return &Process{
		name:    cfg.Name,
		cmd:     cmd,
		capture: cfg.Capture,
		grace:   cfg.Grace,
		logger:  logger.With(slog.String("process", cfg.Name)),
		done:    make(chan struct{}),
	}
}

// Start starts the process.
func (p *Process) Start() error {
	if p.capture {
		out, err := p.cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("%s: stdout pipe: %w", p.name, err)
		}

		p.stdout = out
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.name, err)
	}

	p.logger.Debug("started",
		slog.Int("pid", p.cmd.Process.Pid),
		slog.String("cmd", p.cmd.String()),
	)

	return nil
}

// Output returns the captured stdout, or nil.
func (p *Process) Output() io.Reader {
	return p.stdout
}

func (p *Process) startWait() {
	p.waitOnce.Do(func() {
		go func() {
			p.waitErr = p.cmd.Wait()
			close(p.done)
		}()
	})
}

// Wait waits for the process to exit. With captured output, Wait must only
// be called once Output has been read to EOF.
func (p *Process) Wait() error {
	p.startWait()
	<-p.done

	return p.waitErr
}

// Terminate sends an interrupt to the process group and waits for the
// process to exit, killing the group if it outlives the grace period.
// An exit caused by the interrupt is not an error.
func (p *Process) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}

	p.startWait()

	select {
	case <-p.done:
		// Already gone; nothing to signal.
		return exitErr(p.waitErr)
	default:
	}

	p.logger.Debug("interrupting process group")

	if err := interruptGroup(p.cmd.Process); err != nil && !processGone(err) {
		p.logger.Error("interrupt failed, killing process group",
			slog.String("error", err.Error()),
		)

		kerr := killGroup(p.cmd.Process)
		<-p.done

		return errors.Join(fmt.Errorf("interrupt %s: %w", p.name, err), kerr)
	}

	var timeout <-chan time.Time
	if p.grace > 0 {
		timer := time.NewTimer(p.grace)
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case <-p.done:
		return exitErr(p.waitErr)
	case <-timeout:
	}

	p.logger.Warn("process ignored interrupt, killing process group",
		slog.Duration("grace", p.grace),
	)

	if err := killGroup(p.cmd.Process); err != nil && !processGone(err) {
		return fmt.Errorf("kill %s: %w", p.name, err)
	}

	<-p.done

	return exitErr(p.waitErr)
}

// exitErr drops exit status errors: a terminated process is expected to
// report a signal or a non-zero status.
func exitErr(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return nil
	}

	return err
}
