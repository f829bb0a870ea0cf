// Package harness runs one benchmark launch: it resets the service's shared
// memory, starts the benchmark client with its agent and captures the
// client's output as a run artifact.
package harness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/weiihann/hindsweep/runlog"
	"github.com/weiihann/hindsweep/sweep"
)

// Default timing parameters.
const (
	DefaultSlack = 2 * time.Minute
	DefaultGrace = 10 * time.Second
)

// Launcher runs the benchmark client and its companion agent for one
// sweep point. It implements sweep.Launcher.
type Launcher struct {
	ClientDir string
	ClientBin string
	AgentDir  string
	AgentCmd  []string
	ShmDir    string

	// Confirm, when set, is asked before shared memory is reset. A
	// non-nil error aborts the launch.
	Confirm func(service string) error

	// Slack is added to the point's duration to get the hard timeout of
	// one launch. Negative disables the timeout.
	Slack time.Duration

	// Grace bounds how long the agent may take to exit after the
	// interrupt before it is killed.
	Grace time.Duration

	// ClientStderr and AgentOutput receive the processes' diagnostic
	// output. Nil discards it.
	ClientStderr io.Writer
	AgentOutput  io.Writer

	Logger *slog.Logger

	// spawn creates process handles; tests replace it.
	spawn func(ctx context.Context, cfg ProcessConfig) Handle
}

// NewLauncher returns a Launcher with the default layout.
func NewLauncher(logger *slog.Logger) *Launcher {
	return &Launcher{
		ClientDir: DefaultClientDir,
		ClientBin: DefaultClientBin,
		AgentDir:  DefaultAgentDir,
		AgentCmd:  append([]string(nil), DefaultAgentCmd...),
		ShmDir:    DefaultShmDir,
		Slack:     DefaultSlack,
		Grace:     DefaultGrace,
		Logger:    logger,
	}
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return l.Logger
}

func (l *Launcher) newHandle(ctx context.Context, cfg ProcessConfig) Handle {
	if l.spawn != nil {
		return l.spawn(ctx, cfg)
	}

	return NewProcess(ctx, cfg, l.logger())
}

// Launch runs one benchmark at p and stores its output at artifactPath.
//
// Shared memory is reset first. The client and the agent then run side by
// side until the client closes its stdout, after which the agent's process
// group is interrupted and awaited. The agent is torn down on every path
// out of Launch once it has started. The artifact only appears when the
// client exits cleanly after printing at least one data line; otherwise
// whatever was captured is left at artifactPath + ".partial".
func (l *Launcher) Launch(
	ctx context.Context,
	p sweep.Point,
	artifactPath string,
) (err error) {
	logger := l.logger().With(
		slog.String("service", p.Service()),
		slog.String("point", p.String()),
	)

	if l.Confirm != nil {
		if err := l.Confirm(p.Service()); err != nil {
			return fmt.Errorf("confirm reset: %w", err)
		}
	}

	shmDir := l.ShmDir
	if shmDir == "" {
		shmDir = DefaultShmDir
	}

	if err := ResetShm(shmDir, p.Service()); err != nil {
		return fmt.Errorf("reset shared memory: %w", err)
	}

	logger.DebugContext(ctx, "reset shared memory", slog.String("dir", shmDir))

	clientPath, err := ResolveClient(l.ClientDir, l.ClientBin)
	if err != nil {
		return err
	}

	clientCtx := ctx

	var timeout time.Duration
	if l.Slack >= 0 {
		timeout = p.Duration() + l.Slack

		var cancel context.CancelFunc
		clientCtx, cancel = context.WithTimeout(clientCtx, timeout)
		defer cancel()
	}

	clientCtx, cancelClient := context.WithCancel(clientCtx)
	defer cancelClient()

	client := l.newHandle(clientCtx, ProcessConfig{
		Name:    "client",
		Argv:    append([]string{clientPath}, ClientArgs(p)...),
		Dir:     l.ClientDir,
		Capture: true,
		Stderr:  l.ClientStderr,
		Grace:   l.Grace,
	})

	logger.InfoContext(ctx, "starting benchmark",
		slog.Duration("duration", p.Duration()),
		slog.Duration("timeout", timeout),
	)

	if err := client.Start(); err != nil {
		return fmt.Errorf("start benchmark: %w", err)
	}

	// The agent is only ever stopped through Terminate, never by
	// cancellation, so that it always gets its interrupt.
	agent := l.newHandle(context.WithoutCancel(ctx), ProcessConfig{
		Name:   "agent",
		Argv:   AgentArgs(l.AgentCmd, p.Service()),
		Dir:    l.AgentDir,
		Stdout: l.AgentOutput,
		Stderr: l.AgentOutput,
		Grace:  l.Grace,
	})

	if err := agent.Start(); err != nil {
		cancelClient()
		_ = client.Wait()

		return fmt.Errorf("start agent: %w", err)
	}

	defer func() {
		logger.DebugContext(ctx, "terminating agent")

		if terr := agent.Terminate(); terr != nil {
			logger.ErrorContext(ctx, "agent termination failed",
				slog.String("error", terr.Error()),
			)

			err = errors.Join(err, fmt.Errorf("terminate agent: %w", terr))
		}
	}()

	partial := artifactPath + ".partial"

	dataLines, drainErr := drain(client.Output(), partial)
	if drainErr != nil {
		// Stop the client so Wait cannot hang on a stream nobody reads.
		cancelClient()
	}

	waitErr := client.Wait()

	switch {
	case drainErr != nil:
		return fmt.Errorf("read benchmark output: %w", drainErr)
	case ctx.Err() != nil:
		return fmt.Errorf("benchmark interrupted: %w", ctx.Err())
	case errors.Is(clientCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("benchmark exceeded timeout %s", timeout)
	case waitErr != nil:
		return fmt.Errorf("benchmark failed: %w", waitErr)
	case dataLines == 0:
		return fmt.Errorf("benchmark output %s: %w", partial, runlog.ErrNoData)
	}

	if err := os.Rename(partial, artifactPath); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	logger.InfoContext(ctx, "benchmark finished",
		slog.Int("data_lines", dataLines),
		slog.String("artifact", artifactPath),
	)

	return nil
}

// drain copies r line by line to the file at path until EOF and counts
// the data lines.
func drain(r io.Reader, path string) (dataLines int, err error) {
	if r == nil {
		return 0, errors.New("benchmark output not captured")
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create artifact: %w", err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close artifact: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for s.Scan() {
		line := s.Text()

		if strings.HasPrefix(strings.TrimSpace(line), "data:") {
			dataLines++
		}

		if _, err := w.WriteString(line + "\n"); err != nil {
			return dataLines, fmt.Errorf("write artifact: %w", err)
		}
	}

	if err := s.Err(); err != nil {
		// Keep what was read for inspection.
		_ = w.Flush()

		return dataLines, err
	}

	if err := w.Flush(); err != nil {
		return dataLines, fmt.Errorf("write artifact: %w", err)
	}

	return dataLines, nil
}
