package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/hindsweep/report"
	"github.com/weiihann/hindsweep/runlog"
	"github.com/weiihann/hindsweep/sweep"
)

type launchConfig struct {
	threads      int
	bufferSize   int
	bufferCount  int
	payloadSize  int
	tracepoints  int
	trigger      float64
	headSampling float64
	retroactive  float64
	duration     time.Duration
}

// validate applies the sweep checks to the single point c describes.
func (c launchConfig) validate(service string) error {
	cfg := sweep.Config{
		Service:      service,
		Threads:      []int{c.threads},
		BufferSizes:  []int{c.bufferSize},
		PayloadSizes: []int{c.payloadSize},
		BufferCount:  c.bufferCount,
		Tracepoints:  c.tracepoints,
		Trigger:      c.trigger,
		HeadSampling: c.headSampling,
		Retroactive:  c.retroactive,
		Duration:     c.duration,
		Order:        []sweep.Dim{sweep.Threads},
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid launch: %w", err)
	}

	return nil
}

func newLaunchCmd(logger *slog.Logger) *cobra.Command {
	var (
		cfg    launchConfig
		launch launcherFlags
	)

	cmd := &cobra.Command{
		Use:   "launch SERVICE OUT",
		Short: "Run the benchmark once",
		Long: `Run one benchmark of SERVICE alongside its agent, write the client's
output to OUT and print the steady state statistics of every column.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := cfg.validate(args[0]); err != nil {
				return err
			}

			p := sweep.NewPoint(args[0],
				cfg.threads, cfg.bufferSize, cfg.bufferCount,
				cfg.payloadSize, cfg.tracepoints,
				cfg.trigger, cfg.headSampling, cfg.retroactive,
				cfg.duration,
			)

			if err := launch.launcher(logger).Launch(ctx, p, args[1]); err != nil {
				return fmt.Errorf("launch %s: %w", args[0], err)
			}

			tab, err := runlog.ParseFile(args[1])
			if err != nil {
				return err
			}

			steady := tab.Steady()

			logger.InfoContext(ctx, "run summarized",
				slog.Int("data_lines", len(tab.Rows)),
				slog.Int("steady_lines", len(steady.Rows)),
			)

			return report.FprintStats(cmd.OutOrStdout(), report.Describe(steady))
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.threads, "threads", 1,
		"Client threads")
	flags.IntVar(&cfg.bufferSize, "buffer-size", 4096,
		"Buffer size in bytes")
	flags.IntVar(&cfg.bufferCount, "buffer-count", 25000,
		"Number of buffers in the pool")
	flags.IntVar(&cfg.payloadSize, "payload-size", 1000,
		"Payload size in bytes")
	flags.IntVar(&cfg.tracepoints, "tracepoints", 100,
		"Tracepoints per request")
	flags.Float64Var(&cfg.trigger, "trigger", 0,
		"Trigger probability")
	flags.Float64Var(&cfg.headSampling, "headsampling", 0,
		"Head sampling probability")
	flags.Float64Var(&cfg.retroactive, "retroactive", 1,
		"Retroactive sampling probability")
	flags.DurationVar(&cfg.duration, "duration", 60*time.Second,
		"Run duration")
	launch.register(flags)

	return cmd
}
