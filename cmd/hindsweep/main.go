// Package main provides the CLI entry point for hindsweep, a parameter
// sweep harness for the hindsight tracing benchmark.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd(logger, level)
	err := root.ExecuteContext(ctx)

	stop()

	if err != nil {
		logger.Error("hindsweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "hindsweep",
		Short: "Parameter sweep harness for the hindsight tracing benchmark",
		Long: `Hindsweep runs the hindsight benchmark client together with its agent
over a grid of thread counts, payload sizes and buffer sizes, keeps the
steady state of every run and summarizes each configuration into one CSV
row.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				level.Set(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newRunCmd(logger),
		newAggregateCmd(logger),
		newLaunchCmd(logger),
		newPlansCmd(),
		newHistoryCmd(logger),
	)

	return root
}
