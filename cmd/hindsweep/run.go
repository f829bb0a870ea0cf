package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/weiihann/hindsweep/harness"
	"github.com/weiihann/hindsweep/report"
	"github.com/weiihann/hindsweep/store"
	"github.com/weiihann/hindsweep/sweep"
)

// launcherFlags locates the benchmark client and agent.
type launcherFlags struct {
	clientDir string
	clientBin string
	agentDir  string
	agentCmd  []string
	shmDir    string
	silent    bool
}

func (f *launcherFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.clientDir, "client-dir", harness.DefaultClientDir,
		"Benchmark client directory")
	flags.StringVar(&f.clientBin, "client-bin", harness.DefaultClientBin,
		"Benchmark binary, relative to --client-dir")
	flags.StringVar(&f.agentDir, "agent-dir", harness.DefaultAgentDir,
		"Agent working directory")
	flags.StringSliceVar(&f.agentCmd, "agent-cmd", harness.DefaultAgentCmd,
		"Agent command; --serv SERVICE is appended")
	flags.StringVar(&f.shmDir, "shm-dir", harness.DefaultShmDir,
		"Shared memory directory")
	flags.BoolVar(&f.silent, "silent", false,
		"Reset shared memory without asking")
}

func (f *launcherFlags) launcher(logger *slog.Logger) *harness.Launcher {
	l := harness.NewLauncher(logger)
	l.ClientDir = f.clientDir
	l.ClientBin = f.clientBin
	l.AgentDir = f.agentDir
	l.AgentCmd = f.agentCmd
	l.ShmDir = f.shmDir
	l.ClientStderr = os.Stderr

	if !f.silent {
		l.Confirm = confirmOnce(os.Stdin, os.Stderr, f.shmDir)
	}

	return l
}

// confirmOnce asks before the first shared memory reset of each service.
// An empty line or "y" continues; anything else, including end of input,
// declines.
func confirmOnce(in io.Reader, out io.Writer, shmDir string) func(string) error {
	r := bufio.NewReader(in)
	confirmed := make(map[string]bool)

	return func(service string) error {
		if confirmed[service] {
			return nil
		}

		fmt.Fprintf(out, "Remove the shared memory segments of service %q in %s? [Y/n] ",
			service, shmDir)

		answer, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) && answer == "" {
			return errors.New("shared memory reset not confirmed: no input")
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "", "y", "yes":
			confirmed[service] = true

			return nil
		default:
			return errors.New("shared memory reset declined")
		}
	}
}

// outputFlags controls where the summary goes.
type outputFlags struct {
	summary    string
	db         string
	strict     bool
	outputJSON bool
}

func (f *outputFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.summary, "summary", "",
		"Summary CSV path (default OUTDIR/summary.csv)")
	flags.StringVar(&f.db, "db", "",
		"Record the summary in this history database")
	flags.BoolVar(&f.strict, "strict", false,
		"Fail on rows with zero traces when goodput is summarized instead of excluding them")
	flags.BoolVar(&f.outputJSON, "json", false,
		"Print the summary as JSON instead of a table")
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		plan            planFlags
		launch          launcherFlags
		output          outputFlags
		continueOnError bool
	)

	cmd := &cobra.Command{
		Use:   "run OUTDIR",
		Short: "Run a sweep and summarize it",
		Long: `Launch the benchmark once per sweep point, writing one artifact per
point into OUTDIR, then aggregate the artifacts into OUTDIR/summary.csv.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := plan.load(cmd)
			if err != nil {
				return err
			}

			outDir := args[0]

			ctrl := &sweep.Controller{
				Config:          cfg,
				OutDir:          outDir,
				Launcher:        launch.launcher(logger),
				Logger:          logger,
				ContinueOnError: continueOnError,
			}

			if _, err := ctrl.Run(cmd.Context()); err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			return summarize(cmd.Context(), logger, cmd.OutOrStdout(), cfg, outDir, output)
		},
	}

	flags := cmd.Flags()
	plan.register(flags)
	launch.register(flags)
	output.register(flags)
	flags.BoolVar(&continueOnError, "continue-on-error", false,
		"Keep sweeping after a failed point")

	return cmd
}

func newAggregateCmd(logger *slog.Logger) *cobra.Command {
	var (
		plan   planFlags
		output outputFlags
	)

	cmd := &cobra.Command{
		Use:   "aggregate OUTDIR",
		Short: "Summarize the artifacts of a finished sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := plan.load(cmd)
			if err != nil {
				return err
			}

			return summarize(cmd.Context(), logger, cmd.OutOrStdout(), cfg, args[0], output)
		},
	}

	plan.register(cmd.Flags())
	output.register(cmd.Flags())

	return cmd
}

func summarize(
	ctx context.Context,
	logger *slog.Logger,
	w io.Writer,
	cfg sweep.Config,
	outDir string,
	out outputFlags,
) error {
	agg := &report.Aggregator{
		Config: cfg,
		Dir:    outDir,
		Strict: out.strict,
		Logger: logger,
	}

	summary, err := agg.Aggregate(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	path := out.summary
	if path == "" {
		path = filepath.Join(outDir, "summary.csv")
	}

	if err := summary.WriteFile(path); err != nil {
		return err
	}

	logger.InfoContext(ctx, "summary written",
		slog.String("path", path),
		slog.Int("rows", summary.Len()),
	)

	if out.db != "" {
		if err := record(ctx, logger, out.db, cfg, outDir, summary); err != nil {
			return err
		}
	}

	if out.outputJSON {
		return summary.WriteJSON(w)
	}

	return summary.Fprint(w)
}

func record(
	ctx context.Context,
	logger *slog.Logger,
	dbPath string,
	cfg sweep.Config,
	outDir string,
	summary *report.Summary,
) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	absDir, err := filepath.Abs(outDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}

	id, err := db.Save(ctx, cfg, absDir, summary)
	if err != nil {
		return fmt.Errorf("record sweep: %w", err)
	}

	logger.InfoContext(ctx, "sweep recorded",
		slog.String("db", dbPath),
		slog.Int64("id", id),
	)

	return nil
}
