package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/aclements/go-gg/table"
	"github.com/spf13/cobra"

	"github.com/weiihann/hindsweep/report"
	"github.com/weiihann/hindsweep/runlog"
	"github.com/weiihann/hindsweep/store"
)

func newHistoryCmd(logger *slog.Logger) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "List recorded sweeps or show one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer db.Close()

			out := cmd.OutOrStdout()

			if len(args) == 0 {
				sweeps, err := db.List(cmd.Context())
				if err != nil {
					return err
				}

				logger.DebugContext(cmd.Context(), "listed sweeps", slog.Int("count", len(sweeps)))

				return printSweeps(out, sweeps)
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid sweep id %q", args[0])
			}

			sw, err := db.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			vals, err := db.Values(cmd.Context(), id)
			if err != nil {
				return err
			}

			return printSweep(out, sw, vals)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "hindsweep.db",
		"History database")

	return cmd
}

func printSweeps(w io.Writer, sweeps []store.Sweep) error {
	if len(sweeps) == 0 {
		_, err := fmt.Fprintln(w, "no sweeps recorded")
		return err
	}

	var (
		ids      = make([]int64, len(sweeps))
		names    = make([]string, len(sweeps))
		services = make([]string, len(sweeps))
		points   = make([]int, len(sweeps))
		created  = make([]string, len(sweeps))
		dirs     = make([]string, len(sweeps))
	)

	for i, sw := range sweeps {
		ids[i] = sw.ID
		names[i] = sw.Name
		services[i] = sw.Service
		points[i] = sw.Points
		created[i] = sw.Created.Local().Format(time.DateTime)
		dirs[i] = sw.OutDir
	}

	t := new(table.Builder).
		Add("id", ids).
		Add("name", names).
		Add("service", services).
		Add("points", points).
		Add("created", created).
		Add("dir", dirs).
		Done()

	return table.Fprint(w, t)
}

// printSweep prints the stored summary of sw, one row per point, followed
// by the spread of every metric across the points.
func printSweep(w io.Writer, sw store.Sweep, vals []store.Value) error {
	fmt.Fprintf(w, "sweep %d %q, service %s, %d points, %s\n\n",
		sw.ID, sw.Name, sw.Service, sw.Points, sw.OutDir)

	idx := make(map[string]int, len(sw.Metrics))
	for i, m := range sw.Metrics {
		idx[m] = i
	}

	tab := &runlog.Table{Columns: sw.Metrics}

	var labels []string

	for _, v := range vals {
		for len(tab.Rows) <= v.Row {
			tab.Rows = append(tab.Rows, runlog.Row{Values: make([]float64, len(sw.Metrics))})
			labels = append(labels, "")
		}

		labels[v.Row] = v.Point

		if i, ok := idx[v.Metric]; ok {
			tab.Rows[v.Row].Values[i] = v.Value
		}
	}

	b := new(table.Builder).Add("point", labels)
	formats := []string{"%s"}

	for _, m := range sw.Metrics {
		b.Add(m, tab.Column(m))
		formats = append(formats, "%.2f")
	}

	if err := table.Fprint(w, b.Done(), formats...); err != nil {
		return err
	}

	fmt.Fprintln(w)

	return report.FprintStats(w, report.Describe(tab))
}
