package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/weiihann/hindsweep/metrics"
	"github.com/weiihann/hindsweep/runlog"
	"github.com/weiihann/hindsweep/sweep"
)

// ErrIncomplete is returned when some sweep point has no summary row.
var ErrIncomplete = errors.New("incomplete sweep")

// Aggregator turns the run artifacts of a sweep into a Summary.
type Aggregator struct {
	Config sweep.Config
	Dir    string

	// Strict fails the aggregation on the first row whose goodput is
	// undefined instead of excluding that row.
	Strict bool

	Logger *slog.Logger
}

// Aggregate loads the artifact of every sweep point, keeps each run's
// stability window, tags the rows with the point's swept dimensions,
// derives metrics and averages every metric per point.
//
// Artifacts are located with the same enumeration and naming as the sweep
// controller uses. Any missing or malformed artifact fails the whole
// aggregation; no partial summary is produced.
func (a *Aggregator) Aggregate(ctx context.Context) (*Summary, error) {
	if err := a.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweep: %w", err)
	}

	logger := a.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	points := a.Config.Points()
	keys := a.Config.GroupColumns()

	obs, rowErrs, err := a.load(ctx, logger, points, keys)
	if err != nil {
		return nil, err
	}

	cols, err := a.metricColumns(obs, keys)
	if err != nil {
		return nil, err
	}

	obs, excluded, err := a.exclude(ctx, logger, obs, cols, rowErrs)
	if err != nil {
		return nil, err
	}

	if len(obs.Rows) == 0 {
		return nil, fmt.Errorf("%w: no steady state rows in any artifact", ErrIncomplete)
	}

	summary, err := summarize(obs, keys, cols)
	if err != nil {
		return nil, err
	}

	summary.Excluded = excluded

	if err := checkComplete(summary, points); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "aggregated sweep",
		slog.Int("points", len(points)),
		slog.Int("rows", len(obs.Rows)),
		slog.Int("excluded_rows", len(excluded)),
	)

	return summary, nil
}

func (a *Aggregator) load(
	ctx context.Context,
	logger *slog.Logger,
	points []sweep.Point,
	keys []string,
) (*runlog.Table, []*metrics.RowError, error) {
	var (
		obs     *runlog.Table
		rowErrs []*metrics.RowError
	)

	rawCols := 0

	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		name := sweep.ArtifactName(p)

		tab, err := runlog.ParseFile(filepath.Join(a.Dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("load artifact %s: %w", name, err)
		}

		if len(tab.Rows) == 0 {
			return nil, nil, &runlog.ParseError{
				Artifact: name,
				Msg:      runlog.ErrNoData.Error(),
				Err:      runlog.ErrNoData,
			}
		}

		if obs == nil {
			for _, k := range keys {
				if tab.Index(k) >= 0 {
					return nil, nil, fmt.Errorf(
						"artifact %s: column %q clashes with a swept dimension",
						name, k,
					)
				}
			}

			rawCols = len(tab.Columns)
		} else if !sameColumns(tab.Columns, obs.Columns[:rawCols]) {
			return nil, nil, fmt.Errorf(
				"artifact %s: columns %v differ from earlier artifacts %v",
				name, tab.Columns, obs.Columns[:rawCols],
			)
		}

		steady := tab.Steady()

		tagged := &runlog.Table{
			Columns: append(append([]string(nil), tab.Columns...), keys...),
			Rows:    make([]runlog.Row, 0, len(steady.Rows)),
		}

		for _, r := range steady.Rows {
			values := make([]float64, 0, len(tagged.Columns))
			values = append(values, r.Values...)

			for _, d := range a.Config.Order {
				values = append(values, float64(p.Value(d)))
			}

			tagged.Rows = append(tagged.Rows, runlog.Row{
				Source: name,
				Line:   r.Line,
				Values: values,
			})
		}

		if a.Config.Derive {
			derived, errs, err := a.deriver(p).Derive(tagged)
			if err != nil {
				return nil, nil, fmt.Errorf("derive metrics for %s: %w", name, err)
			}

			tagged = derived
			rowErrs = append(rowErrs, errs...)
		}

		if obs == nil {
			obs = &runlog.Table{Columns: tagged.Columns}
		}

		obs.Rows = append(obs.Rows, tagged.Rows...)

		logger.DebugContext(ctx, "loaded artifact",
			slog.String("artifact", name),
			slog.Int("data_lines", len(tab.Rows)),
			slog.Int("steady_lines", len(steady.Rows)),
		)
	}

	return obs, rowErrs, nil
}

// deriver returns the metrics deriver for the rows of point p. With a
// constant source the buffer size is p's own configured value.
func (a *Aggregator) deriver(p sweep.Point) metrics.Deriver {
	if a.Config.BufferSizeFromColumn() {
		return metrics.Deriver{BufferSizeColumn: string(sweep.BufferSize)}
	}

	return metrics.Deriver{BufferSize: float64(p.BufferSize())}
}

// exclude drops rows whose goodput is undefined, but only when a goodput
// column is among the summarized metrics. Other metrics stay defined for
// those rows.
func (a *Aggregator) exclude(
	ctx context.Context,
	logger *slog.Logger,
	obs *runlog.Table,
	cols []string,
	rowErrs []*metrics.RowError,
) (*runlog.Table, []*metrics.RowError, error) {
	var idx []int

	for _, c := range cols {
		if metrics.IsGoodput(c) {
			idx = append(idx, obs.Index(c))
		}
	}

	if len(idx) == 0 || len(rowErrs) == 0 {
		return obs, nil, nil
	}

	for _, rerr := range rowErrs {
		if a.Strict {
			return nil, nil, fmt.Errorf("derive metrics: %w", rerr)
		}

		logger.WarnContext(ctx, "row excluded from summary",
			slog.String("artifact", rerr.Source),
			slog.Int("line", rerr.Line),
			slog.String("reason", rerr.Msg),
		)
	}

	kept := &runlog.Table{
		Columns: obs.Columns,
		Rows:    make([]runlog.Row, 0, len(obs.Rows)),
	}

	for _, r := range obs.Rows {
		if !undefined(r.Values, idx) {
			kept.Rows = append(kept.Rows, r)
		}
	}

	return kept, rowErrs, nil
}

func undefined(values []float64, idx []int) bool {
	for _, i := range idx {
		if math.IsNaN(values[i]) {
			return true
		}
	}

	return false
}

// metricColumns returns the configured metric columns, or every
// non-dimension column when none are configured.
func (a *Aggregator) metricColumns(obs *runlog.Table, keys []string) ([]string, error) {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	if len(a.Config.Metrics) == 0 {
		var cols []string
		for _, c := range obs.Columns {
			if !isKey[c] {
				cols = append(cols, c)
			}
		}

		return cols, nil
	}

	var missing []string

	for _, m := range a.Config.Metrics {
		if isKey[m] {
			return nil, fmt.Errorf("metric %q is a swept dimension", m)
		}

		if obs.Index(m) < 0 {
			missing = append(missing, m)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("summary metrics: %w", &metrics.SchemaError{Missing: missing})
	}

	return a.Config.Metrics, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func checkComplete(s *Summary, points []sweep.Point) error {
	have := make(map[string]int, s.Len())
	for i := 0; i < s.Len(); i++ {
		have[s.KeyString(i)]++
	}

	var missing []string

	for _, p := range points {
		switch have[p.String()] {
		case 1:
		case 0:
			missing = append(missing, p.String())
		default:
			return fmt.Errorf("%w: point %s has %d summary rows",
				ErrIncomplete, p, have[p.String()])
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: no steady state rows for %s",
			ErrIncomplete, strings.Join(missing, "; "))
	}

	if s.Len() != len(points) {
		return fmt.Errorf("%w: %d summary rows for %d points",
			ErrIncomplete, s.Len(), len(points))
	}

	return nil
}
