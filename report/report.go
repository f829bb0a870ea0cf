// Package report aggregates the run artifacts of a sweep into a summary
// table and writes it out as CSV, JSON or an aligned text table.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aclements/go-gg/ggstat"
	"github.com/aclements/go-gg/table"
	"github.com/aclements/go-moremath/stats"

	"github.com/weiihann/hindsweep/metrics"
	"github.com/weiihann/hindsweep/runlog"
)

// Summary holds one row per sweep point: the swept dimension values
// followed by the mean of every metric over the point's steady state rows.
type Summary struct {
	Keys    []string
	Metrics []string
	Table   *table.Table

	// Excluded lists rows left out because their goodput was undefined.
	Excluded []*metrics.RowError
}

// summarize builds the go-gg table once from obs and averages cols per
// distinct combination of keys. Groups appear in order of first
// appearance, which is the sweep's enumeration order.
func summarize(obs *runlog.Table, keys, cols []string) (s *Summary, err error) {
	// go-gg reports misuse by panicking.
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("summarize: %v", r)
		}
	}()

	var b table.Builder

	for _, k := range keys {
		xs := obs.Column(k)
		ks := make([]int, len(xs))

		for i, x := range xs {
			ks[i] = int(x)
		}

		b.Add(k, ks)
	}

	for _, c := range cols {
		b.Add(c, obs.Column(c))
	}

	grouped := ggstat.Agg(keys...)(ggstat.AggMean(cols...)).F(b.Done())
	flat := table.Flatten(grouped)

	var out table.Builder
	for _, k := range keys {
		out.Add(k, flat.MustColumn(k))
	}

	for _, c := range cols {
		out.Add(c, flat.MustColumn("mean "+c))
	}

	return &Summary{
		Keys:    append([]string(nil), keys...),
		Metrics: append([]string(nil), cols...),
		Table:   out.Done(),
	}, nil
}

// Len returns the number of rows.
func (s *Summary) Len() int {
	return s.Table.Len()
}

// Key returns the swept dimension values of row i.
func (s *Summary) Key(i int) []int {
	key := make([]int, len(s.Keys))
	for j, k := range s.Keys {
		key[j] = s.Table.MustColumn(k).([]int)[i]
	}

	return key
}

// KeyString formats the key of row i the way sweep.Point.String does.
func (s *Summary) KeyString(i int) string {
	key := s.Key(i)
	parts := make([]string, len(key))

	for j, k := range s.Keys {
		parts[j] = fmt.Sprintf("%s=%d", k, key[j])
	}

	return strings.Join(parts, ",")
}

// Value returns metric of row i.
func (s *Summary) Value(i int, metric string) float64 {
	return s.Table.MustColumn(metric).([]float64)[i]
}

// WriteCSV writes the summary with a header row of dimension and metric
// names.
func (s *Summary) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append(append([]string(nil), s.Keys...), s.Metrics...)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))

	for i := 0; i < s.Len(); i++ {
		for j, k := range s.Key(i) {
			record[j] = strconv.Itoa(k)
		}

		for j, m := range s.Metrics {
			record[len(s.Keys)+j] = formatFloat(s.Value(i, m))
		}

		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// WriteFile writes the summary as CSV to path. The file appears only once
// it is complete.
func (s *Summary) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}

	if err := s.WriteCSV(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("write summary: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close summary: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("store summary: %w", err)
	}

	return nil
}

// Fprint writes the summary as an aligned text table.
func (s *Summary) Fprint(w io.Writer) error {
	formats := make([]string, 0, len(s.Keys)+len(s.Metrics))
	for range s.Keys {
		formats = append(formats, "%d")
	}

	for range s.Metrics {
		formats = append(formats, "%.2f")
	}

	return table.Fprint(w, s.Table, formats...)
}

// WriteJSON writes the summary as a JSON array with one object per row.
func (s *Summary) WriteJSON(w io.Writer) error {
	rows := make([]map[string]float64, s.Len())

	for i := range rows {
		row := make(map[string]float64, len(s.Keys)+len(s.Metrics))

		for j, k := range s.Key(i) {
			row[s.Keys[j]] = float64(k)
		}

		for _, m := range s.Metrics {
			row[m] = s.Value(i, m)
		}

		rows[i] = row
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(rows)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ColumnStats summarizes one column of a single run.
type ColumnStats struct {
	Column string
	Mean   float64
	Min    float64
	Max    float64
}

// Describe returns the mean and range of every column of t.
func Describe(t *runlog.Table) []ColumnStats {
	out := make([]ColumnStats, 0, len(t.Columns))

	for _, c := range t.Columns {
		xs := t.Column(c)
		if len(xs) == 0 {
			continue
		}

		lo, hi := stats.Bounds(xs)
		out = append(out, ColumnStats{
			Column: c,
			Mean:   stats.Mean(xs),
			Min:    lo,
			Max:    hi,
		})
	}

	return out
}

// FprintStats writes the output of Describe as a text table.
func FprintStats(w io.Writer, cs []ColumnStats) error {
	names := make([]string, len(cs))
	means := make([]float64, len(cs))
	mins := make([]float64, len(cs))
	maxs := make([]float64, len(cs))

	for i, c := range cs {
		names[i], means[i], mins[i], maxs[i] = c.Column, c.Mean, c.Min, c.Max
	}

	t := new(table.Builder).
		Add("column", names).
		Add("mean", means).
		Add("min", mins).
		Add("max", maxs).
		Done()

	return table.Fprint(w, t, "%s", "%.2f", "%.2f", "%.2f")
}
