// Package metrics derives released-buffer and goodput columns from the raw
// counters the benchmark reports.
package metrics

import (
	"fmt"
	"math"
	"strings"

	"github.com/weiihann/hindsweep/runlog"
)

// Source columns.
const (
	NullReleased  = "null_released"
	PoolReleased  = "pool_released"
	Traces        = "traces"
	InvalidTraces = "invalidtraces"
)

// Derived columns, appended in this order.
const (
	TotalReleased = "total_released"
	ReleasedBytes = "released_bytes"
	GoodputBufs   = "goodput_bufs"
	GoodputBytes  = "goodput_bytes"
)

// Derived lists the derived column names in the order Derive appends them.
var Derived = []string{TotalReleased, ReleasedBytes, GoodputBufs, GoodputBytes}

// IsGoodput reports whether col is a goodput column. Goodput is undefined,
// and NaN, in rows with zero traces.
func IsGoodput(col string) bool {
	return col == GoodputBufs || col == GoodputBytes
}

// A SchemaError reports columns a derivation needs but the table lacks.
// It usually means the harness and the benchmark binary disagree on the
// output format.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing columns: " + strings.Join(e.Missing, ", ")
}

// A RowError reports a row whose goodput is undefined.
type RowError struct {
	Source string
	Line   int
	Msg    string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Source, e.Line, e.Msg)
}

// Deriver computes the derived columns.
//
// The buffer size multiplying the released buffer count comes from the
// BufferSizeColumn column when it is set, and from BufferSize otherwise.
type Deriver struct {
	BufferSizeColumn string
	BufferSize       float64
}

// Derive returns a copy of t with the derived columns appended. Rows with
// zero traces have no defined goodput; they are kept with NaN goodput and
// reported as RowErrors. Missing source columns yield a *SchemaError.
func (d Deriver) Derive(t *runlog.Table) (*runlog.Table, []*RowError, error) {
	need := []string{NullReleased, PoolReleased, Traces, InvalidTraces}
	if d.BufferSizeColumn != "" {
		need = append(need, d.BufferSizeColumn)
	} else if d.BufferSize <= 0 {
		return nil, nil, fmt.Errorf("buffer size %g must be positive", d.BufferSize)
	}

	idx := make(map[string]int, len(need))

	var missing []string

	for _, col := range need {
		i := t.Index(col)
		if i < 0 {
			missing = append(missing, col)
			continue
		}

		idx[col] = i
	}

	if len(missing) > 0 {
		return nil, nil, &SchemaError{Missing: missing}
	}

	for _, col := range Derived {
		if t.Index(col) >= 0 {
			return nil, nil, fmt.Errorf("column %q already present", col)
		}
	}

	out := &runlog.Table{
		Columns: append(append([]string(nil), t.Columns...), Derived...),
		Rows:    make([]runlog.Row, 0, len(t.Rows)),
	}

	var rowErrs []*RowError

	for _, r := range t.Rows {
		v := r.Values

		traces := v[idx[Traces]]
		bufSize := d.BufferSize
		if d.BufferSizeColumn != "" {
			bufSize = v[idx[d.BufferSizeColumn]]
		}

		pool := v[idx[PoolReleased]]
		valid := traces - v[idx[InvalidTraces]]

		total := v[idx[NullReleased]] + pool
		bytes := total * bufSize

		values := make([]float64, 0, len(out.Columns))
		values = append(values, v...)
		goodBufs, goodBytes := pool*valid/traces, bytes*valid/traces
		if traces == 0 {
			goodBufs, goodBytes = math.NaN(), math.NaN()

			rowErrs = append(rowErrs, &RowError{
				Source: r.Source,
				Line:   r.Line,
				Msg:    "zero traces, goodput undefined",
			})
		}

		values = append(values, total, bytes, goodBufs, goodBytes)

		out.Rows = append(out.Rows, runlog.Row{
			Source: r.Source,
			Line:   r.Line,
			Values: values,
		})
	}

	return out, rowErrs, nil
}
