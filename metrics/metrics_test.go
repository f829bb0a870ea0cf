package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/weiihann/hindsweep/runlog"
)

func table(rows ...[]float64) *runlog.Table {
	t := &runlog.Table{
		Columns: []string{NullReleased, PoolReleased, Traces, InvalidTraces, "buffer_size"},
	}

	for i, r := range rows {
		t.Rows = append(t.Rows, runlog.Row{Source: "run.out", Line: i + 1, Values: r})
	}

	return t
}

func value(t *testing.T, tab *runlog.Table, row int, col string) float64 {
	t.Helper()

	i := tab.Index(col)
	if i < 0 {
		t.Fatalf("column %q missing", col)
	}

	return tab.Rows[row].Values[i]
}

func TestDeriveFromColumn(t *testing.T) {
	in := table([]float64{3, 7, 100, 5, 1024})

	out, rowErrs, err := Deriver{BufferSizeColumn: "buffer_size"}.Derive(in)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("unexpected row errors: %v", rowErrs)
	}

	tests := []struct {
		col  string
		want float64
	}{
		{TotalReleased, 10},
		{ReleasedBytes, 10240},
		{GoodputBufs, 6.65},
		{GoodputBytes, 9728},
	}

	for _, tt := range tests {
		if got := value(t, out, 0, tt.col); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.col, got, tt.want)
		}
	}

	if len(in.Columns) != 5 {
		t.Error("Derive modified its input")
	}
}

func TestDeriveFromConstant(t *testing.T) {
	in := table([]float64{3, 7, 100, 5, 1})

	out, _, err := Deriver{BufferSize: 1024}.Derive(in)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	if got := value(t, out, 0, ReleasedBytes); got != 10240 {
		t.Errorf("released_bytes = %v, want 10240", got)
	}
}

func TestDeriveZeroTraces(t *testing.T) {
	in := table(
		[]float64{3, 7, 100, 5, 1024},
		[]float64{1, 1, 0, 0, 1024},
		[]float64{0, 2, 10, 0, 1024},
	)

	out, rowErrs, err := Deriver{BufferSizeColumn: "buffer_size"}.Derive(in)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	if len(rowErrs) != 1 {
		t.Fatalf("got %d row errors, want 1", len(rowErrs))
	}
	if rowErrs[0].Line != 2 || rowErrs[0].Source != "run.out" {
		t.Errorf("row error = %v, want run.out:2", rowErrs[0])
	}
	if len(out.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(out.Rows))
	}

	// Released counts stay defined without traces.
	if got := value(t, out, 1, TotalReleased); got != 2 {
		t.Errorf("total_released = %v, want 2", got)
	}
	if got := value(t, out, 1, ReleasedBytes); got != 2048 {
		t.Errorf("released_bytes = %v, want 2048", got)
	}

	for _, col := range []string{GoodputBufs, GoodputBytes} {
		if got := value(t, out, 1, col); !math.IsNaN(got) {
			t.Errorf("%s = %v, want NaN", col, got)
		}
	}

	if got := value(t, out, 2, GoodputBufs); got != 2 {
		t.Errorf("goodput_bufs = %v, want 2", got)
	}
}

func TestIsGoodput(t *testing.T) {
	for _, col := range Derived {
		want := col == GoodputBufs || col == GoodputBytes
		if got := IsGoodput(col); got != want {
			t.Errorf("IsGoodput(%s) = %v, want %v", col, got, want)
		}
	}

	if IsGoodput(Traces) {
		t.Error("traces reported as goodput")
	}
}

func TestDeriveMissingColumns(t *testing.T) {
	in := &runlog.Table{Columns: []string{Traces, PoolReleased}}

	_, _, err := Deriver{BufferSizeColumn: "buffer_size"}.Derive(in)

	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *SchemaError", err)
	}

	want := []string{NullReleased, InvalidTraces, "buffer_size"}
	if len(serr.Missing) != len(want) {
		t.Fatalf("missing = %v, want %v", serr.Missing, want)
	}
	for i := range want {
		if serr.Missing[i] != want[i] {
			t.Errorf("missing[%d] = %q, want %q", i, serr.Missing[i], want[i])
		}
	}
}

func TestDeriveNeedsBufferSize(t *testing.T) {
	if _, _, err := (Deriver{}).Derive(table()); err == nil {
		t.Error("expected error without a buffer size")
	}
}
