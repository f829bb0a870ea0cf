package runlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func artifact(n int) string {
	var b strings.Builder

	b.WriteString("name=multi\nbuffer_size=4096\n-------\n")
	b.WriteString("Print thread beginning\n")
	b.WriteString("headers:\ta\tb\n")

	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "data:\t%d\t%d.5\n", i, i*10)
	}

	b.WriteString("Clients complete.\n")

	return b.String()
}

func TestParse(t *testing.T) {
	tab, err := Parse(strings.NewReader(artifact(3)), "run.out")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if got := strings.Join(tab.Columns, ","); got != "a,b" {
		t.Errorf("columns = %q, want a,b", got)
	}
	if len(tab.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(tab.Rows))
	}

	r := tab.Rows[2]
	if r.Values[0] != 2 || r.Values[1] != 20.5 {
		t.Errorf("row 2 = %v, want [2 20.5]", r.Values)
	}
	if r.Line != 8 {
		t.Errorf("row 2 line = %d, want 8", r.Line)
	}
	if r.Source != "run.out" {
		t.Errorf("row source = %q", r.Source)
	}
}

func TestParseWindowRoundTrip(t *testing.T) {
	tab, err := Parse(strings.NewReader(artifact(10)), "run.out")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	steady := tab.Steady()
	if len(steady.Rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(steady.Rows))
	}

	for i, r := range steady.Rows {
		want := float64(5 + i)
		if r.Values[0] != want {
			t.Errorf("row %d: a = %v, want %v", i, r.Values[0], want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
		msg   string
	}{
		{
			name:  "missing header",
			input: "data:\t1\t2\n",
			line:  0,
			msg:   "missing headers:",
		},
		{
			name:  "duplicate header",
			input: "headers:\ta\nheaders:\ta\n",
			line:  2,
			msg:   "duplicate header",
		},
		{
			name:  "short data line",
			input: "headers:\ta\tb\ndata:\t1\t2\ndata:\t3\n",
			line:  3,
			msg:   "1 fields, header has 2",
		},
		{
			name:  "non-numeric",
			input: "headers:\ta\tb\ndata:\t1\tnope\n",
			line:  2,
			msg:   `column "b": non-numeric value "nope"`,
		},
		{
			name:  "nan",
			input: "headers:\ta\tb\ndata:\tNaN\t1\n",
			line:  2,
			msg:   `column "a": non-numeric value "NaN"`,
		},
		{
			name:  "infinity",
			input: "headers:\ta\tb\ndata:\t1\t-Inf\n",
			line:  2,
			msg:   `column "b": non-numeric value "-Inf"`,
		},
		{
			name:  "hex float",
			input: "headers:\ta\tb\ndata:\t0x1p4\t1\n",
			line:  2,
			msg:   `column "a": non-numeric value "0x1p4"`,
		},
		{
			name:  "overflow",
			input: "headers:\ta\tb\ndata:\t1e999\t1\n",
			line:  2,
			msg:   `column "a": non-numeric value "1e999"`,
		},
		{
			name:  "empty header",
			input: "headers:\n",
			line:  1,
			msg:   "no columns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), "bad.out")
			if err == nil {
				t.Fatal("expected error")
			}

			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error %T is not a *ParseError", err)
			}
			if perr.Artifact != "bad.out" {
				t.Errorf("artifact = %q", perr.Artifact)
			}
			if perr.Line != tt.line {
				t.Errorf("line = %d, want %d", perr.Line, tt.line)
			}
			if !strings.Contains(perr.Msg, tt.msg) {
				t.Errorf("msg = %q, want it to contain %q", perr.Msg, tt.msg)
			}
		})
	}
}

func TestParseHeaderAfterData(t *testing.T) {
	tab, err := Parse(strings.NewReader("data:\t1\nheaders:\ta\n"), "x")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tab.Rows) != 1 || tab.Rows[0].Values[0] != 1 {
		t.Errorf("rows = %+v", tab.Rows)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1threads.out")
	if err := os.WriteFile(path, []byte("data:\t1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ParseFile(path)
	if err == nil || !strings.HasPrefix(err.Error(), "1threads.out:0:") {
		t.Errorf("err = %v, want it to name 1threads.out", err)
	}
}

func TestWindowSize(t *testing.T) {
	for n := 0; n <= 50; n++ {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}

		got := Window(rows)

		want := n - 1 - n/2
		if want < 0 {
			want = 0
		}

		if len(got) != want {
			t.Fatalf("n=%d: window has %d rows, want %d", n, len(got), want)
		}

		if len(got) == 0 {
			continue
		}

		if got[0] != n/2 {
			t.Errorf("n=%d: first index = %d, want %d", n, got[0], n/2)
		}
		if got[len(got)-1] != n-2 {
			t.Errorf("n=%d: last index = %d, want %d", n, got[len(got)-1], n-2)
		}
	}
}

func TestWindowTooShort(t *testing.T) {
	for _, n := range []int{0, 1, 2} {
		if got := Window(make([]Row, n)); len(got) != 0 {
			t.Errorf("n=%d: window has %d rows, want 0", n, len(got))
		}
	}
}

func TestColumn(t *testing.T) {
	tab, _ := Parse(strings.NewReader(artifact(2)), "x")

	if got := tab.Column("b"); len(got) != 2 || got[1] != 10.5 {
		t.Errorf("Column(b) = %v", got)
	}
	if tab.Column("missing") != nil {
		t.Error("Column(missing) should be nil")
	}
}
