// Package runlog parses the line-oriented output of the benchmark client.
//
// A run artifact contains exactly one header line and any number of data
// lines, interleaved with free-form progress messages:
//
//	headers:	t	duration	traces	invalidtraces	...
//	data:	1000000342	1000000342	5120	0	...
//
// Fields are tab separated; the first field is the marker. Every data line
// must carry one numeric value per header column.
package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	headerMarker = "headers:"
	dataMarker   = "data:"
)

// ErrNoData is returned for artifacts that contain a header but no data
// lines, typically because the benchmark died early.
var ErrNoData = errors.New("no data lines")

// A ParseError describes a malformed line of a run artifact.
type ParseError struct {
	Artifact string
	Line     int // 1-based; 0 when the error is not tied to a line
	Msg      string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Artifact, e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Row is one data line. Values are in Table.Columns order.
type Row struct {
	Source string
	Line   int
	Values []float64
}

// Table is the parsed content of one or more run artifacts.
type Table struct {
	Columns []string
	Rows    []Row
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}

	return -1
}

// Column returns a copy of the named column's values, or nil if there is
// no such column.
func (t *Table) Column(name string) []float64 {
	i := t.Index(name)
	if i < 0 {
		return nil
	}

	xs := make([]float64, len(t.Rows))
	for j, r := range t.Rows {
		xs[j] = r.Values[i]
	}

	return xs
}

// Parse reads a run artifact from r. artifact names the input in errors.
func Parse(r io.Reader, artifact string) (*Table, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		t          Table
		headerLine int
		pending    []Row
		raw        [][]string
	)

	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())

		switch {
		case strings.HasPrefix(text, headerMarker):
			if headerLine != 0 {
				return nil, &ParseError{
					Artifact: artifact,
					Line:     line,
					Msg:      fmt.Sprintf("duplicate header line (first at line %d)", headerLine),
				}
			}

			headerLine = line
			t.Columns = strings.Split(text, "\t")[1:]

			if len(t.Columns) == 0 {
				return nil, &ParseError{Artifact: artifact, Line: line, Msg: "header has no columns"}
			}

		case strings.HasPrefix(text, dataMarker):
			pending = append(pending, Row{Source: artifact, Line: line})
			raw = append(raw, strings.Split(text, "\t")[1:])
		}
	}

	if err := s.Err(); err != nil {
		return nil, &ParseError{Artifact: artifact, Line: line, Msg: err.Error(), Err: err}
	}

	if headerLine == 0 {
		return nil, &ParseError{Artifact: artifact, Msg: "missing " + headerMarker + " line"}
	}

	for i := range pending {
		fields := raw[i]
		if len(fields) != len(t.Columns) {
			return nil, &ParseError{
				Artifact: artifact,
				Line:     pending[i].Line,
				Msg: fmt.Sprintf("data line has %d fields, header has %d",
					len(fields), len(t.Columns)),
			}
		}

		values := make([]float64, len(fields))

		for j, f := range fields {
			v, err := parseValue(f)
			if err != nil {
				return nil, &ParseError{
					Artifact: artifact,
					Line:     pending[i].Line,
					Msg:      fmt.Sprintf("column %q: non-numeric value %q", t.Columns[j], f),
					Err:      err,
				}
			}

			values[j] = v
		}

		pending[i].Values = values
	}

	t.Rows = pending

	return &t, nil
}

var errNotFinite = errors.New("value is not a finite decimal number")

// parseValue parses a decimal float. NaN, infinities and hex floats are
// rejected.
func parseValue(f string) (float64, error) {
	if strings.ContainsAny(f, "xXpP") {
		return 0, errNotFinite
	}

	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		return 0, err
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}

	return v, nil
}

// ParseFile parses the run artifact at path. Errors name the file by its
// base name.
func ParseFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f, filepath.Base(path))
}

// WindowBounds returns the half-open index range [lo, hi) of the steady
// state rows among n data rows: the second half, minus the final row,
// which may cover a partial interval. hi <= lo when nothing is retained.
func WindowBounds(n int) (lo, hi int) {
	lo, hi = n/2, n-1
	if hi < lo {
		hi = lo
	}

	return lo, hi
}

// Window returns the steady state subsequence of rows, indices
// [n/2, n-2]. Runs with fewer than two rows yield an empty window.
func Window[T any](rows []T) []T {
	lo, hi := WindowBounds(len(rows))
	if hi <= lo {
		return nil
	}

	return rows[lo:hi]
}

// Steady returns a copy of t restricted to its stability window.
func (t *Table) Steady() *Table {
	return &Table{
		Columns: t.Columns,
		Rows:    Window(t.Rows),
	}
}
