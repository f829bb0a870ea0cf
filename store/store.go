// Package store keeps a history of sweep summaries in a SQLite database so
// runs of the same plan can be compared later.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weiihann/hindsweep/report"
	"github.com/weiihann/hindsweep/sweep"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned for an unknown sweep id.
var ErrNotFound = errors.New("sweep not found")

// Store is a sweep history database.
type Store struct {
	db *sql.DB
}

// Sweep describes one stored sweep.
type Sweep struct {
	ID       int64
	Name     string
	Service  string
	OutDir   string
	Plan     string
	Keys     []string
	Metrics  []string
	Points   int
	Excluded int
	Created  time.Time
}

// Value is one cell of a stored summary.
type Value struct {
	Row    int
	Point  string
	Metric string
	Value  float64
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Writes are serialized by SQLite anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records the summary of a finished sweep and returns its id.
func (s *Store) Save(
	ctx context.Context,
	cfg sweep.Config,
	outDir string,
	sum *report.Summary,
) (int64, error) {
	plan, err := sweep.MarshalPlan(cfg)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO sweeps
		(name, service, out_dir, plan, keys, metrics, points, excluded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Name, cfg.Service, outDir, string(plan),
		strings.Join(sum.Keys, ","), strings.Join(sum.Metrics, ","),
		sum.Len(), len(sum.Excluded),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert sweep: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO summary_values
		(sweep_id, row, point, metric, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare values: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < sum.Len(); i++ {
		point := sum.KeyString(i)

		for _, m := range sum.Metrics {
			if _, err := stmt.ExecContext(ctx, id, i, point, m, sum.Value(i, m)); err != nil {
				return 0, fmt.Errorf("insert value %s/%s: %w", point, m, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return id, nil
}

const sweepColumns = `id, name, service, out_dir, plan, keys, metrics, points, excluded, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSweep(r scanner) (Sweep, error) {
	var (
		sw            Sweep
		keys, metrics string
		created       string
	)

	err := r.Scan(&sw.ID, &sw.Name, &sw.Service, &sw.OutDir, &sw.Plan,
		&keys, &metrics, &sw.Points, &sw.Excluded, &created)
	if err != nil {
		return Sweep{}, err
	}

	sw.Keys = splitList(keys)
	sw.Metrics = splitList(metrics)

	if sw.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Sweep{}, fmt.Errorf("sweep %d: bad timestamp %q: %w", sw.ID, created, err)
	}

	return sw, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, ",")
}

// List returns all stored sweeps, newest first.
func (s *Store) List(ctx context.Context) ([]Sweep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sweepColumns+` FROM sweeps ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sweeps: %w", err)
	}
	defer rows.Close()

	var out []Sweep

	for rows.Next() {
		sw, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, sw)
	}

	return out, rows.Err()
}

// Get returns the sweep with the given id.
func (s *Store) Get(ctx context.Context, id int64) (Sweep, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sweepColumns+` FROM sweeps WHERE id = ?`, id)

	sw, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sweep{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	return sw, err
}

// Values returns the summary cells of sweep id in row order, metrics in
// the order they were summarized.
func (s *Store) Values(ctx context.Context, id int64) ([]Value, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT row, point, metric, value
		FROM summary_values WHERE sweep_id = ? ORDER BY row, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	var out []Value

	for rows.Next() {
		var v Value
		if err := rows.Scan(&v.Row, &v.Point, &v.Metric, &v.Value); err != nil {
			return nil, err
		}

		out = append(out, v)
	}

	return out, rows.Err()
}
