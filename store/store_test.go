package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/weiihann/hindsweep/report"
	"github.com/weiihann/hindsweep/sweep"
)

func testSummary(t *testing.T) (sweep.Config, *report.Summary) {
	t.Helper()

	cfg := sweep.Config{
		Name:         "history",
		Service:      "multi",
		Threads:      []int{1, 2},
		PayloadSizes: []int{20},
		BufferSizes:  []int{1024},
		BufferCount:  100,
		Tracepoints:  10,
		Retroactive:  1,
		Duration:     10 * time.Second,
		Order:        []sweep.Dim{sweep.Threads},
	}

	dir := t.TempDir()

	for i, p := range cfg.Points() {
		var b strings.Builder
		b.WriteString("headers:\tops\n")

		for j := 0; j < 6; j++ {
			fmt.Fprintf(&b, "data:\t%d\n", 10*(i+1))
		}

		if err := os.WriteFile(filepath.Join(dir, sweep.ArtifactName(p)), []byte(b.String()), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := (&report.Aggregator{Config: cfg, Dir: dir}).Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	return cfg, sum
}

func openTest(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSaveAndRead(t *testing.T) {
	s := openTest(t)
	cfg, sum := testSummary(t)
	ctx := context.Background()

	id, err := s.Save(ctx, cfg, "/tmp/out", sum)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sw, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if sw.Name != "history" || sw.Service != "multi" || sw.OutDir != "/tmp/out" {
		t.Errorf("sweep = %+v", sw)
	}
	if sw.Points != 2 || sw.Excluded != 0 {
		t.Errorf("points = %d, excluded = %d", sw.Points, sw.Excluded)
	}
	if len(sw.Keys) != 1 || sw.Keys[0] != "thread" {
		t.Errorf("keys = %v", sw.Keys)
	}

	plan, err := sweep.ParsePlan([]byte(sw.Plan))
	if err != nil {
		t.Fatalf("stored plan does not parse: %v", err)
	}
	if plan.Name != cfg.Name || len(plan.Threads) != 2 {
		t.Errorf("stored plan = %+v", plan)
	}

	vals, err := s.Values(ctx, id)
	if err != nil {
		t.Fatalf("Values failed: %v", err)
	}

	want := []Value{
		{Row: 0, Point: "thread=1", Metric: "ops", Value: 10},
		{Row: 1, Point: "thread=2", Metric: "ops", Value: 20},
	}

	if len(vals) != len(want) {
		t.Fatalf("values = %+v", vals)
	}

	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("value %d = %+v, want %+v", i, vals[i], want[i])
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTest(t)
	cfg, sum := testSummary(t)
	ctx := context.Background()

	var ids []int64

	for i := 0; i < 3; i++ {
		id, err := s.Save(ctx, cfg, fmt.Sprintf("out%d", i), sum)
		if err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}

		ids = append(ids, id)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if len(list) != 3 {
		t.Fatalf("list = %d sweeps, want 3", len(list))
	}

	for i, sw := range list {
		if sw.ID != ids[len(ids)-1-i] {
			t.Errorf("list[%d].ID = %d, want %d", i, sw.ID, ids[len(ids)-1-i])
		}
	}
}

func TestGetUnknown(t *testing.T) {
	s := openTest(t)

	if _, err := s.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if _, err := s.Values(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Values err = %v, want ErrNotFound", err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	cfg, sum := testSummary(t)

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Save(context.Background(), cfg, "out", sum); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	list, err := s.List(context.Background())
	if err != nil || len(list) != 1 {
		t.Errorf("list after reopen = %v, %v", list, err)
	}
}
