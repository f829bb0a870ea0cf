package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Launcher runs the benchmark for one point and writes its run artifact.
// Launch must not return before every process it started has exited.
type Launcher interface {
	Launch(ctx context.Context, p Point, artifactPath string) error
}

// Result records the outcome of one sweep point.
type Result struct {
	Point    Point
	Artifact string
	Elapsed  time.Duration
	Err      error
}

// Controller runs a sweep one point at a time.
type Controller struct {
	Config   Config
	OutDir   string
	Launcher Launcher
	Logger   *slog.Logger

	// ContinueOnError keeps sweeping after a failed point. The failures
	// are still returned, joined, once the sweep ends.
	ContinueOnError bool
}

// Run launches every point of the sweep in enumeration order. Points never
// overlap: each launch, including agent teardown, completes before the
// next one starts.
func (c *Controller) Run(ctx context.Context) ([]Result, error) {
	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweep: %w", err)
	}

	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	points := c.Config.Points()
	results := make([]Result, 0, len(points))

	var failed []error

	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return results, errors.Join(append(failed, err)...)
		}

		name := ArtifactName(p)
		res := Result{
			Point:    p,
			Artifact: filepath.Join(c.OutDir, name),
		}

		logger.InfoContext(ctx, "launching point",
			slog.Int("index", i+1),
			slog.Int("total", len(points)),
			slog.String("point", p.String()),
			slog.String("artifact", name),
		)

		start := time.Now()
		res.Err = c.Launcher.Launch(ctx, p, res.Artifact)
		res.Elapsed = time.Since(start)
		results = append(results, res)

		if res.Err == nil {
			logger.InfoContext(ctx, "point complete",
				slog.String("point", p.String()),
				slog.Duration("elapsed", res.Elapsed),
			)

			continue
		}

		err := fmt.Errorf("point %s: %w", p, res.Err)

		if !c.ContinueOnError {
			return results, err
		}

		logger.ErrorContext(ctx, "point failed, continuing",
			slog.String("point", p.String()),
			slog.String("error", res.Err.Error()),
		)

		failed = append(failed, err)
	}

	return results, errors.Join(failed...)
}
