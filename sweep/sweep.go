// Package sweep enumerates the configuration grid of a benchmark sweep and
// drives one launch per grid point. Enumeration is deterministic: the same
// Config always yields the same points in the same order, which is what
// lets the aggregator find every artifact the controller produced.
package sweep

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dim names a swept dimension. The string value is also the column name
// the aggregator uses when it tags observation rows.
type Dim string

// Dimensions that can be swept.
const (
	Threads     Dim = "thread"
	PayloadSize Dim = "payload_size"
	BufferSize  Dim = "buffer_size"
)

// AllDims lists the sweepable dimensions in artifact-naming order.
var AllDims = []Dim{Threads, PayloadSize, BufferSize}

// Buffer size sources for the released-bytes and goodput derivations.
const (
	BufferSizeAuto     = "auto"
	BufferSizeColumn   = "column"
	BufferSizeConstant = "constant"
)

// Config describes one sweep. List-valued dimensions named in Order are
// swept; a list dimension that is not swept must hold exactly one value.
type Config struct {
	Name         string        `yaml:"name"`
	Service      string        `yaml:"service"`
	Threads      []int         `yaml:"threads"`
	BufferSizes  []int         `yaml:"buffer_sizes"`
	PayloadSizes []int         `yaml:"payload_sizes"`
	BufferCount  int           `yaml:"buffer_count"`
	Tracepoints  int           `yaml:"tracepoints"`
	Trigger      float64       `yaml:"trigger"`
	HeadSampling float64       `yaml:"headsampling"`
	Retroactive  float64       `yaml:"retroactive"`
	Duration     time.Duration `yaml:"duration"`

	// Order lists the swept dimensions from the outermost loop to the
	// innermost one.
	Order []Dim `yaml:"order"`

	// Metrics are the columns averaged into the summary. Derived metric
	// names are allowed when Derive is set.
	Metrics []string `yaml:"metrics"`

	// Derive enables the released-bytes and goodput columns.
	Derive bool `yaml:"derive"`

	// BufferSizeSource selects where the deriver reads the buffer size
	// from: the buffer_size dimension column or the constant buffer size.
	// "auto" uses the column when buffer size is swept.
	BufferSizeSource string `yaml:"buffer_size_source"`
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if c.Service == "" {
		return errors.New("service name is required")
	}

	if len(c.Order) == 0 {
		return errors.New("at least one swept dimension is required")
	}

	seen := make(map[Dim]bool, len(c.Order))

	for _, d := range c.Order {
		if seen[d] {
			return fmt.Errorf("dimension %q swept twice", d)
		}

		seen[d] = true

		values, ok := c.values(d)
		if !ok {
			return fmt.Errorf("unknown dimension %q", d)
		}

		if len(values) == 0 {
			return fmt.Errorf("dimension %q has no values", d)
		}

		for _, v := range values {
			if v <= 0 {
				return fmt.Errorf("dimension %q: value %d must be positive", d, v)
			}
		}
	}

	for _, d := range AllDims {
		if seen[d] {
			continue
		}

		values, _ := c.values(d)
		if len(values) != 1 {
			return fmt.Errorf(
				"dimension %q is not swept and needs exactly one value, has %d",
				d, len(values),
			)
		}

		if values[0] <= 0 {
			return fmt.Errorf("dimension %q: value %d must be positive", d, values[0])
		}
	}

	if c.BufferCount <= 0 {
		return errors.New("buffer count must be positive")
	}

	if c.Tracepoints <= 0 {
		return errors.New("tracepoint count must be positive")
	}

	if c.Duration < time.Second {
		return fmt.Errorf("duration %s is shorter than one second", c.Duration)
	}

	if c.Duration%time.Second != 0 {
		return fmt.Errorf("duration %s is not a whole number of seconds", c.Duration)
	}

	for name, p := range map[string]float64{
		"trigger":      c.Trigger,
		"headsampling": c.HeadSampling,
		"retroactive":  c.Retroactive,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s probability %g is outside [0, 1]", name, p)
		}
	}

	switch c.BufferSizeSource {
	case "", BufferSizeAuto, BufferSizeConstant:
	case BufferSizeColumn:
		if !c.Swept(BufferSize) {
			return errors.New(
				"buffer size source \"column\" needs buffer_size to be swept",
			)
		}
	default:
		return fmt.Errorf("unknown buffer size source %q", c.BufferSizeSource)
	}

	return nil
}

// Swept reports whether d is one of c's swept dimensions.
func (c Config) Swept(d Dim) bool {
	for _, o := range c.Order {
		if o == d {
			return true
		}
	}

	return false
}

// BufferSizeFromColumn reports whether derived byte counts should use the
// per-row buffer_size column instead of the constant buffer size.
func (c Config) BufferSizeFromColumn() bool {
	switch c.BufferSizeSource {
	case BufferSizeColumn:
		return true
	case BufferSizeConstant:
		return false
	default:
		return c.Swept(BufferSize)
	}
}

// GroupColumns returns the column names of the swept dimensions in sweep
// order. These are the summary's group keys.
func (c Config) GroupColumns() []string {
	cols := make([]string, len(c.Order))
	for i, d := range c.Order {
		cols[i] = string(d)
	}

	return cols
}

func (c Config) values(d Dim) ([]int, bool) {
	switch d {
	case Threads:
		return c.Threads, true
	case PayloadSize:
		return c.PayloadSizes, true
	case BufferSize:
		return c.BufferSizes, true
	default:
		return nil, false
	}
}

// Points enumerates the cartesian product of the swept dimensions, with the
// first dimension of Order as the outermost loop. Config must be valid.
func (c Config) Points() []Point {
	base := Point{
		service:      c.Service,
		bufferCount:  c.BufferCount,
		tracepoints:  c.Tracepoints,
		trigger:      c.Trigger,
		headSampling: c.HeadSampling,
		retroactive:  c.Retroactive,
		duration:     c.Duration,
		swept:        append([]Dim(nil), c.Order...),
	}

	for _, d := range AllDims {
		if !c.Swept(d) {
			values, _ := c.values(d)
			base = base.with(d, values[0])
		}
	}

	points := []Point{base}

	for _, d := range c.Order {
		values, _ := c.values(d)
		next := make([]Point, 0, len(points)*len(values))

		for _, p := range points {
			for _, v := range values {
				next = append(next, p.with(d, v))
			}
		}

		points = next
	}

	return points
}

// Point is one concrete assignment of values to all dimensions. Points are
// values; nothing mutates a Point after Config.Points builds it.
type Point struct {
	service      string
	threads      int
	bufferSize   int
	bufferCount  int
	payloadSize  int
	tracepoints  int
	trigger      float64
	headSampling float64
	retroactive  float64
	duration     time.Duration
	swept        []Dim
}

func (p Point) with(d Dim, v int) Point {
	switch d {
	case Threads:
		p.threads = v
	case PayloadSize:
		p.payloadSize = v
	case BufferSize:
		p.bufferSize = v
	}

	return p
}

// Service returns the benchmark service name.
func (p Point) Service() string { return p.service }

// Threads returns the number of client threads.
func (p Point) Threads() int { return p.threads }

// BufferSize returns the buffer size in bytes.
func (p Point) BufferSize() int { return p.bufferSize }

// BufferCount returns the number of buffers in the pool.
func (p Point) BufferCount() int { return p.bufferCount }

// PayloadSize returns the payload size in bytes.
func (p Point) PayloadSize() int { return p.payloadSize }

// Tracepoints returns the number of tracepoints per request.
func (p Point) Tracepoints() int { return p.tracepoints }

// Trigger returns the trigger probability.
func (p Point) Trigger() float64 { return p.trigger }

// HeadSampling returns the head sampling probability.
func (p Point) HeadSampling() float64 { return p.headSampling }

// Retroactive returns the retroactive sampling probability.
func (p Point) Retroactive() float64 { return p.retroactive }

// Duration returns how long the benchmark runs.
func (p Point) Duration() time.Duration { return p.duration }

// Swept returns the swept dimensions in sweep order.
func (p Point) Swept() []Dim {
	return append([]Dim(nil), p.swept...)
}

// Value returns the value of dimension d at p.
func (p Point) Value(d Dim) int {
	switch d {
	case Threads:
		return p.threads
	case PayloadSize:
		return p.payloadSize
	case BufferSize:
		return p.bufferSize
	default:
		return 0
	}
}

// String identifies the point by its swept dimensions.
func (p Point) String() string {
	parts := make([]string, 0, len(p.swept))
	for _, d := range p.swept {
		parts = append(parts, fmt.Sprintf("%s=%d", d, p.Value(d)))
	}

	return strings.Join(parts, ",")
}

// NewPoint builds a single point outside of a sweep, as used by a one-off
// launch. Nothing is swept, so its artifact name is not meaningful.
func NewPoint(
	service string,
	threads, bufferSize, bufferCount, payloadSize, tracepoints int,
	trigger, headSampling, retroactive float64,
	duration time.Duration,
) Point {
	return Point{
		service:      service,
		threads:      threads,
		bufferSize:   bufferSize,
		bufferCount:  bufferCount,
		payloadSize:  payloadSize,
		tracepoints:  tracepoints,
		trigger:      trigger,
		headSampling: headSampling,
		retroactive:  retroactive,
		duration:     duration,
	}
}

var nameSuffix = map[Dim]string{
	Threads:     "threads",
	PayloadSize: "payload",
	BufferSize:  "bufsize",
}

// ArtifactName returns the file name of p's run artifact, for example
// "4threads_1000payload_2048bufsize.out". Only swept dimensions appear,
// always in AllDims order regardless of the loop order, so renaming the
// loop nesting never renames existing artifacts.
func ArtifactName(p Point) string {
	var b strings.Builder

	for _, d := range AllDims {
		if !p.sweeps(d) {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte('_')
		}

		fmt.Fprintf(&b, "%d%s", p.Value(d), nameSuffix[d])
	}

	b.WriteString(".out")

	return b.String()
}

func (p Point) sweeps(d Dim) bool {
	for _, s := range p.swept {
		if s == d {
			return true
		}
	}

	return false
}
