package sweep

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/weiihann/hindsweep/metrics"
	"gopkg.in/yaml.v3"
)

// Raw columns the benchmark reports every interval.
var (
	countMetrics = []string{
		"traces", "invalidtraces", "tracepoints", "bytes",
		"null_released", "pool_released",
	}
	latencyMetrics = []string{"begin", "tracepoint", "end"}
)

var presets = map[string]Config{
	"bufsize": {
		Name:         "bufsize",
		Service:      "multi",
		Threads:      []int{1, 2, 4, 6, 8},
		PayloadSizes: []int{1000},
		BufferSizes: []int{
			128, 256, 512, 1024, 2048, 4096, 8192,
			16384, 32768, 65536, 131072,
		},
		BufferCount: 25000,
		Tracepoints: 128,
		Retroactive: 1,
		Duration:    60 * time.Second,
		Order:       []Dim{Threads, PayloadSize, BufferSize},
		Metrics: append(append([]string(nil), countMetrics...),
			metrics.Derived...),
		Derive:           true,
		BufferSizeSource: BufferSizeColumn,
	},
	"throughput": {
		Name:         "throughput",
		Service:      "multi",
		Threads:      []int{1, 2, 4, 8, 16, 32, 64},
		PayloadSizes: []int{4, 40, 400, 4000},
		BufferSizes:  []int{32768},
		BufferCount:  25000,
		Tracepoints:  1000,
		Retroactive:  1,
		Duration:     60 * time.Second,
		Order:        []Dim{Threads, PayloadSize},
		Metrics: append(append([]string(nil), countMetrics...),
			metrics.TotalReleased, metrics.ReleasedBytes),
		Derive:           true,
		BufferSizeSource: BufferSizeConstant,
	},
	"latency": {
		Name:         "latency",
		Service:      "multi",
		Threads:      seq(1, 32),
		PayloadSizes: []int{4},
		BufferSizes:  []int{32768},
		BufferCount:  25000,
		Tracepoints:  1000,
		Retroactive:  1,
		Duration:     60 * time.Second,
		Order:        []Dim{Threads},
		Metrics:      latencyMetrics,
	},
}

func seq(lo, hi int) []int {
	s := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		s = append(s, i)
	}

	return s
}

// PresetNames returns the names of the built-in sweep plans, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Preset returns a copy of the named built-in sweep plan.
func Preset(name string) (Config, error) {
	c, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown preset %q (known: %v)", name, PresetNames())
	}

	return c.clone(), nil
}

func (c Config) clone() Config {
	c.Threads = append([]int(nil), c.Threads...)
	c.BufferSizes = append([]int(nil), c.BufferSizes...)
	c.PayloadSizes = append([]int(nil), c.PayloadSizes...)
	c.Order = append([]Dim(nil), c.Order...)
	c.Metrics = append([]string(nil), c.Metrics...)

	return c
}

// LoadPlan reads a YAML sweep plan. Fields absent from the file keep the
// values of the preset named by the file's "preset" key, if any.
//
//	preset: throughput
//	service: multi
//	threads: [1, 2, 4]
//	duration: 30s
func LoadPlan(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read plan: %w", err)
	}

	return ParsePlan(data)
}

// ParsePlan decodes a YAML sweep plan from data.
func ParsePlan(data []byte) (Config, error) {
	var head struct {
		Preset string `yaml:"preset"`
	}

	if err := yaml.Unmarshal(data, &head); err != nil {
		return Config{}, fmt.Errorf("decode plan: %w", err)
	}

	var cfg Config

	if head.Preset != "" {
		var err error

		cfg, err = Preset(head.Preset)
		if err != nil {
			return Config{}, err
		}
	}

	var body struct {
		Preset string `yaml:"preset"`
		Config `yaml:",inline"`
	}

	body.Config = cfg

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&body); err != nil {
		return Config{}, fmt.Errorf("decode plan: %w", err)
	}

	return body.Config, nil
}

// MarshalPlan encodes c as YAML, the inverse of ParsePlan.
func MarshalPlan(c Config) ([]byte, error) {
	return yaml.Marshal(c)
}
