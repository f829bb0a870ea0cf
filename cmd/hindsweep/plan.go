package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/weiihann/hindsweep/sweep"
)

const defaultPreset = "bufsize"

// planFlags selects a sweep plan and overrides individual fields of it.
// Overrides only apply to flags given on the command line.
type planFlags struct {
	plan         string
	preset       string
	name         string
	service      string
	threads      []int
	bufferSizes  []int
	payloadSizes []int
	bufferCount  int
	tracepoints  int
	trigger      float64
	headSampling float64
	retroactive  float64
	duration     time.Duration
	order        []string
	metrics      []string
	bufSource    string
}

func (f *planFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.plan, "plan", "",
		"Path to a YAML sweep plan")
	flags.StringVar(&f.preset, "preset", "",
		fmt.Sprintf("Built-in sweep plan %v (default %q)", sweep.PresetNames(), defaultPreset))
	flags.StringVar(&f.name, "name", "",
		"Sweep name recorded in the history")
	flags.StringVar(&f.service, "service", "",
		"Benchmark service name")
	flags.IntSliceVar(&f.threads, "threads", nil,
		"Thread counts")
	flags.IntSliceVar(&f.bufferSizes, "buffer-sizes", nil,
		"Buffer sizes in bytes")
	flags.IntSliceVar(&f.payloadSizes, "payload-sizes", nil,
		"Payload sizes in bytes")
	flags.IntVar(&f.bufferCount, "buffer-count", 0,
		"Number of buffers in the pool")
	flags.IntVar(&f.tracepoints, "tracepoints", 0,
		"Tracepoints per request")
	flags.Float64Var(&f.trigger, "trigger", 0,
		"Trigger probability")
	flags.Float64Var(&f.headSampling, "headsampling", 0,
		"Head sampling probability")
	flags.Float64Var(&f.retroactive, "retroactive", 0,
		"Retroactive sampling probability")
	flags.DurationVar(&f.duration, "duration", 0,
		"Duration of each run")
	flags.StringSliceVar(&f.order, "order", nil,
		"Swept dimensions, outermost first (thread, payload_size, buffer_size)")
	flags.StringSliceVar(&f.metrics, "metrics", nil,
		"Columns to average into the summary (default: all)")
	flags.StringVar(&f.bufSource, "buffer-size-source", "",
		"Buffer size for derived bytes: auto, column or constant")
}

// load resolves the plan and applies the overrides set on cmd.
func (f *planFlags) load(cmd *cobra.Command) (sweep.Config, error) {
	if f.plan != "" && f.preset != "" {
		return sweep.Config{}, errors.New("--plan and --preset are mutually exclusive")
	}

	var (
		cfg sweep.Config
		err error
	)

	switch {
	case f.plan != "":
		cfg, err = sweep.LoadPlan(f.plan)
	case f.preset != "":
		cfg, err = sweep.Preset(f.preset)
	default:
		cfg, err = sweep.Preset(defaultPreset)
	}

	if err != nil {
		return sweep.Config{}, err
	}

	flags := cmd.Flags()
	set := func(name string) bool { return flags.Changed(name) }

	if set("name") {
		cfg.Name = f.name
	}
	if set("service") {
		cfg.Service = f.service
	}
	if set("threads") {
		cfg.Threads = f.threads
	}
	if set("buffer-sizes") {
		cfg.BufferSizes = f.bufferSizes
	}
	if set("payload-sizes") {
		cfg.PayloadSizes = f.payloadSizes
	}
	if set("buffer-count") {
		cfg.BufferCount = f.bufferCount
	}
	if set("tracepoints") {
		cfg.Tracepoints = f.tracepoints
	}
	if set("trigger") {
		cfg.Trigger = f.trigger
	}
	if set("headsampling") {
		cfg.HeadSampling = f.headSampling
	}
	if set("retroactive") {
		cfg.Retroactive = f.retroactive
	}
	if set("duration") {
		cfg.Duration = f.duration
	}
	if set("order") {
		cfg.Order = make([]sweep.Dim, len(f.order))
		for i, d := range f.order {
			cfg.Order[i] = sweep.Dim(d)
		}
	}
	if set("metrics") {
		cfg.Metrics = f.metrics
	}
	if set("buffer-size-source") {
		cfg.BufferSizeSource = f.bufSource
	}

	if err := cfg.Validate(); err != nil {
		return sweep.Config{}, fmt.Errorf("invalid sweep: %w", err)
	}

	return cfg, nil
}

func newPlansCmd() *cobra.Command {
	var show string

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List the built-in sweep plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			if show != "" {
				cfg, err := sweep.Preset(show)
				if err != nil {
					return err
				}

				data, err := sweep.MarshalPlan(cfg)
				if err != nil {
					return err
				}

				_, err = out.Write(data)

				return err
			}

			for _, name := range sweep.PresetNames() {
				cfg, err := sweep.Preset(name)
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "%-12s %3d points, swept %v\n",
					name, len(cfg.Points()), cfg.Order)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&show, "show", "",
		"Print the named plan as YAML, usable as a --plan file")

	return cmd
}
