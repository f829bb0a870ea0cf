package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/weiihann/hindsweep/sweep"
)

// Defaults matching the layout of the tracing repository: the harness runs
// next to the client and agent source trees.
const (
	DefaultClientDir = "../client"
	DefaultClientBin = "bin/benchmark_test"
	DefaultAgentDir  = "../agent"
)

// DefaultAgentCmd starts the agent from source.
var DefaultAgentCmd = []string{"go", "run", "cmd/agent2/main.go"}

// ResolveClient returns the absolute path of the benchmark binary and
// checks that it exists.
func ResolveClient(clientDir, clientBin string) (string, error) {
	path := clientBin
	if !filepath.IsAbs(path) {
		path = filepath.Join(clientDir, clientBin)
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve benchmark binary: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("benchmark binary: %w", err)
	}

	if info.IsDir() {
		return "", fmt.Errorf("benchmark binary %s is a directory", path)
	}

	return path, nil
}

// ClientArgs returns the benchmark flags for p, ending with the service
// name as the positional argument.
func ClientArgs(p sweep.Point) []string {
	return []string{
		"--threads", strconv.Itoa(p.Threads()),
		"--buffer_size", strconv.Itoa(p.BufferSize()),
		"--buffer_count", strconv.Itoa(p.BufferCount()),
		"--payload_size", strconv.Itoa(p.PayloadSize()),
		"--tracepoints", strconv.Itoa(p.Tracepoints()),
		"--trigger", formatProb(p.Trigger()),
		"--duration", strconv.Itoa(int(p.Duration().Seconds())),
		"--headsampling", formatProb(p.HeadSampling()),
		"--retroactive", formatProb(p.Retroactive()),
		p.Service(),
	}
}

// AgentArgs returns the agent command line for service.
func AgentArgs(agentCmd []string, service string) []string {
	args := make([]string, 0, len(agentCmd)+2)
	args = append(args, agentCmd...)

	return append(args, "--serv", service)
}

func formatProb(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}
