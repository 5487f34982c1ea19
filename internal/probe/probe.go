// Package probe runs synthetic GPU workloads and scores them. Workload
// failures are captured in the Result, never returned as errors; only
// asking for a benchmark that does not exist fails the call itself.
package probe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/logger"
)

const (
	NameMatrixMultiply  = "matrix_multiply"
	NameMemoryBandwidth = "memory_bandwidth"
	NameSimple          = "simple"
)

// Measurement is what a workload reports about itself. Fields a workload
// does not measure stay nil.
type Measurement struct {
	GFLOPS        *float64
	BandwidthGBps *float64
}

// Result is the scored outcome of one workload run on one device.
type Result struct {
	RunID         string
	TestName      string
	DeviceIndex   int
	StartedAt     time.Time
	Duration      time.Duration
	GFLOPS        *float64
	BandwidthGBps *float64
	Success       bool
	Error         string
}

// Benchmark is a single synthetic workload. Setup allocates working
// buffers, Run executes and times the workload, Cleanup drops the buffers.
// Cleanup runs even when Setup or Run fails.
type Benchmark interface {
	Name() string
	Setup() error
	Run(ctx context.Context) (Measurement, error)
	Cleanup()
}

// Options tune workload sizes. Zero values select the defaults.
type Options struct {
	MatrixSize int
	BufferMiB  int
}

// Factory builds a benchmark sized by opts.
type Factory func(opts Options) Benchmark

type Runner struct {
	factories map[string]Factory
	log       logger.Logger
}

func NewRunner(log logger.Logger) *Runner {
	return &Runner{
		factories: map[string]Factory{
			NameMatrixMultiply:  func(opts Options) Benchmark { return NewMatrixMultiply(opts.MatrixSize) },
			NameMemoryBandwidth: func(opts Options) Benchmark { return NewMemoryBandwidth(opts.BufferMiB) },
			NameSimple:          func(opts Options) Benchmark { return NewSimple(opts.MatrixSize) },
		},
		log: log,
	}
}

// Register adds a workload under the given name, replacing any previous one.
func (r *Runner) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// List returns the available workload names in sorted order.
func (r *Runner) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Run executes a single workload on the given device.
func (r *Runner) Run(ctx context.Context, name string, device int, opts Options) (Result, error) {
	factory, ok := r.factories[name]
	if !ok {
		return Result{}, errors.New().WithData(ErrUnknownBenchmark, struct {
			Name      string
			Available []string
		}{
			Name:      name,
			Available: r.List(),
		})
	}

	return r.execute(ctx, uuid.NewString(), factory(opts), device), nil
}

// RunAll executes every registered workload on the given device. All
// results share one run ID.
func (r *Runner) RunAll(ctx context.Context, device int, opts Options) []Result {
	runID := uuid.NewString()
	names := r.List()

	results := make([]Result, 0, len(names))
	for _, name := range names {
		results = append(results, r.execute(ctx, runID, r.factories[name](opts), device))
	}

	return results
}

func (r *Runner) execute(ctx context.Context, runID string, bench Benchmark, device int) Result {
	r.log.Info().Str("test", bench.Name()).Int("gpu", device).Msg("Running benchmark")

	started := time.Now()

	result := Result{
		RunID:       runID,
		TestName:    bench.Name(),
		DeviceIndex: device,
		StartedAt:   started,
	}

	measurement, err := r.measure(ctx, bench)
	result.Duration = time.Since(started)

	if err != nil {
		result.Error = err.Error()
		r.log.Warn().Err(err).Str("test", bench.Name()).Int("gpu", device).Msg("Benchmark failed")

		return result
	}

	result.Success = true
	result.GFLOPS = measurement.GFLOPS
	result.BandwidthGBps = measurement.BandwidthGBps

	event := r.log.Info().Str("test", bench.Name()).Int("gpu", device).Dur("elapsed", result.Duration)
	if measurement.GFLOPS != nil {
		event = event.Float64("gflops", *measurement.GFLOPS)
	}

	if measurement.BandwidthGBps != nil {
		event = event.Float64("bandwidth_gbps", *measurement.BandwidthGBps)
	}

	event.Msg("Benchmark completed")

	return result
}

// measure drives the setup/run/cleanup lifecycle. A panicking workload is
// reported as a failure, not propagated.
func (r *Runner) measure(ctx context.Context, bench Benchmark) (m Measurement, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New().WithData(ErrBenchmarkPanic, struct {
				Test  string
				Panic string
			}{
				Test:  bench.Name(),
				Panic: fmt.Sprint(rec),
			})
		}
	}()
	defer bench.Cleanup()

	if err := bench.Setup(); err != nil {
		return Measurement{}, errors.New().Wrap(ErrSetupFailed, err)
	}

	return bench.Run(ctx)
}
