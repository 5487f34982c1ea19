package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"codeberg.org/mutker/nvsentinel/internal/config"
	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/export"
	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/logger"
	"codeberg.org/mutker/nvsentinel/internal/pid"
	"codeberg.org/mutker/nvsentinel/internal/probe"
	"codeberg.org/mutker/nvsentinel/internal/server"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

const (
	version = "0.1.0"

	outputFilePerm = 0o644
)

var cfg *config.Config

func init() {
	var err error

	cfg, err = config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}

		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.SetLogLevel(cfg.LoggerLevel())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if cfg.Command == "version" {
		fmt.Printf("nvsentinel %s\n", version)

		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Str("command", cfg.Command).Msg("Command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	switch cfg.Command {
	case "serve":
		return runServe(ctx)
	case "monitor":
		return runMonitor(ctx)
	case "health":
		return runHealth(ctx)
	case "export":
		return runExport(ctx)
	case "benchmark":
		return runBenchmark(ctx)
	default:
		return errors.New().WithData(errors.ErrInvalidArgument, struct {
			Command string
			Known   []string
		}{
			Command: cfg.Command,
			Known:   []string{"serve", "monitor", "health", "export", "benchmark", "version"},
		})
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// pipeline wires the device registry, collector, store and scheduler that
// every command shares.
type pipeline struct {
	registry  *gpu.Registry
	devices   []gpu.DeviceInfo
	store     *snapshot.Store
	scheduler *snapshot.Scheduler
}

func buildPipeline() (*pipeline, error) {
	log := logger.Default()

	source := gpu.NewSource()
	registry := gpu.NewRegistry(source, log)

	devices, err := registry.Discover()
	if err != nil {
		return nil, err
	}

	if len(devices) == 0 {
		logger.Warn().Msg("No GPUs detected")
	}

	collector := telemetry.NewCollector(source, cfg.FieldTimeout, log)
	store := snapshot.NewStore()
	scheduler := snapshot.NewScheduler(collector, store, devices, refreshInterval(), log)

	return &pipeline{
		registry:  registry,
		devices:   devices,
		store:     store,
		scheduler: scheduler,
	}, nil
}

func (p *pipeline) close() {
	if err := p.registry.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("NVML shutdown failed")
	}
}

func refreshInterval() time.Duration {
	return time.Duration(cfg.Interval) * time.Second
}

func runServe(ctx context.Context) error {
	if err := pid.Write(); err != nil {
		return err
	}

	logger.Debug().Str("path", pid.Path()).Msg("PID file written")

	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	srv, err := server.New(cfg.ListenAddr(), p.store, logger.Default())
	if err != nil {
		return err
	}

	// Populate the store before the first scrape can arrive.
	p.scheduler.RefreshOnce(ctx)

	go p.scheduler.Run(ctx)

	return srv.Serve(ctx)
}

func runMonitor(ctx context.Context) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	logger.Info().Msg("Monitor mode activated. Logging GPU status...")

	ticker := time.NewTicker(refreshInterval())
	defer ticker.Stop()

	p.scheduler.RefreshOnce(ctx)
	logSnapshots(p.store.Latest())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.scheduler.RefreshOnce(ctx)
			logSnapshots(p.store.Latest())
		}
	}
}

func logSnapshots(set *snapshot.Set) {
	if set == nil {
		return
	}

	for i := range set.Snapshots {
		snap := &set.Snapshots[i]

		event := logger.Info().
			Int("gpu", snap.Device.Index).
			Str("name", snap.Device.Name).
			Str("status", snap.Health.Overall.String())

		if snap.Metrics.TemperatureGPU != nil {
			event = event.Float64("temperature", *snap.Metrics.TemperatureGPU)
		}

		if snap.Metrics.MemoryUtilization != nil {
			event = event.Float64("memory_percent", *snap.Metrics.MemoryUtilization)
		}

		if snap.Metrics.GPUUtilization != nil {
			event = event.Float64("gpu_percent", *snap.Metrics.GPUUtilization)
		}

		if snap.Metrics.PowerDraw != nil {
			event = event.Float64("power_draw", *snap.Metrics.PowerDraw)
		}

		event.Msg("")
	}
}

func runHealth(ctx context.Context) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	p.scheduler.RefreshOnce(ctx)

	out, err := export.HealthSummaryJSON(p.store.Latest())
	if err != nil {
		return err
	}

	return writeOutput(append(out, '\n'))
}

func runExport(ctx context.Context) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	p.scheduler.RefreshOnce(ctx)

	out, err := renderExport(p.store.Latest())
	if err != nil {
		return err
	}

	return writeOutput(out)
}

func renderExport(set *snapshot.Set) ([]byte, error) {
	errFactory := errors.New()

	switch cfg.Format {
	case "prometheus":
		return export.Prometheus(set)
	case "json":
		switch cfg.Kind {
		case "metrics":
			return export.JSON(set)
		case "health":
			return export.HealthSummaryJSON(set)
		case "identity":
			return export.IdentityJSON(set)
		}
	case "csv":
		switch cfg.Kind {
		case "metrics":
			return export.MetricsCSV(set)
		case "health":
			return export.HealthCSV(set)
		case "identity":
			return export.IdentityCSV(set)
		}
	default:
		return nil, errFactory.WithData(errors.ErrInvalidArgument, struct {
			Format string
			Known  []string
		}{
			Format: cfg.Format,
			Known:  []string{"json", "csv", "prometheus"},
		})
	}

	return nil, errFactory.WithData(errors.ErrInvalidArgument, struct {
		Kind  string
		Known []string
	}{
		Kind:  cfg.Kind,
		Known: []string{"metrics", "health", "identity"},
	})
}

func runBenchmark(ctx context.Context) error {
	log := logger.Default()
	runner := probe.NewRunner(log)

	if cfg.Test == "list" {
		for _, name := range runner.List() {
			fmt.Println(name)
		}

		return nil
	}

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	if _, err := p.registry.Identity(cfg.Device); err != nil {
		return err
	}

	opts := probe.Options{MatrixSize: cfg.Size, BufferMiB: cfg.Size}

	var results []probe.Result

	if cfg.Test == "all" {
		results = runner.RunAll(ctx, cfg.Device, opts)
	} else {
		result, err := runner.Run(ctx, cfg.Test, cfg.Device, opts)
		if err != nil {
			return err
		}

		results = []probe.Result{result}
	}

	if cfg.Database != "" {
		repo, err := probe.NewRepository(cfg.Database, log)
		if err != nil {
			return err
		}

		defer func() {
			if err := repo.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close benchmark repository")
			}
		}()

		if err := repo.Save(results); err != nil {
			return err
		}
	}

	out, err := export.BenchmarkCSV(results, p.devices)
	if err != nil {
		return err
	}

	return writeOutput(out)
}

// writeOutput sends rendered bytes to the configured output path, or to
// stdout when none is set.
func writeOutput(out []byte) error {
	if cfg.Output == "" {
		if _, err := os.Stdout.Write(out); err != nil {
			return errors.New().Wrap(errors.ErrOperationFailed, err)
		}

		return nil
	}

	if err := os.WriteFile(cfg.Output, out, outputFilePerm); err != nil {
		return errors.New().Wrap(errors.ErrOperationFailed, err)
	}

	logger.Info().Str("path", cfg.Output).Msg("Exported")

	return nil
}
