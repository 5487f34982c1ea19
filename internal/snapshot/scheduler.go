package snapshot

import (
	"context"
	"time"

	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/health"
	"codeberg.org/mutker/nvsentinel/internal/logger"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

// Collector is the per-device collection seam the scheduler drives.
type Collector interface {
	Collect(ctx context.Context, index int) (*telemetry.Record, error)
}

// Scheduler refreshes the store on a fixed interval. One cycle collects and
// classifies every discovered device, then publishes the whole set in a
// single swap. A device whose collection fails keeps its prior snapshot, or
// enters the set with a fully UNKNOWN report when it never had one; the cycle
// continues for the remaining devices either way.
type Scheduler struct {
	collector Collector
	store     *Store
	devices   []gpu.DeviceInfo
	interval  time.Duration
	log       logger.Logger
}

func NewScheduler(
	collector Collector,
	store *Store,
	devices []gpu.DeviceInfo,
	interval time.Duration,
	log logger.Logger,
) *Scheduler {
	return &Scheduler{
		collector: collector,
		store:     store,
		devices:   devices,
		interval:  interval,
		log:       log,
	}
}

// RefreshOnce runs one full collection cycle and publishes the result.
func (s *Scheduler) RefreshOnce(ctx context.Context) {
	started := time.Now()
	prior := s.store.Latest()

	set := &Set{
		Snapshots:   make([]Snapshot, 0, len(s.devices)),
		CollectedAt: started.UTC(),
	}

	for _, device := range s.devices {
		rec, err := s.collector.Collect(ctx, device.Index)
		if err != nil {
			s.log.Warn().Err(err).Int("gpu", device.Index).Msg("Device collection failed")
			set.Snapshots = append(set.Snapshots, s.fallback(prior, device))

			continue
		}

		report := health.Classify(rec)
		set.Snapshots = append(set.Snapshots, Snapshot{
			Device:  device,
			Metrics: rec,
			Health:  &report,
		})
	}

	s.store.Publish(set)

	s.log.Debug().
		Int("gpus", len(set.Snapshots)).
		Dur("elapsed", time.Since(started)).
		Msg("Published snapshot set")
}

// Run refreshes on the configured interval until ctx is cancelled. Cycles do
// not overlap: the next tick is consumed only after the previous cycle's
// publish has completed.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("Refresh scheduler stopped")
			return
		case <-ticker.C:
			s.RefreshOnce(ctx)
		}
	}
}

// fallback keeps the device addressable after a collection failure: its prior
// snapshot when one exists, otherwise an empty record classified to UNKNOWN.
func (s *Scheduler) fallback(prior *Set, device gpu.DeviceInfo) Snapshot {
	if prior != nil {
		if snap := prior.Device(device.Index); snap != nil {
			return *snap
		}
	}

	empty := &telemetry.Record{
		DeviceIndex: device.Index,
		CollectedAt: time.Now().UTC(),
	}
	report := health.Classify(empty)

	return Snapshot{
		Device:  device,
		Metrics: empty,
		Health:  &report,
	}
}
