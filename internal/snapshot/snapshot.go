// Package snapshot holds the most recent collection state for every device
// and the scheduler that refreshes it. Readers and the refresh loop share
// nothing but the store, which swaps complete sets in one atomic publish.
package snapshot

import (
	"time"

	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/health"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

// Snapshot pairs one device's identity with its latest record and report.
type Snapshot struct {
	Device  gpu.DeviceInfo    `json:"gpu_info"`
	Metrics *telemetry.Record `json:"metrics"`
	Health  *health.Report    `json:"health"`
}

// Set is one refresh cycle's outcome across all devices. A Set is immutable
// after publication; the next cycle builds a fresh one.
type Set struct {
	Snapshots   []Snapshot `json:"gpus"`
	CollectedAt time.Time  `json:"timestamp"`
}

// Device returns the snapshot for a device index, or nil when the set does
// not contain it.
func (s *Set) Device(index int) *Snapshot {
	for i := range s.Snapshots {
		if s.Snapshots[i].Device.Index == index {
			return &s.Snapshots[i]
		}
	}

	return nil
}
