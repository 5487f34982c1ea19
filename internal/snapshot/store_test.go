package snapshot_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

func TestStoreLatestIsNilBeforeFirstPublish(t *testing.T) {
	store := snapshot.NewStore()
	assert.Nil(t, store.Latest())
}

func TestStorePublishReplacesWholeSet(t *testing.T) {
	store := snapshot.NewStore()

	first := &snapshot.Set{CollectedAt: time.Now()}
	store.Publish(first)
	assert.Same(t, first, store.Latest())

	second := &snapshot.Set{CollectedAt: time.Now()}
	store.Publish(second)
	assert.Same(t, second, store.Latest())
}

func TestSetDeviceLookup(t *testing.T) {
	set := &snapshot.Set{
		Snapshots: []snapshot.Snapshot{
			{Device: gpu.DeviceInfo{Index: 0}},
			{Device: gpu.DeviceInfo{Index: 1}},
		},
	}

	snap := set.Device(1)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Device.Index)

	assert.Nil(t, set.Device(7))
}

// Every entry in one set carries the same cycle marker, so a reader that ever
// sees two markers in a single set has observed a torn publish.
func TestStoreReadersNeverSeeTornSets(t *testing.T) {
	const (
		devices = 4
		cycles  = 2000
		readers = 4
	)

	store := snapshot.NewStore()
	stop := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)

		for cycle := 0; cycle < cycles; cycle++ {
			set := &snapshot.Set{CollectedAt: time.Now()}
			for i := 0; i < devices; i++ {
				set.Snapshots = append(set.Snapshots, snapshot.Snapshot{
					Device: gpu.DeviceInfo{Index: i},
					Metrics: &telemetry.Record{
						DeviceIndex:    i,
						TemperatureGPU: telemetry.Ptr(float64(cycle)),
					},
				})
			}

			store.Publish(set)
		}
	}()

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				set := store.Latest()
				if set == nil {
					continue
				}

				marker := *set.Snapshots[0].Metrics.TemperatureGPU
				for _, snap := range set.Snapshots {
					if *snap.Metrics.TemperatureGPU != marker {
						t.Errorf("Torn set: marker %v alongside %v", marker, *snap.Metrics.TemperatureGPU)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
}
