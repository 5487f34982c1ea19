package snapshot_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/health"
	"codeberg.org/mutker/nvsentinel/internal/logger"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

type fakeCollector struct {
	temps map[int]float64
	fail  map[int]bool
}

func (c *fakeCollector) Collect(_ context.Context, index int) (*telemetry.Record, error) {
	if c.fail[index] {
		return nil, fmt.Errorf("device %d unreachable", index)
	}

	rec := &telemetry.Record{
		DeviceIndex: index,
		CollectedAt: time.Now().UTC(),
	}
	if temp, ok := c.temps[index]; ok {
		rec.TemperatureGPU = telemetry.Ptr(temp)
	}

	return rec, nil
}

func twoDevices() []gpu.DeviceInfo {
	return []gpu.DeviceInfo{
		{Index: 0, Name: "NVIDIA Test GPU 0"},
		{Index: 1, Name: "NVIDIA Test GPU 1"},
	}
}

func TestSchedulerRefreshOncePublishes(t *testing.T) {
	store := snapshot.NewStore()
	collector := &fakeCollector{temps: map[int]float64{0: 45, 1: 95}}
	scheduler := snapshot.NewScheduler(collector, store, twoDevices(), time.Second, logger.Nop())

	scheduler.RefreshOnce(context.Background())

	set := store.Latest()
	require.NotNil(t, set)
	require.Len(t, set.Snapshots, 2)
	assert.False(t, set.CollectedAt.IsZero())

	assert.Equal(t, health.StatusHealthy, set.Snapshots[0].Health.Temperature)
	assert.Equal(t, health.StatusCritical, set.Snapshots[1].Health.Temperature)
	assert.Equal(t, "NVIDIA Test GPU 1", set.Snapshots[1].Device.Name)
}

func TestSchedulerRetainsPriorSnapshotOnDeviceFailure(t *testing.T) {
	store := snapshot.NewStore()
	collector := &fakeCollector{temps: map[int]float64{0: 45, 1: 50}, fail: map[int]bool{}}
	scheduler := snapshot.NewScheduler(collector, store, twoDevices(), time.Second, logger.Nop())

	scheduler.RefreshOnce(context.Background())
	firstCycle := store.Latest()
	require.NotNil(t, firstCycle)

	collector.temps[0] = 60
	collector.fail[1] = true
	scheduler.RefreshOnce(context.Background())

	set := store.Latest()
	require.NotSame(t, firstCycle, set, "Each cycle must publish a fresh set")
	require.Len(t, set.Snapshots, 2, "A failing device must stay in the set")

	require.NotNil(t, set.Snapshots[0].Metrics.TemperatureGPU)
	assert.InDelta(t, 60.0, *set.Snapshots[0].Metrics.TemperatureGPU, 0.001)

	require.NotNil(t, set.Snapshots[1].Metrics.TemperatureGPU, "Prior snapshot must be retained")
	assert.InDelta(t, 50.0, *set.Snapshots[1].Metrics.TemperatureGPU, 0.001)
	assert.Equal(t, health.StatusHealthy, set.Snapshots[1].Health.Temperature)
}

func TestSchedulerMarksDeviceUnknownWithoutPrior(t *testing.T) {
	store := snapshot.NewStore()
	collector := &fakeCollector{temps: map[int]float64{0: 45}, fail: map[int]bool{1: true}}
	scheduler := snapshot.NewScheduler(collector, store, twoDevices(), time.Second, logger.Nop())

	scheduler.RefreshOnce(context.Background())

	set := store.Latest()
	require.Len(t, set.Snapshots, 2)

	failed := set.Snapshots[1]
	assert.Equal(t, 1, failed.Device.Index)
	assert.Nil(t, failed.Metrics.TemperatureGPU)
	assert.Equal(t, health.StatusUnknown, failed.Health.Overall)
	assert.Equal(t, health.StatusUnknown, failed.Health.Temperature)
	assert.Equal(t, health.StatusUnknown, failed.Health.Memory)
	assert.Equal(t, health.StatusUnknown, failed.Health.Power)
	assert.Equal(t, health.StatusUnknown, failed.Health.Utilization)
}

func TestSchedulerRunRefreshesUntilCancelled(t *testing.T) {
	store := snapshot.NewStore()
	collector := &fakeCollector{temps: map[int]float64{0: 45, 1: 50}}
	scheduler := snapshot.NewScheduler(collector, store, twoDevices(), 5*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Latest() != nil },
		time.Second, time.Millisecond, "Run must publish after the first tick")

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
