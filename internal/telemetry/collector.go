package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/logger"
)

// Collector assembles one Record per device by querying the source once per
// field. A failing field read degrades that field to absent and never affects
// other fields; Collect returns an error only when the device itself cannot
// be resolved. Per-field unavailability is the common case across
// driver/vendor combinations, so the record is best-effort by construction.
type Collector struct {
	source  gpu.Source
	timeout time.Duration
	log     logger.Logger
}

func NewCollector(source gpu.Source, fieldTimeout time.Duration, log logger.Logger) *Collector {
	return &Collector{
		source:  source,
		timeout: fieldTimeout,
		log:     log,
	}
}

// Collect reads every known field for the device at index. The returned
// record is immutable once returned and may be sparse, down to containing no
// fields at all when the source is fully nonfunctional for this device.
func (c *Collector) Collect(ctx context.Context, index int) (*Record, error) {
	device, err := c.source.Device(index)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		DeviceIndex: index,
		CollectedAt: time.Now().UTC(),
	}

	collectField(ctx, c, index, "temperature_gpu", device.Temperature, &rec.TemperatureGPU)
	collectField(ctx, c, index, "power_draw", device.PowerDraw, &rec.PowerDraw)
	collectField(ctx, c, index, "power_limit", device.PowerLimit, &rec.PowerLimit)

	collectField(ctx, c, index, "memory_used", device.MemoryUsed, &rec.MemoryUsed)
	collectField(ctx, c, index, "memory_free", device.MemoryFree, &rec.MemoryFree)
	collectField(ctx, c, index, "memory_total", device.MemoryTotal, &rec.MemoryTotal)

	if rec.MemoryUsed != nil && rec.MemoryTotal != nil && *rec.MemoryTotal > 0 {
		derived := float64(*rec.MemoryUsed) / float64(*rec.MemoryTotal) * 100
		rec.MemoryUtilization = &derived
	}

	// The directly reported utilization wins over the derived used/total
	// ratio when both reads succeed.
	collectField(ctx, c, index, "memory_utilization", device.MemoryUtilization, &rec.MemoryUtilization)
	collectField(ctx, c, index, "gpu_utilization", device.GPUUtilization, &rec.GPUUtilization)
	collectField(ctx, c, index, "encoder_utilization", device.EncoderUtilization, &rec.EncoderUtilization)
	collectField(ctx, c, index, "decoder_utilization", device.DecoderUtilization, &rec.DecoderUtilization)

	collectField(ctx, c, index, "fan_speed", device.FanSpeed, &rec.FanSpeed)

	collectField(ctx, c, index, "clock_graphics", device.GraphicsClock, &rec.ClockGraphics)
	collectField(ctx, c, index, "clock_memory", device.MemoryClock, &rec.ClockMemory)
	collectField(ctx, c, index, "clock_sm", device.SMClock, &rec.ClockSM)

	collectField(ctx, c, index, "ecc_errors_corrected", device.CorrectedECCErrors, &rec.ECCErrorsCorrected)
	collectField(ctx, c, index, "ecc_errors_uncorrected", device.UncorrectedECCErrors, &rec.ECCErrorsUncorrected)

	collectField(ctx, c, index, "throttle_reasons", device.ThrottleReasons, &rec.ThrottleReasons)

	collectField(ctx, c, index, "pcie_link_gen", device.PCIeLinkGeneration, &rec.PCIeLinkGen)
	collectField(ctx, c, index, "pcie_link_width", device.PCIeLinkWidth, &rec.PCIeLinkWidth)
	collectField(ctx, c, index, "pcie_tx_throughput", device.PCIeTxThroughput, &rec.PCIeTxThroughput)
	collectField(ctx, c, index, "pcie_rx_throughput", device.PCIeRxThroughput, &rec.PCIeRxThroughput)
	collectField(ctx, c, index, "pcie_replay_counter", device.PCIeReplayCounter, &rec.PCIeReplayCounter)

	collectField(ctx, c, index, "process_count", device.ProcessCount, &rec.ProcessCount)
	collectField(ctx, c, index, "process_memory_used", device.ProcessMemoryUsed, &rec.ProcessMemoryUsed)

	collectField(ctx, c, index, "retired_pages_sbe", device.RetiredPagesSBE, &rec.RetiredPagesSBE)
	collectField(ctx, c, index, "retired_pages_dbe", device.RetiredPagesDBE, &rec.RetiredPagesDBE)

	return rec, nil
}

// collectField runs one field read and stores the value on success. Failure
// is logged at debug severity and leaves the destination nil.
func collectField[T any](ctx context.Context, c *Collector, index int, name string, read func() (T, error), dst **T) {
	value, err := readField(ctx, c.timeout, read)
	if err != nil {
		c.log.Debug().Err(err).Int("gpu", index).Str("field", name).Msg("Field unavailable")
		return
	}

	*dst = &value
}

// readField bounds one source call with the collector timeout. The underlying
// call is not interruptible; when it outlives the deadline its eventual
// result is discarded and the field counts as failed for this cycle.
func readField[T any](ctx context.Context, timeout time.Duration, read func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}

	done := make(chan outcome, 1)

	go func() {
		value, err := read()
		done <- outcome{value: value, err: err}
	}()

	var zero T

	select {
	case out := <-done:
		return out.value, out.err
	case <-time.After(timeout):
		return zero, errors.New().WithData(ErrFieldTimeout, struct {
			Timeout time.Duration
		}{timeout})
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
