package telemetry

import "time"

// Record holds one collection cycle's telemetry for a single device. Every
// metric is optional: a nil pointer means the source could not provide the
// field during this cycle. A Record is never mutated after Collect returns;
// the next cycle produces a fresh one.
type Record struct {
	DeviceIndex int       `json:"gpu_index"`
	CollectedAt time.Time `json:"timestamp"`

	// Temperature (°C)
	TemperatureGPU *float64 `json:"temperature_gpu"`

	// Power (W)
	PowerDraw  *float64 `json:"power_draw"`
	PowerLimit *float64 `json:"power_limit"`

	// Memory (MiB)
	MemoryUsed  *uint64 `json:"memory_used"`
	MemoryFree  *uint64 `json:"memory_free"`
	MemoryTotal *uint64 `json:"memory_total"`

	// Utilization (%)
	MemoryUtilization  *float64 `json:"memory_utilization"`
	GPUUtilization     *float64 `json:"gpu_utilization"`
	EncoderUtilization *float64 `json:"encoder_utilization"`
	DecoderUtilization *float64 `json:"decoder_utilization"`

	// Fan (%)
	FanSpeed *float64 `json:"fan_speed"`

	// Clocks (MHz)
	ClockGraphics *uint32 `json:"clock_graphics"`
	ClockMemory   *uint32 `json:"clock_memory"`
	ClockSM       *uint32 `json:"clock_sm"`

	// ECC error counters (cumulative)
	ECCErrorsCorrected   *uint64 `json:"ecc_errors_corrected"`
	ECCErrorsUncorrected *uint64 `json:"ecc_errors_uncorrected"`

	// Current clock throttle reasons (bitmask)
	ThrottleReasons *uint64 `json:"throttle_reasons"`

	// PCIe link state and traffic
	PCIeLinkGen       *uint32 `json:"pcie_link_gen"`
	PCIeLinkWidth     *uint32 `json:"pcie_link_width"`
	PCIeTxThroughput  *uint64 `json:"pcie_tx_throughput"`
	PCIeRxThroughput  *uint64 `json:"pcie_rx_throughput"`
	PCIeReplayCounter *uint64 `json:"pcie_replay_counter"`

	// Compute processes
	ProcessCount      *uint32 `json:"process_count"`
	ProcessMemoryUsed *uint64 `json:"process_memory_used"`

	// Retired memory pages (cumulative)
	RetiredPagesSBE *uint64 `json:"retired_pages_sbe"`
	RetiredPagesDBE *uint64 `json:"retired_pages_dbe"`
}

// Ptr returns a pointer to v. Convenience for assembling records by hand.
func Ptr[T any](v T) *T {
	return &v
}
