package telemetry

// Kind distinguishes how a field behaves over time for exposition purposes.
type Kind int

const (
	// Gauge fields move up and down between cycles.
	Gauge Kind = iota
	// Counter fields are cumulative and never decrease within one driver lifetime.
	Counter
)

const mibToBytes = 1024 * 1024

// Field describes one telemetry field across all export surfaces: its
// canonical name, its tabular column header, its exposition series name and
// type, and how to read it from a Record. Exporters derive their output from
// this table so the formats cannot drift apart.
type Field struct {
	Name   string
	Column string
	Metric string
	Help   string
	Kind   Kind
	// Scale multiplies the raw value for exposition output. Tabular and
	// structured exports keep the raw unit.
	Scale float64
	Value func(*Record) (float64, bool)
}

// Fields returns the canonical field table in fixed order. The order defines
// tabular column order and exposition series order.
func Fields() []Field {
	return fieldTable
}

var fieldTable = []Field{
	{
		Name:   "temperature_gpu",
		Column: "temperature_gpu",
		Metric: "nvsentinel_gpu_temperature_celsius",
		Help:   "GPU temperature in Celsius",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.TemperatureGPU) },
	},
	{
		Name:   "power_draw",
		Column: "power_draw",
		Metric: "nvsentinel_gpu_power_draw_watts",
		Help:   "GPU power consumption in watts",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.PowerDraw) },
	},
	{
		Name:   "power_limit",
		Column: "power_limit",
		Metric: "nvsentinel_gpu_power_limit_watts",
		Help:   "GPU power limit in watts",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.PowerLimit) },
	},
	{
		Name:   "memory_used",
		Column: "memory_used_mb",
		Metric: "nvsentinel_gpu_memory_used_bytes",
		Help:   "GPU memory used in bytes",
		Kind:   Gauge,
		Scale:  mibToBytes,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.MemoryUsed) },
	},
	{
		Name:   "memory_free",
		Column: "memory_free_mb",
		Metric: "nvsentinel_gpu_memory_free_bytes",
		Help:   "GPU free memory in bytes",
		Kind:   Gauge,
		Scale:  mibToBytes,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.MemoryFree) },
	},
	{
		Name:   "memory_total",
		Column: "memory_total_mb",
		Metric: "nvsentinel_gpu_memory_total_bytes",
		Help:   "GPU total memory in bytes",
		Kind:   Gauge,
		Scale:  mibToBytes,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.MemoryTotal) },
	},
	{
		Name:   "memory_utilization",
		Column: "memory_utilization_percent",
		Metric: "nvsentinel_gpu_memory_utilization_percent",
		Help:   "GPU memory utilization percentage",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.MemoryUtilization) },
	},
	{
		Name:   "gpu_utilization",
		Column: "gpu_utilization_percent",
		Metric: "nvsentinel_gpu_utilization_percent",
		Help:   "GPU utilization percentage",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.GPUUtilization) },
	},
	{
		Name:   "encoder_utilization",
		Column: "encoder_utilization_percent",
		Metric: "nvsentinel_gpu_encoder_utilization_percent",
		Help:   "GPU encoder utilization percentage",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.EncoderUtilization) },
	},
	{
		Name:   "decoder_utilization",
		Column: "decoder_utilization_percent",
		Metric: "nvsentinel_gpu_decoder_utilization_percent",
		Help:   "GPU decoder utilization percentage",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.DecoderUtilization) },
	},
	{
		Name:   "fan_speed",
		Column: "fan_speed_percent",
		Metric: "nvsentinel_gpu_fan_speed_percent",
		Help:   "GPU fan speed percentage",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromFloat64(r.FanSpeed) },
	},
	{
		Name:   "clock_graphics",
		Column: "clock_graphics_mhz",
		Metric: "nvsentinel_gpu_clock_graphics_mhz",
		Help:   "GPU graphics clock in MHz",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint32(r.ClockGraphics) },
	},
	{
		Name:   "clock_memory",
		Column: "clock_memory_mhz",
		Metric: "nvsentinel_gpu_clock_memory_mhz",
		Help:   "GPU memory clock in MHz",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint32(r.ClockMemory) },
	},
	{
		Name:   "clock_sm",
		Column: "clock_sm_mhz",
		Metric: "nvsentinel_gpu_clock_sm_mhz",
		Help:   "GPU SM clock in MHz",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint32(r.ClockSM) },
	},
	{
		Name:   "ecc_errors_corrected",
		Column: "ecc_errors_corrected",
		Metric: "nvsentinel_gpu_ecc_errors_corrected_total",
		Help:   "Total corrected ECC errors",
		Kind:   Counter,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.ECCErrorsCorrected) },
	},
	{
		Name:   "ecc_errors_uncorrected",
		Column: "ecc_errors_uncorrected",
		Metric: "nvsentinel_gpu_ecc_errors_uncorrected_total",
		Help:   "Total uncorrected ECC errors",
		Kind:   Counter,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.ECCErrorsUncorrected) },
	},
	{
		Name:   "throttle_reasons",
		Column: "throttle_reasons",
		Metric: "nvsentinel_gpu_throttle_reasons",
		Help:   "Current clock throttle reason bitmask",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.ThrottleReasons) },
	},
	{
		Name:   "pcie_link_gen",
		Column: "pcie_link_gen",
		Metric: "nvsentinel_gpu_pcie_link_generation",
		Help:   "Current PCIe link generation",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint32(r.PCIeLinkGen) },
	},
	{
		Name:   "pcie_link_width",
		Column: "pcie_link_width",
		Metric: "nvsentinel_gpu_pcie_link_width",
		Help:   "Current PCIe link width",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint32(r.PCIeLinkWidth) },
	},
	{
		Name:   "pcie_tx_throughput",
		Column: "pcie_tx_throughput_kbps",
		Metric: "nvsentinel_gpu_pcie_tx_throughput_kbps",
		Help:   "PCIe TX throughput in KB/s",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.PCIeTxThroughput) },
	},
	{
		Name:   "pcie_rx_throughput",
		Column: "pcie_rx_throughput_kbps",
		Metric: "nvsentinel_gpu_pcie_rx_throughput_kbps",
		Help:   "PCIe RX throughput in KB/s",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.PCIeRxThroughput) },
	},
	{
		Name:   "pcie_replay_counter",
		Column: "pcie_replay_counter",
		Metric: "nvsentinel_gpu_pcie_replay_counter_total",
		Help:   "Total PCIe replay events",
		Kind:   Counter,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.PCIeReplayCounter) },
	},
	{
		Name:   "process_count",
		Column: "process_count",
		Metric: "nvsentinel_gpu_process_count",
		Help:   "Number of compute processes running on the GPU",
		Kind:   Gauge,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint32(r.ProcessCount) },
	},
	{
		Name:   "process_memory_used",
		Column: "process_memory_used_mb",
		Metric: "nvsentinel_gpu_process_memory_used_bytes",
		Help:   "Memory used by compute processes in bytes",
		Kind:   Gauge,
		Scale:  mibToBytes,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.ProcessMemoryUsed) },
	},
	{
		Name:   "retired_pages_sbe",
		Column: "retired_pages_sbe",
		Metric: "nvsentinel_gpu_retired_pages_sbe_total",
		Help:   "Pages retired due to multiple single bit ECC errors",
		Kind:   Counter,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.RetiredPagesSBE) },
	},
	{
		Name:   "retired_pages_dbe",
		Column: "retired_pages_dbe",
		Metric: "nvsentinel_gpu_retired_pages_dbe_total",
		Help:   "Pages retired due to double bit ECC errors",
		Kind:   Counter,
		Scale:  1,
		Value:  func(r *Record) (float64, bool) { return fromUint64(r.RetiredPagesDBE) },
	},
}

func fromFloat64(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}

	return *p, true
}

func fromUint64(p *uint64) (float64, bool) {
	if p == nil {
		return 0, false
	}

	return float64(*p), true
}

func fromUint32(p *uint32) (float64, bool) {
	if p == nil {
		return 0, false
	}

	return float64(*p), true
}
