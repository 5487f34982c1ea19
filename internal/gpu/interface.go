package gpu

// DeviceInfo identifies one GPU. Populated once at discovery and immutable
// for the process lifetime.
type DeviceInfo struct {
	Index             int    `json:"index"`
	Name              string `json:"name"`
	UUID              string `json:"uuid"`
	DriverVersion     string `json:"driver_version"`
	CUDAVersion       string `json:"cuda_version"`
	TotalMemoryBytes  uint64 `json:"memory_total_bytes"`
	ComputeCapability string `json:"compute_capability"`
}

// Source abstracts the telemetry library (NVML) for discovery and device
// access, so collectors can be tested without hardware.
type Source interface {
	// Init initializes the underlying library. Failure is fatal for the
	// process: without a source there is nothing to monitor.
	Init() error

	// Shutdown releases the underlying library.
	Shutdown() error

	// DeviceCount returns the number of devices visible to the source.
	DeviceCount() (int, error)

	// Device resolves a handle for per-field queries.
	Device(index int) (Device, error)

	// DeviceInfo reads the identity of one device. Identity sub-queries
	// degrade to "unknown" values; only handle resolution fails.
	DeviceInfo(index int) (DeviceInfo, error)
}

// Device is the per-device query surface of the telemetry source. Every
// method is one independently fallible field query: a failure means that
// field is unavailable on this device/driver combination, nothing more.
type Device interface {
	Temperature() (float64, error)        // °C
	PowerDraw() (float64, error)          // W
	PowerLimit() (float64, error)         // W, current enforced limit
	MemoryUsed() (uint64, error)          // MiB
	MemoryFree() (uint64, error)          // MiB
	MemoryTotal() (uint64, error)         // MiB
	GPUUtilization() (float64, error)     // %
	MemoryUtilization() (float64, error)  // %
	EncoderUtilization() (float64, error) // %
	DecoderUtilization() (float64, error) // %
	FanSpeed() (float64, error)           // %
	GraphicsClock() (uint32, error)       // MHz
	MemoryClock() (uint32, error)         // MHz
	SMClock() (uint32, error)             // MHz
	CorrectedECCErrors() (uint64, error)  // cumulative volatile counter
	UncorrectedECCErrors() (uint64, error)
	ThrottleReasons() (uint64, error) // bitmask of active throttle reasons
	PCIeLinkGeneration() (uint32, error)
	PCIeLinkWidth() (uint32, error)
	PCIeTxThroughput() (uint64, error) // KB/s
	PCIeRxThroughput() (uint64, error) // KB/s
	PCIeReplayCounter() (uint64, error)
	ProcessCount() (uint32, error)
	ProcessMemoryUsed() (uint64, error) // MiB, summed over compute processes
	RetiredPagesSBE() (uint64, error)
	RetiredPagesDBE() (uint64, error)
}
