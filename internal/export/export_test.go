package export_test

import (
	"time"

	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/health"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

var setTime = time.Date(2025, 9, 18, 10, 30, 0, 0, time.UTC)

// testSet builds a two-device set: device 0 is a critical device with most
// fields present, device 1 reports only its temperature. Fan speed is absent
// on both.
func testSet() *snapshot.Set {
	rec0 := &telemetry.Record{
		DeviceIndex:        0,
		CollectedAt:        setTime,
		TemperatureGPU:     telemetry.Ptr(95.0),
		PowerDraw:          telemetry.Ptr(340.0),
		PowerLimit:         telemetry.Ptr(350.0),
		MemoryUsed:         telemetry.Ptr(uint64(8192)),
		MemoryFree:         telemetry.Ptr(uint64(16372)),
		MemoryTotal:        telemetry.Ptr(uint64(24564)),
		MemoryUtilization:  telemetry.Ptr(float64(8192) / float64(24564) * 100),
		GPUUtilization:     telemetry.Ptr(85.5),
		ECCErrorsCorrected: telemetry.Ptr(uint64(2)),
	}
	report0 := health.Classify(rec0)

	rec1 := &telemetry.Record{
		DeviceIndex:    1,
		CollectedAt:    setTime,
		TemperatureGPU: telemetry.Ptr(45.0),
	}
	report1 := health.Classify(rec1)

	return &snapshot.Set{
		Snapshots: []snapshot.Snapshot{
			{
				Device: gpu.DeviceInfo{
					Index:             0,
					Name:              "NVIDIA GeForce RTX 4090",
					UUID:              "GPU-11111111",
					DriverVersion:     "550.54.14",
					CUDAVersion:       "12.4",
					TotalMemoryBytes:  24564 * 1024 * 1024,
					ComputeCapability: "8.9",
				},
				Metrics: rec0,
				Health:  &report0,
			},
			{
				Device: gpu.DeviceInfo{
					Index:             1,
					Name:              "NVIDIA GeForce RTX 4090",
					UUID:              "GPU-22222222",
					DriverVersion:     "550.54.14",
					CUDAVersion:       "12.4",
					TotalMemoryBytes:  24564 * 1024 * 1024,
					ComputeCapability: "8.9",
				},
				Metrics: rec1,
				Health:  &report1,
			},
		},
		CollectedAt: setTime,
	}
}
