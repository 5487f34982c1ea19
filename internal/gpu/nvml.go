package gpu

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"codeberg.org/mutker/nvsentinel/internal/errors"
)

const (
	milliWattsToWatts = 1000
	bytesPerMiB       = 1024 * 1024
)

// nvmlSource implements Source on top of the NVML library
type nvmlSource struct {
	initialized bool
}

// NewSource returns the NVML-backed telemetry source
func NewSource() Source {
	return &nvmlSource{}
}

func (s *nvmlSource) Init() error {
	errFactory := errors.New()
	if s.initialized {
		return nil
	}

	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	s.initialized = true

	return nil
}

func (s *nvmlSource) Shutdown() error {
	errFactory := errors.New()
	if !s.initialized {
		return nil
	}

	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	s.initialized = false

	return nil
}

func (s *nvmlSource) DeviceCount() (int, error) {
	errFactory := errors.New()
	if !s.initialized {
		return 0, errFactory.New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		return 0, errFactory.Wrap(ErrDeviceCountFailed, newNVMLError(ret))
	}

	return count, nil
}

func (s *nvmlSource) Device(index int) (Device, error) {
	errFactory := errors.New()
	if !s.initialized {
		return nil, errFactory.New(ErrNotInitialized)
	}

	handle, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	return &nvmlDevice{handle: handle}, nil
}

func (s *nvmlSource) DeviceInfo(index int) (DeviceInfo, error) {
	errFactory := errors.New()
	if !s.initialized {
		return DeviceInfo{}, errFactory.New(ErrNotInitialized)
	}

	handle, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return DeviceInfo{}, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	info := DeviceInfo{
		Index:             index,
		Name:              "unknown",
		UUID:              "unknown",
		DriverVersion:     "unknown",
		CUDAVersion:       "unknown",
		ComputeCapability: "unknown",
	}

	if name, ret := handle.GetName(); IsNVMLSuccess(ret) {
		info.Name = name
	}
	if uuid, ret := handle.GetUUID(); IsNVMLSuccess(ret) {
		info.UUID = uuid
	}
	if version, ret := nvml.SystemGetDriverVersion(); IsNVMLSuccess(ret) {
		info.DriverVersion = version
	}
	if version, ret := nvml.SystemGetCudaDriverVersion(); IsNVMLSuccess(ret) {
		info.CUDAVersion = fmt.Sprintf("%d.%d", version/1000, (version%1000)/10)
	}
	if mem, ret := handle.GetMemoryInfo(); IsNVMLSuccess(ret) {
		info.TotalMemoryBytes = mem.Total
	}
	if major, minor, ret := handle.GetCudaComputeCapability(); IsNVMLSuccess(ret) {
		info.ComputeCapability = fmt.Sprintf("%d.%d", major, minor)
	}

	return info, nil
}

// nvmlDevice wraps one NVML device handle. Each method issues a single NVML
// query and surfaces its return code as an error.
type nvmlDevice struct {
	handle nvml.Device
}

func (d *nvmlDevice) Temperature() (float64, error) {
	temp, ret := d.handle.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(temp), nil
}

func (d *nvmlDevice) PowerDraw() (float64, error) {
	milliWatts, ret := d.handle.GetPowerUsage()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(milliWatts) / milliWattsToWatts, nil
}

func (d *nvmlDevice) PowerLimit() (float64, error) {
	milliWatts, ret := d.handle.GetPowerManagementLimit()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(milliWatts) / milliWattsToWatts, nil
}

func (d *nvmlDevice) MemoryUsed() (uint64, error) {
	mem, ret := d.handle.GetMemoryInfo()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return mem.Used / bytesPerMiB, nil
}

func (d *nvmlDevice) MemoryFree() (uint64, error) {
	mem, ret := d.handle.GetMemoryInfo()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return mem.Free / bytesPerMiB, nil
}

func (d *nvmlDevice) MemoryTotal() (uint64, error) {
	mem, ret := d.handle.GetMemoryInfo()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return mem.Total / bytesPerMiB, nil
}

func (d *nvmlDevice) GPUUtilization() (float64, error) {
	util, ret := d.handle.GetUtilizationRates()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(util.Gpu), nil
}

func (d *nvmlDevice) MemoryUtilization() (float64, error) {
	util, ret := d.handle.GetUtilizationRates()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(util.Memory), nil
}

func (d *nvmlDevice) EncoderUtilization() (float64, error) {
	util, _, ret := d.handle.GetEncoderUtilization()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(util), nil
}

func (d *nvmlDevice) DecoderUtilization() (float64, error) {
	util, _, ret := d.handle.GetDecoderUtilization()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(util), nil
}

func (d *nvmlDevice) FanSpeed() (float64, error) {
	speed, ret := d.handle.GetFanSpeed()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return float64(speed), nil
}

func (d *nvmlDevice) GraphicsClock() (uint32, error) {
	return d.clock(nvml.CLOCK_GRAPHICS)
}

func (d *nvmlDevice) MemoryClock() (uint32, error) {
	return d.clock(nvml.CLOCK_MEM)
}

func (d *nvmlDevice) SMClock() (uint32, error) {
	return d.clock(nvml.CLOCK_SM)
}

func (d *nvmlDevice) clock(kind nvml.ClockType) (uint32, error) {
	mhz, ret := d.handle.GetClockInfo(kind)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return mhz, nil
}

func (d *nvmlDevice) CorrectedECCErrors() (uint64, error) {
	count, ret := d.handle.GetTotalEccErrors(nvml.MEMORY_ERROR_TYPE_CORRECTED, nvml.VOLATILE_ECC)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return count, nil
}

func (d *nvmlDevice) UncorrectedECCErrors() (uint64, error) {
	count, ret := d.handle.GetTotalEccErrors(nvml.MEMORY_ERROR_TYPE_UNCORRECTED, nvml.VOLATILE_ECC)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return count, nil
}

func (d *nvmlDevice) ThrottleReasons() (uint64, error) {
	reasons, ret := d.handle.GetCurrentClocksThrottleReasons()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return reasons, nil
}

func (d *nvmlDevice) PCIeLinkGeneration() (uint32, error) {
	gen, ret := d.handle.GetCurrPcieLinkGeneration()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint32(gen), nil
}

func (d *nvmlDevice) PCIeLinkWidth() (uint32, error) {
	width, ret := d.handle.GetCurrPcieLinkWidth()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint32(width), nil
}

func (d *nvmlDevice) PCIeTxThroughput() (uint64, error) {
	kbps, ret := d.handle.GetPcieThroughput(nvml.PCIE_UTIL_TX_BYTES)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint64(kbps), nil
}

func (d *nvmlDevice) PCIeRxThroughput() (uint64, error) {
	kbps, ret := d.handle.GetPcieThroughput(nvml.PCIE_UTIL_RX_BYTES)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint64(kbps), nil
}

func (d *nvmlDevice) PCIeReplayCounter() (uint64, error) {
	count, ret := d.handle.GetPcieReplayCounter()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint64(count), nil
}

func (d *nvmlDevice) ProcessCount() (uint32, error) {
	procs, ret := d.handle.GetComputeRunningProcesses()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint32(len(procs)), nil
}

func (d *nvmlDevice) ProcessMemoryUsed() (uint64, error) {
	procs, ret := d.handle.GetComputeRunningProcesses()
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	var total uint64
	for i := range procs {
		// NVML reports ^uint64(0) when per-process memory is unknown
		if procs[i].UsedGpuMemory != ^uint64(0) {
			total += procs[i].UsedGpuMemory
		}
	}

	return total / bytesPerMiB, nil
}

func (d *nvmlDevice) RetiredPagesSBE() (uint64, error) {
	pages, ret := d.handle.GetRetiredPages(nvml.PAGE_RETIREMENT_CAUSE_MULTIPLE_SINGLE_BIT_ECC_ERRORS)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint64(len(pages)), nil
}

func (d *nvmlDevice) RetiredPagesDBE() (uint64, error) {
	pages, ret := d.handle.GetRetiredPages(nvml.PAGE_RETIREMENT_CAUSE_DOUBLE_BIT_ECC_ERROR)
	if !IsNVMLSuccess(ret) {
		return 0, newNVMLError(ret)
	}

	return uint64(len(pages)), nil
}
