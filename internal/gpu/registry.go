package gpu

import (
	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/logger"
)

// Registry discovers devices once at startup and resolves identities by
// index. Indices are stable for the process lifetime.
type Registry struct {
	source  Source
	devices []DeviceInfo
	log     logger.Logger
}

func NewRegistry(source Source, log logger.Logger) *Registry {
	return &Registry{
		source: source,
		log:    log,
	}
}

// Discover initializes the telemetry source and enumerates devices. An
// initialization failure is fatal for the caller; zero devices is not an
// error. A device whose identity cannot be read stays in the set with
// placeholder identity so its index remains addressable.
func (r *Registry) Discover() ([]DeviceInfo, error) {
	if err := r.source.Init(); err != nil {
		return nil, err
	}

	count, err := r.source.DeviceCount()
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		info, err := r.source.DeviceInfo(i)
		if err != nil {
			r.log.Warn().Err(err).Int("index", i).Msg("Failed to read device identity")
			info = DeviceInfo{
				Index:             i,
				Name:              "unknown",
				UUID:              "unknown",
				DriverVersion:     "unknown",
				CUDAVersion:       "unknown",
				ComputeCapability: "unknown",
			}
		}

		r.log.Info().
			Int("index", info.Index).
			Str("name", info.Name).
			Str("uuid", info.UUID).
			Msg("Detected GPU")

		devices = append(devices, info)
	}

	r.devices = devices

	return r.Devices(), nil
}

// Devices returns a copy of the discovered identities, ordered by index.
func (r *Registry) Devices() []DeviceInfo {
	out := make([]DeviceInfo, len(r.devices))
	copy(out, r.devices)

	return out
}

// Identity returns the identity for one device index.
func (r *Registry) Identity(index int) (DeviceInfo, error) {
	if index < 0 || index >= len(r.devices) {
		return DeviceInfo{}, errors.New().WithData(ErrDeviceNotFound, struct {
			Index int
			Count int
		}{index, len(r.devices)})
	}

	return r.devices[index], nil
}

// Count returns the number of discovered devices.
func (r *Registry) Count() int {
	return len(r.devices)
}

// Shutdown releases the telemetry source.
func (r *Registry) Shutdown() error {
	return r.source.Shutdown()
}
