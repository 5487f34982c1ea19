package telemetry

import "codeberg.org/mutker/nvsentinel/internal/errors"

const (
	// Collection Errors
	ErrDeviceCollection = errors.ErrorCode("telemetry_device_collection_failed")
	ErrFieldTimeout     = errors.ErrorCode("telemetry_field_timeout")
)
