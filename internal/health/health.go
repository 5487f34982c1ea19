// Package health derives per-device health reports from telemetry records.
// Classification is a pure function over one record: no I/O, no retries, and
// a missing input never fails a report, it marks the dimension UNKNOWN.
package health

import (
	"fmt"
	"time"

	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

// Status orders health severities so the overall status is the numeric
// maximum of the dimension statuses. The numeric values are part of the
// exposition contract.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unknown":
		*s = StatusUnknown
	case "healthy":
		*s = StatusHealthy
	case "warning":
		*s = StatusWarning
	case "critical":
		*s = StatusCritical
	default:
		return fmt.Errorf("unrecognized health status %q", text)
	}

	return nil
}

// Classification thresholds. Lower bounds are inclusive for WARNING and
// CRITICAL except temperature, where the warning threshold itself still
// counts as healthy.
const (
	temperatureWarning  = 70.0
	temperatureCritical = 85.0
	memoryWarning       = 80.0
	memoryCritical      = 95.0
	powerWarning        = 90.0
	powerCritical       = 98.0
)

// Remediation strings, one fixed recommendation per dimension.
const (
	recommendCooling = "Check GPU cooling and case ventilation"
	recommendMemory  = "Consider reducing GPU memory usage"
	recommendPower   = "Check power supply capacity"
)

// Report is the classification outcome for one device and one record.
type Report struct {
	DeviceIndex     int               `json:"gpu_index"`
	GeneratedAt     time.Time         `json:"timestamp"`
	Overall         Status            `json:"overall_status"`
	Temperature     Status            `json:"temperature_status"`
	Memory          Status            `json:"memory_status"`
	Power           Status            `json:"power_status"`
	Utilization     Status            `json:"utilization_status"`
	Warnings        []string          `json:"warnings"`
	Recommendations []string          `json:"recommendations"`
	Metrics         *telemetry.Record `json:"current_metrics"`
}

// Classify evaluates the four health dimensions for one record. rec must not
// be nil. The report timestamp is the record's collection time, so identical
// records classify to identical reports. Warnings and recommendations are
// emitted in fixed dimension order: temperature, memory, power.
func Classify(rec *telemetry.Record) Report {
	report := Report{
		DeviceIndex:     rec.DeviceIndex,
		GeneratedAt:     rec.CollectedAt,
		Overall:         StatusUnknown,
		Temperature:     StatusUnknown,
		Memory:          StatusUnknown,
		Power:           StatusUnknown,
		Utilization:     StatusUnknown,
		Warnings:        []string{},
		Recommendations: []string{},
		Metrics:         rec,
	}

	if rec.TemperatureGPU != nil {
		temp := *rec.TemperatureGPU

		switch {
		case temp <= temperatureWarning:
			report.Temperature = StatusHealthy
		case temp < temperatureCritical:
			report.Temperature = StatusWarning
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("GPU temperature is %.0f°C (>%.0f°C)", temp, temperatureWarning))
		default:
			report.Temperature = StatusCritical
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("GPU temperature is %.0f°C (>%.0f°C)", temp, temperatureCritical))
		}
	}

	if rec.MemoryUtilization != nil {
		util := *rec.MemoryUtilization

		switch {
		case util < memoryWarning:
			report.Memory = StatusHealthy
		case util < memoryCritical:
			report.Memory = StatusWarning
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("Memory usage is %.1f%% (>%.0f%%)", util, memoryWarning))
		default:
			report.Memory = StatusCritical
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("Memory usage is %.1f%% (>%.0f%%)", util, memoryCritical))
		}
	}

	if rec.PowerDraw != nil && rec.PowerLimit != nil && *rec.PowerLimit > 0 {
		percent := *rec.PowerDraw / *rec.PowerLimit * 100

		switch {
		case percent < powerWarning:
			report.Power = StatusHealthy
		case percent < powerCritical:
			report.Power = StatusWarning
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("Power usage is %.1f%% of limit", percent))
		default:
			report.Power = StatusCritical
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("Power usage is %.1f%% of limit (>%.0f%%)", percent, powerCritical))
		}
	}

	// Utilization level itself is never unhealthy; the dimension reports
	// whether the reading was available at all.
	if rec.GPUUtilization != nil {
		report.Utilization = StatusHealthy
	}

	report.Overall = max(report.Temperature, report.Memory, report.Power, report.Utilization)

	if report.Temperature >= StatusWarning {
		report.Recommendations = append(report.Recommendations, recommendCooling)
	}

	if report.Memory >= StatusWarning {
		report.Recommendations = append(report.Recommendations, recommendMemory)
	}

	if report.Power >= StatusWarning {
		report.Recommendations = append(report.Recommendations, recommendPower)
	}

	return report
}
