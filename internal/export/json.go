// Package export renders a published snapshot set into the supported output
// encodings. Every exporter is a pure function over the set: formats differ
// in syntax but share field semantics through the telemetry field table.
package export

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/health"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

type deviceDocument struct {
	GPUInfo   gpu.DeviceInfo    `json:"gpu_info"`
	Metrics   *telemetry.Record `json:"metrics"`
	Health    *health.Report    `json:"health"`
	Timestamp string            `json:"timestamp"`
}

// JSON renders the structured document export: one array element per device
// with nested identity, telemetry, and health objects. Absent telemetry
// fields encode as null, never as a zero value.
func JSON(set *snapshot.Set) ([]byte, error) {
	if set == nil {
		return nil, errors.New().New(ErrNoSnapshot)
	}

	timestamp := set.CollectedAt.Format(time.RFC3339)
	docs := make([]deviceDocument, 0, len(set.Snapshots))

	for i := range set.Snapshots {
		snap := &set.Snapshots[i]
		docs = append(docs, deviceDocument{
			GPUInfo:   snap.Device,
			Metrics:   snap.Metrics,
			Health:    snap.Health,
			Timestamp: timestamp,
		})
	}

	out, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, errors.New().Wrap(ErrEncodeFailed, err)
	}

	return out, nil
}

type healthSummary struct {
	Summary   summaryCounts  `json:"summary"`
	GPUs      []deviceHealth `json:"gpus"`
	Timestamp string         `json:"timestamp"`
}

type summaryCounts struct {
	TotalGPUs     int `json:"total_gpus"`
	HealthyCount  int `json:"healthy_count"`
	WarningCount  int `json:"warning_count"`
	CriticalCount int `json:"critical_count"`
	UnknownCount  int `json:"unknown_count"`
}

type deviceHealth struct {
	GPUIndex        int           `json:"gpu_index"`
	GPUName         string        `json:"gpu_name"`
	Status          health.Status `json:"status"`
	Warnings        []string      `json:"warnings"`
	Recommendations []string      `json:"recommendations"`
}

// HealthSummaryJSON renders per-device health with fleet-level status counts.
func HealthSummaryJSON(set *snapshot.Set) ([]byte, error) {
	if set == nil {
		return nil, errors.New().New(ErrNoSnapshot)
	}

	summary := healthSummary{
		Summary:   summaryCounts{TotalGPUs: len(set.Snapshots)},
		GPUs:      make([]deviceHealth, 0, len(set.Snapshots)),
		Timestamp: set.CollectedAt.Format(time.RFC3339),
	}

	for i := range set.Snapshots {
		snap := &set.Snapshots[i]

		status := health.StatusUnknown
		warnings := []string{}
		recommendations := []string{}

		if snap.Health != nil {
			status = snap.Health.Overall
			warnings = snap.Health.Warnings
			recommendations = snap.Health.Recommendations
		}

		switch status {
		case health.StatusHealthy:
			summary.Summary.HealthyCount++
		case health.StatusWarning:
			summary.Summary.WarningCount++
		case health.StatusCritical:
			summary.Summary.CriticalCount++
		default:
			summary.Summary.UnknownCount++
		}

		summary.GPUs = append(summary.GPUs, deviceHealth{
			GPUIndex:        snap.Device.Index,
			GPUName:         snap.Device.Name,
			Status:          status,
			Warnings:        warnings,
			Recommendations: recommendations,
		})
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, errors.New().Wrap(ErrEncodeFailed, err)
	}

	return out, nil
}

type systemInfo struct {
	System systemSummary    `json:"system"`
	GPUs   []gpu.DeviceInfo `json:"gpus"`
}

type systemSummary struct {
	GPUCount  int    `json:"gpu_count"`
	Timestamp string `json:"timestamp"`
}

// IdentityJSON renders device identities plus a system-level summary.
func IdentityJSON(set *snapshot.Set) ([]byte, error) {
	if set == nil {
		return nil, errors.New().New(ErrNoSnapshot)
	}

	info := systemInfo{
		System: systemSummary{
			GPUCount:  len(set.Snapshots),
			Timestamp: set.CollectedAt.Format(time.RFC3339),
		},
		GPUs: make([]gpu.DeviceInfo, 0, len(set.Snapshots)),
	}

	for i := range set.Snapshots {
		info.GPUs = append(info.GPUs, set.Snapshots[i].Device)
	}

	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, errors.New().Wrap(ErrEncodeFailed, err)
	}

	return out, nil
}
