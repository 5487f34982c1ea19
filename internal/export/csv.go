package export

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/probe"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

// MetricsCSV renders one row per device under a fixed header: timestamp and
// identity columns followed by every telemetry field in table order. Absent
// fields render as an empty column, never dropped.
func MetricsCSV(set *snapshot.Set) ([]byte, error) {
	if set == nil {
		return nil, errors.New().New(ErrNoSnapshot)
	}

	fields := telemetry.Fields()

	header := []string{"timestamp", "gpu_index", "gpu_name", "gpu_uuid"}
	for _, f := range fields {
		header = append(header, f.Column)
	}

	rows := make([][]string, 0, len(set.Snapshots))

	for i := range set.Snapshots {
		snap := &set.Snapshots[i]

		row := []string{
			rowTimestamp(snap, set),
			strconv.Itoa(snap.Device.Index),
			snap.Device.Name,
			snap.Device.UUID,
		}

		for _, f := range fields {
			if snap.Metrics == nil {
				row = append(row, "")
				continue
			}

			value, ok := f.Value(snap.Metrics)
			if !ok {
				row = append(row, "")
				continue
			}

			row = append(row, strconv.FormatFloat(value, 'f', -1, 64))
		}

		rows = append(rows, row)
	}

	return writeCSV(header, rows)
}

// HealthCSV renders one row per device with dimension statuses and the
// warning and recommendation lists joined by "; ".
func HealthCSV(set *snapshot.Set) ([]byte, error) {
	if set == nil {
		return nil, errors.New().New(ErrNoSnapshot)
	}

	header := []string{
		"timestamp", "gpu_index", "gpu_name",
		"overall_status", "temperature_status", "memory_status",
		"power_status", "utilization_status",
		"warnings", "recommendations",
	}

	rows := make([][]string, 0, len(set.Snapshots))

	for i := range set.Snapshots {
		snap := &set.Snapshots[i]

		row := []string{rowTimestamp(snap, set), strconv.Itoa(snap.Device.Index), snap.Device.Name}

		if snap.Health == nil {
			row = append(row, "", "", "", "", "", "", "")
		} else {
			row = append(row,
				snap.Health.Overall.String(),
				snap.Health.Temperature.String(),
				snap.Health.Memory.String(),
				snap.Health.Power.String(),
				snap.Health.Utilization.String(),
				strings.Join(snap.Health.Warnings, "; "),
				strings.Join(snap.Health.Recommendations, "; "),
			)
		}

		rows = append(rows, row)
	}

	return writeCSV(header, rows)
}

// IdentityCSV renders the discovered device identities.
func IdentityCSV(set *snapshot.Set) ([]byte, error) {
	if set == nil {
		return nil, errors.New().New(ErrNoSnapshot)
	}

	header := []string{
		"gpu_index", "name", "uuid", "driver_version",
		"cuda_version", "memory_total_mb", "compute_capability",
	}

	rows := make([][]string, 0, len(set.Snapshots))

	for i := range set.Snapshots {
		device := set.Snapshots[i].Device
		rows = append(rows, []string{
			strconv.Itoa(device.Index),
			device.Name,
			device.UUID,
			device.DriverVersion,
			device.CUDAVersion,
			strconv.FormatUint(device.TotalMemoryBytes/(1024*1024), 10),
			device.ComputeCapability,
		})
	}

	return writeCSV(header, rows)
}

// BenchmarkCSV renders benchmark results, resolving device names from the
// discovered identities.
func BenchmarkCSV(results []probe.Result, devices []gpu.DeviceInfo) ([]byte, error) {
	names := make(map[int]string, len(devices))
	for _, device := range devices {
		names[device.Index] = device.Name
	}

	header := []string{
		"timestamp", "gpu_index", "gpu_name", "test_name",
		"duration_seconds", "gflops", "memory_bandwidth_gbps",
		"success", "error_message",
	}

	rows := make([][]string, 0, len(results))

	for _, result := range results {
		gflops := ""
		if result.GFLOPS != nil {
			gflops = strconv.FormatFloat(*result.GFLOPS, 'f', -1, 64)
		}

		bandwidth := ""
		if result.BandwidthGBps != nil {
			bandwidth = strconv.FormatFloat(*result.BandwidthGBps, 'f', -1, 64)
		}

		rows = append(rows, []string{
			result.StartedAt.Format(time.RFC3339),
			strconv.Itoa(result.DeviceIndex),
			names[result.DeviceIndex],
			result.TestName,
			strconv.FormatFloat(result.Duration.Seconds(), 'f', -1, 64),
			gflops,
			bandwidth,
			strconv.FormatBool(result.Success),
			result.Error,
		})
	}

	return writeCSV(header, rows)
}

func rowTimestamp(snap *snapshot.Snapshot, set *snapshot.Set) string {
	if snap.Metrics != nil {
		return snap.Metrics.CollectedAt.Format(time.RFC3339)
	}

	return set.CollectedAt.Format(time.RFC3339)
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, errors.New().Wrap(ErrEncodeFailed, err)
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, errors.New().Wrap(ErrEncodeFailed, err)
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, errors.New().Wrap(ErrEncodeFailed, err)
	}

	return buf.Bytes(), nil
}
