package export_test

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/export"
	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/probe"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

func parseCSV(t *testing.T, out []byte) ([]string, []map[string]string) {
	t.Helper()

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	header := rows[0]

	records := make([]map[string]string, 0, len(rows)-1)

	for _, row := range rows[1:] {
		require.Len(t, row, len(header))

		record := make(map[string]string, len(header))
		for i, column := range header {
			record[column] = row[i]
		}

		records = append(records, record)
	}

	return header, records
}

func TestMetricsCSVHeader(t *testing.T) {
	out, err := export.MetricsCSV(testSet())
	require.NoError(t, err)

	header, _ := parseCSV(t, out)
	require.Len(t, header, 4+len(telemetry.Fields()))
	assert.Equal(t, []string{"timestamp", "gpu_index", "gpu_name", "gpu_uuid"}, header[:4])

	for i, field := range telemetry.Fields() {
		assert.Equal(t, field.Column, header[4+i])
	}
}

func TestMetricsCSVRows(t *testing.T) {
	out, err := export.MetricsCSV(testSet())
	require.NoError(t, err)

	_, records := parseCSV(t, out)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "2025-09-18T10:30:00Z", first["timestamp"])
	assert.Equal(t, "0", first["gpu_index"])
	assert.Equal(t, "NVIDIA GeForce RTX 4090", first["gpu_name"])
	assert.Equal(t, "GPU-11111111", first["gpu_uuid"])
	assert.Equal(t, "95", first["temperature_gpu"])
	assert.Equal(t, "340", first["power_draw"])
	assert.Equal(t, "8192", first["memory_used_mb"])
	assert.Equal(t, "85.5", first["gpu_utilization_percent"])
	assert.Equal(t, "2", first["ecc_errors_corrected"])

	second := records[1]
	assert.Equal(t, "45", second["temperature_gpu"])
	// Readings the device never produced stay blank.
	assert.Equal(t, "", second["power_draw"])
	assert.Equal(t, "", second["fan_speed_percent"])
	assert.Equal(t, "", second["retired_pages_dbe"])
}

func TestMetricsCSVQuotesCommaInName(t *testing.T) {
	set := testSet()
	set.Snapshots[0].Device.Name = "NVIDIA H100 80GB HBM3, SXM5"

	out, err := export.MetricsCSV(set)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"NVIDIA H100 80GB HBM3, SXM5"`)

	_, records := parseCSV(t, out)
	assert.Equal(t, "NVIDIA H100 80GB HBM3, SXM5", records[0]["gpu_name"])
}

func TestMetricsCSVNilSet(t *testing.T) {
	_, err := export.MetricsCSV(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, export.ErrNoSnapshot))
}

func TestHealthCSV(t *testing.T) {
	out, err := export.HealthCSV(testSet())
	require.NoError(t, err)

	header, records := parseCSV(t, out)
	assert.Equal(t, []string{
		"timestamp", "gpu_index", "gpu_name",
		"overall_status", "temperature_status", "memory_status", "power_status", "utilization_status",
		"warnings", "recommendations",
	}, header)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "critical", first["overall_status"])
	assert.Equal(t, "critical", first["temperature_status"])
	assert.Equal(t, "healthy", first["memory_status"])
	assert.Equal(t, "warning", first["power_status"])
	assert.Equal(t, "healthy", first["utilization_status"])
	assert.Equal(t,
		"GPU temperature is 95°C (>85°C); Power usage is 97.1% of limit",
		first["warnings"])
	assert.True(t, strings.HasPrefix(first["recommendations"], "Check GPU cooling"))

	second := records[1]
	assert.Equal(t, "healthy", second["overall_status"])
	assert.Equal(t, "unknown", second["memory_status"])
	assert.Equal(t, "", second["warnings"])
}

func TestHealthCSVMissingReport(t *testing.T) {
	set := testSet()
	set.Snapshots[1].Health = nil

	out, err := export.HealthCSV(set)
	require.NoError(t, err)

	_, records := parseCSV(t, out)
	require.Len(t, records, 2)

	second := records[1]
	assert.Equal(t, "", second["overall_status"])
	assert.Equal(t, "", second["warnings"])
}

func TestIdentityCSV(t *testing.T) {
	out, err := export.IdentityCSV(testSet())
	require.NoError(t, err)

	header, records := parseCSV(t, out)
	assert.Equal(t, []string{
		"gpu_index", "name", "uuid", "driver_version", "cuda_version", "memory_total_mb", "compute_capability",
	}, header)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "0", first["gpu_index"])
	assert.Equal(t, "GPU-11111111", first["uuid"])
	assert.Equal(t, "550.54.14", first["driver_version"])
	assert.Equal(t, "24564", first["memory_total_mb"])
	assert.Equal(t, "8.9", first["compute_capability"])
}

func TestBenchmarkCSV(t *testing.T) {
	set := testSet()
	results := []probe.Result{
		{
			RunID:       "run-1",
			TestName:    "matrix_multiply",
			DeviceIndex: 0,
			StartedAt:   setTime,
			Duration:    1500 * time.Millisecond,
			GFLOPS:      telemetry.Ptr(42.5),
			Success:     true,
		},
		{
			RunID:       "run-1",
			TestName:    "memory_bandwidth",
			DeviceIndex: 1,
			StartedAt:   setTime,
			Duration:    time.Second,
			Success:     false,
			Error:       "allocation failed",
		},
	}

	out, err := export.BenchmarkCSV(results, []gpu.DeviceInfo{
		set.Snapshots[0].Device,
		set.Snapshots[1].Device,
	})
	require.NoError(t, err)

	header, records := parseCSV(t, out)
	assert.Equal(t, []string{
		"timestamp", "gpu_index", "gpu_name", "test_name",
		"duration_seconds", "gflops", "memory_bandwidth_gbps", "success", "error_message",
	}, header)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "matrix_multiply", first["test_name"])
	assert.Equal(t, "NVIDIA GeForce RTX 4090", first["gpu_name"])
	assert.Equal(t, "1.5", first["duration_seconds"])
	assert.Equal(t, "42.5", first["gflops"])
	assert.Equal(t, "", first["memory_bandwidth_gbps"])
	assert.Equal(t, "true", first["success"])
	assert.Equal(t, "", first["error_message"])

	second := records[1]
	assert.Equal(t, "memory_bandwidth", second["test_name"])
	assert.Equal(t, "", second["gflops"])
	assert.Equal(t, "false", second["success"])
	assert.Equal(t, "allocation failed", second["error_message"])
}
