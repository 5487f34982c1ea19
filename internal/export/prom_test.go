package export_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/export"
	"codeberg.org/mutker/nvsentinel/internal/health"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
)

func parseFamilies(t *testing.T, out []byte) map[string]*dto.MetricFamily {
	t.Helper()

	var parser expfmt.TextParser

	families, err := parser.TextToMetricFamilies(bytes.NewReader(out))
	require.NoError(t, err)

	return families
}

func metricForGPU(t *testing.T, family *dto.MetricFamily, gpu string) *dto.Metric {
	t.Helper()

	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "gpu" && label.GetValue() == gpu {
				return metric
			}
		}
	}

	t.Fatalf("no series with gpu=%q in %s", gpu, family.GetName())

	return nil
}

func TestPrometheusExposesSeriesPerDevice(t *testing.T) {
	out, err := export.Prometheus(testSet())
	require.NoError(t, err)

	families := parseFamilies(t, out)

	temp := families["nvsentinel_gpu_temperature_celsius"]
	require.NotNil(t, temp)
	assert.Equal(t, dto.MetricType_GAUGE, temp.GetType())
	require.Len(t, temp.GetMetric(), 2)

	first := metricForGPU(t, temp, "0")
	assert.InDelta(t, 95.0, first.GetGauge().GetValue(), 0.001)

	second := metricForGPU(t, temp, "1")
	assert.InDelta(t, 45.0, second.GetGauge().GetValue(), 0.001)

	labels := map[string]string{}
	for _, label := range first.GetLabel() {
		labels[label.GetName()] = label.GetValue()
	}

	assert.Equal(t, "NVIDIA GeForce RTX 4090", labels["gpu_name"])
	assert.Equal(t, "GPU-11111111", labels["uuid"])
}

func TestPrometheusScalesMemoryToBytes(t *testing.T) {
	out, err := export.Prometheus(testSet())
	require.NoError(t, err)

	families := parseFamilies(t, out)

	used := families["nvsentinel_gpu_memory_used_bytes"]
	require.NotNil(t, used)

	metric := metricForGPU(t, used, "0")
	assert.InDelta(t, float64(8192)*1024*1024, metric.GetGauge().GetValue(), 0.5)
}

func TestPrometheusCounterType(t *testing.T) {
	out, err := export.Prometheus(testSet())
	require.NoError(t, err)

	assert.Contains(t, string(out), "# TYPE nvsentinel_gpu_ecc_errors_corrected_total counter")

	families := parseFamilies(t, out)

	ecc := families["nvsentinel_gpu_ecc_errors_corrected_total"]
	require.NotNil(t, ecc)
	assert.Equal(t, dto.MetricType_COUNTER, ecc.GetType())

	metric := metricForGPU(t, ecc, "0")
	assert.InDelta(t, 2.0, metric.GetCounter().GetValue(), 0.001)
}

func TestPrometheusHealthStatus(t *testing.T) {
	out, err := export.Prometheus(testSet())
	require.NoError(t, err)

	families := parseFamilies(t, out)

	status := families["nvsentinel_gpu_health_status"]
	require.NotNil(t, status)

	first := metricForGPU(t, status, "0")
	assert.InDelta(t, float64(health.StatusCritical), first.GetGauge().GetValue(), 0.001)

	second := metricForGPU(t, status, "1")
	assert.InDelta(t, float64(health.StatusHealthy), second.GetGauge().GetValue(), 0.001)
}

func TestPrometheusSkipsAbsentFields(t *testing.T) {
	out, err := export.Prometheus(testSet())
	require.NoError(t, err)

	families := parseFamilies(t, out)

	// Neither device reports a fan, so the family never appears.
	assert.NotContains(t, families, "nvsentinel_gpu_fan_speed_percent")

	// Device 1 reports only temperature.
	power := families["nvsentinel_gpu_power_draw_watts"]
	require.NotNil(t, power)
	assert.Len(t, power.GetMetric(), 1)
}

func TestPrometheusSnapshotTimestamp(t *testing.T) {
	out, err := export.Prometheus(testSet())
	require.NoError(t, err)

	families := parseFamilies(t, out)

	ts := families["nvsentinel_snapshot_timestamp_seconds"]
	require.NotNil(t, ts)
	require.Len(t, ts.GetMetric(), 1)
	assert.InDelta(t, float64(setTime.Unix()), ts.GetMetric()[0].GetGauge().GetValue(), 0.001)
}

func TestPrometheusNilSet(t *testing.T) {
	_, err := export.Prometheus(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, export.ErrNoSnapshot))
}

func TestStoreCollectorBeforeFirstPublish(t *testing.T) {
	store := snapshot.NewStore()

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(export.NewStoreCollector(store)))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestStoreCollectorReflectsLatestSet(t *testing.T) {
	store := snapshot.NewStore()
	store.Publish(testSet())

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(export.NewStoreCollector(store)))

	families, err := registry.Gather()
	require.NoError(t, err)

	var names []string
	for _, family := range families {
		names = append(names, family.GetName())
	}

	assert.Contains(t, names, "nvsentinel_gpu_temperature_celsius")
	assert.Contains(t, names, "nvsentinel_gpu_health_status")
	assert.Contains(t, names, "nvsentinel_snapshot_timestamp_seconds")
	assert.True(t, strings.HasPrefix(names[0], "nvsentinel_"))
}
