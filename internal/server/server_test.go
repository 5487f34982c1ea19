package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/export"
	"codeberg.org/mutker/nvsentinel/internal/gpu"
	"codeberg.org/mutker/nvsentinel/internal/health"
	"codeberg.org/mutker/nvsentinel/internal/logger"
	"codeberg.org/mutker/nvsentinel/internal/server"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

func publishedStore() *snapshot.Store {
	collected := time.Date(2025, 9, 18, 10, 30, 0, 0, time.UTC)

	snapshots := make([]snapshot.Snapshot, 0, 2)

	for index, temp := range []float64{45, 95} {
		rec := &telemetry.Record{
			DeviceIndex:    index,
			CollectedAt:    collected,
			TemperatureGPU: telemetry.Ptr(temp),
		}
		report := health.Classify(rec)

		snapshots = append(snapshots, snapshot.Snapshot{
			Device: gpu.DeviceInfo{
				Index: index,
				Name:  "NVIDIA GeForce RTX 4090",
				UUID:  "GPU-" + strconv.Itoa(index),
			},
			Metrics: rec,
			Health:  &report,
		})
	}

	store := snapshot.NewStore()
	store.Publish(&snapshot.Set{Snapshots: snapshots, CollectedAt: collected})

	return store
}

func newTestServer(t *testing.T, source export.SnapshotSource) *httptest.Server {
	t.Helper()

	srv, err := server.New("127.0.0.1:0", source, logger.Nop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, string(body)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, publishedStore())

	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	assert.Contains(t, body, `nvsentinel_gpu_temperature_celsius{gpu="0"`)
	assert.Contains(t, body, `nvsentinel_gpu_temperature_celsius{gpu="1"`)
	assert.Contains(t, body, "nvsentinel_gpu_health_status")
	assert.Contains(t, body, "nvsentinel_snapshot_timestamp_seconds")
}

func TestMetricsBeforeFirstPublish(t *testing.T) {
	ts := newTestServer(t, snapshot.NewStore())

	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "nvsentinel_gpu_")
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, publishedStore())

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "healthy", payload.Status)

	stamp, err := strconv.ParseInt(payload.Timestamp, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, float64(time.Now().Unix()), float64(stamp), 300)
}

func TestHealthMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, publishedStore())

	resp, err := http.Post(ts.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t, publishedStore())

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.Contains(t, body, "/metrics")
	assert.Contains(t, body, "/health")
}

func TestUnknownPath(t *testing.T) {
	ts := newTestServer(t, publishedStore())

	resp, _ := get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	srv, err := server.New("127.0.0.1:0", snapshot.NewStore(), logger.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx) }()

	// Give the listener a moment to bind before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}

func TestServeListenFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer listener.Close()

	srv, err := server.New(listener.Addr().String(), snapshot.NewStore(), logger.Nop())
	require.NoError(t, err)

	err = srv.Serve(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, server.ErrListenFailed))
}
