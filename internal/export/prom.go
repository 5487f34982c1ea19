package export

import (
	"bytes"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/snapshot"
	"codeberg.org/mutker/nvsentinel/internal/telemetry"
)

// SnapshotSource yields the latest published set, nil before the first
// publish.
type SnapshotSource interface {
	Latest() *snapshot.Set
}

var seriesLabels = []string{"gpu", "gpu_name", "uuid"}

// storeCollector renders the latest snapshot set as constant metrics at
// gather time. It never collects from hardware: scrapes read whatever the
// refresh scheduler last published, so request handling and collection stay
// decoupled.
type storeCollector struct {
	source        SnapshotSource
	fields        []telemetry.Field
	fieldDescs    map[string]*prometheus.Desc
	healthDesc    *prometheus.Desc
	timestampDesc *prometheus.Desc
}

// NewStoreCollector returns a prometheus.Collector over the snapshot source.
func NewStoreCollector(source SnapshotSource) prometheus.Collector {
	fields := telemetry.Fields()
	descs := make(map[string]*prometheus.Desc, len(fields))

	for _, f := range fields {
		descs[f.Name] = prometheus.NewDesc(f.Metric, f.Help, seriesLabels, nil)
	}

	return &storeCollector{
		source:     source,
		fields:     fields,
		fieldDescs: descs,
		healthDesc: prometheus.NewDesc(
			"nvsentinel_gpu_health_status",
			"GPU health status (0=unknown, 1=healthy, 2=warning, 3=critical)",
			seriesLabels, nil,
		),
		timestampDesc: prometheus.NewDesc(
			"nvsentinel_snapshot_timestamp_seconds",
			"Unix time of the published snapshot set",
			nil, nil,
		),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, f := range c.fields {
		ch <- c.fieldDescs[f.Name]
	}

	ch <- c.healthDesc
	ch <- c.timestampDesc
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	set := c.source.Latest()
	if set == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.timestampDesc, prometheus.GaugeValue, float64(set.CollectedAt.Unix()))

	for i := range set.Snapshots {
		snap := &set.Snapshots[i]
		labels := []string{strconv.Itoa(snap.Device.Index), snap.Device.Name, snap.Device.UUID}

		if snap.Metrics != nil {
			for _, f := range c.fields {
				value, ok := f.Value(snap.Metrics)
				if !ok {
					continue
				}

				kind := prometheus.GaugeValue
				if f.Kind == telemetry.Counter {
					kind = prometheus.CounterValue
				}

				ch <- prometheus.MustNewConstMetric(c.fieldDescs[f.Name], kind, value*f.Scale, labels...)
			}
		}

		if snap.Health != nil {
			ch <- prometheus.MustNewConstMetric(
				c.healthDesc, prometheus.GaugeValue, float64(snap.Health.Overall), labels...)
		}
	}
}

type staticSource struct {
	set *snapshot.Set
}

func (s staticSource) Latest() *snapshot.Set { return s.set }

// Prometheus renders one snapshot set in the text exposition format.
func Prometheus(set *snapshot.Set) ([]byte, error) {
	if set == nil {
		return nil, errors.New().New(ErrNoSnapshot)
	}

	errFactory := errors.New()

	registry := prometheus.NewRegistry()
	if err := registry.Register(NewStoreCollector(staticSource{set: set})); err != nil {
		return nil, errFactory.Wrap(ErrEncodeFailed, err)
	}

	families, err := registry.Gather()
	if err != nil {
		return nil, errFactory.Wrap(ErrEncodeFailed, err)
	}

	var buf bytes.Buffer

	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return nil, errFactory.Wrap(ErrEncodeFailed, err)
		}
	}

	return buf.Bytes(), nil
}
