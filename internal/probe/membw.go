package probe

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultBufferMiB    = 100
	bandwidthIterations = 5
	warmupElements      = 1000
)

type memoryBandwidth struct {
	mib      int
	src, dst []float32
}

// NewMemoryBandwidth builds the buffer copy workload. Sizes of zero or
// less select the default buffer size in MiB.
func NewMemoryBandwidth(mib int) Benchmark {
	if mib <= 0 {
		mib = defaultBufferMiB
	}

	return &memoryBandwidth{mib: mib}
}

func (m *memoryBandwidth) Name() string { return NameMemoryBandwidth }

func (m *memoryBandwidth) Setup() error {
	elements := m.mib * 1024 * 1024 / 4

	m.src = make([]float32, elements)
	for i := range m.src {
		m.src[i] = rand.Float32()
	}

	m.dst = make([]float32, elements)

	return nil
}

func (m *memoryBandwidth) Run(ctx context.Context) (Measurement, error) {
	warm := min(len(m.src), warmupElements)
	copy(m.dst[:warm], m.src[:warm])

	var total time.Duration

	for i := 0; i < bandwidthIterations; i++ {
		select {
		case <-ctx.Done():
			return Measurement{}, ctx.Err()
		default:
		}

		started := time.Now()
		copy(m.dst, m.src)
		total += elapsedSince(started)
	}

	avg := total / bandwidthIterations
	sink += m.dst[len(m.dst)-1]

	// Each copy reads the source and writes the destination.
	bytesMoved := 2 * float64(len(m.src)) * 4
	gbps := bytesMoved / avg.Seconds() / (1 << 30)

	return Measurement{BandwidthGBps: &gbps}, nil
}

func (m *memoryBandwidth) Cleanup() {
	m.src, m.dst = nil, nil
}
