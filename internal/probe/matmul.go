package probe

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMatrixSize = 1000
	warmupSize        = 100
)

// sink keeps workload outputs observable so the timed loops cannot be
// optimized away.
var sink float32

type matrixMultiply struct {
	size int
	a, b []float32
}

// NewMatrixMultiply builds the dense float32 matrix product workload.
// Sizes of zero or less select the default.
func NewMatrixMultiply(size int) Benchmark {
	if size <= 0 {
		size = defaultMatrixSize
	}

	return &matrixMultiply{size: size}
}

func (m *matrixMultiply) Name() string { return NameMatrixMultiply }

func (m *matrixMultiply) Setup() error {
	m.a = randomMatrix(m.size)
	m.b = randomMatrix(m.size)

	return nil
}

func (m *matrixMultiply) Run(ctx context.Context) (Measurement, error) {
	// Warm up on a small corner before timing.
	multiplyBlock(m.a, m.b, m.size, min(m.size, warmupSize))

	started := time.Now()

	out := make([]float32, m.size*m.size)

	for i := 0; i < m.size; i++ {
		select {
		case <-ctx.Done():
			return Measurement{}, ctx.Err()
		default:
		}

		for k := 0; k < m.size; k++ {
			aik := m.a[i*m.size+k]
			row := m.b[k*m.size:]

			for j := 0; j < m.size; j++ {
				out[i*m.size+j] += aik * row[j]
			}
		}
	}

	elapsed := elapsedSince(started)
	sink += out[len(out)-1]

	operations := 2 * float64(m.size) * float64(m.size) * float64(m.size)
	gflops := operations / elapsed.Seconds() / 1e9

	return Measurement{GFLOPS: &gflops}, nil
}

func (m *matrixMultiply) Cleanup() {
	m.a, m.b = nil, nil
}

func multiplyBlock(a, b []float32, stride, n int) {
	out := make([]float32, n*n)

	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			aik := a[i*stride+k]

			for j := 0; j < n; j++ {
				out[i*n+j] += aik * b[k*stride+j]
			}
		}
	}

	sink += out[len(out)-1]
}

func randomMatrix(n int) []float32 {
	m := make([]float32, n*n)
	for i := range m {
		m[i] = rand.Float32()
	}

	return m
}

// elapsedSince never reports zero so the throughput math stays finite on
// coarse clocks.
func elapsedSince(started time.Time) time.Duration {
	elapsed := time.Since(started)
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}

	return elapsed
}
