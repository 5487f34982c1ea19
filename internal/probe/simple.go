package probe

import (
	"context"
	"math"
	"time"
)

type simple struct {
	size int
	data []float32
}

// NewSimple builds a small mixed workload: a matrix product against its
// own transpose followed by a sine reduction.
func NewSimple(size int) Benchmark {
	if size <= 0 {
		size = defaultMatrixSize
	}

	return &simple{size: size}
}

func (s *simple) Name() string { return NameSimple }

func (s *simple) Setup() error {
	s.data = randomMatrix(s.size)

	return nil
}

func (s *simple) Run(ctx context.Context) (Measurement, error) {
	started := time.Now()

	n := s.size
	out := make([]float32, n*n)

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return Measurement{}, ctx.Err()
		default:
		}

		for j := 0; j < n; j++ {
			var dot float32
			for k := 0; k < n; k++ {
				dot += s.data[i*n+k] * s.data[j*n+k]
			}

			out[i*n+j] = dot
		}
	}

	var sum float64
	for _, v := range out {
		sum += math.Sin(float64(v))
	}

	elapsed := elapsedSince(started)
	sink += float32(sum)

	// One multiply-add chain per output element plus the sine reduction.
	operations := float64(n) * float64(n) * float64(n+2)
	gflops := operations / elapsed.Seconds() / 1e9

	return Measurement{GFLOPS: &gflops}, nil
}

func (s *simple) Cleanup() {
	s.data = nil
}
