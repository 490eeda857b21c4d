package benchmarks

import (
	"context"

	"github.com/spmdbench/spmdbench/internal/harness"
)

// Matmul multiplies two identity matrices of ProblemSize x ProblemSize
type Matmul[T Number] struct {
	q    Queue
	args harness.Args
	n    int

	a, b, c []T
}

// MatmulName returns the benchmark name for element type T
func MatmulName[T Number]() string {
	return "Matmul_" + typeName[T]()
}

// NewMatmul returns a factory for Matmul instances
func NewMatmul[T Number](q Queue) harness.Factory {
	return func(args harness.Args) (harness.Benchmark, error) {
		return &Matmul[T]{q: q, args: args, n: args.ProblemSize}, nil
	}
}

func (b *Matmul[T]) Name() string { return MatmulName[T]() }

func (b *Matmul[T]) ThroughputMetric(args harness.Args) harness.ThroughputMetric {
	n := float64(args.ProblemSize)
	return harness.ThroughputMetric{Value: 2 * n * n * n / gibi, Unit: "GFLOP"}
}

func (b *Matmul[T]) Setup(ctx context.Context) error {
	n := b.n
	b.a = make([]T, n*n)
	b.b = make([]T, n*n)
	b.c = make([]T, n*n)
	for i := 0; i < n; i++ {
		b.a[i*n+i] = 1
		b.b[i*n+i] = 1
	}
	return nil
}

func (b *Matmul[T]) RunProfiled(ctx context.Context, events *harness.ProfilingEvents) error {
	n, a, bm, c := b.n, b.a, b.b, b.c
	events.Add(b.q.ParallelFor(ctx, n, func(i int) {
		for j := 0; j < n; j++ {
			var s T
			for k := 0; k < n; k++ {
				s += a[i*n+k] * bm[k*n+j]
			}
			c[i*n+j] = s
		}
	}))
	return nil
}

func (b *Matmul[T]) Verify(ctx context.Context, _ harness.VerificationSetting) (bool, error) {
	return checkOnMaster(ctx, b.q, func() bool {
		for i := 0; i < b.n; i++ {
			for j := 0; j < b.n; j++ {
				var want T
				if i == j {
					want = 1
				}
				if b.c[i*b.n+j] != want {
					return false
				}
			}
		}
		return true
	})
}
