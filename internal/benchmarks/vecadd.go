package benchmarks

import (
	"context"

	"github.com/spmdbench/spmdbench/internal/harness"
)

// VectorAddition adds two vectors element-wise
type VectorAddition[T Number] struct {
	q    Queue
	args harness.Args

	a, b, out []T
}

// VectorAdditionName returns the benchmark name for element type T
func VectorAdditionName[T Number]() string {
	return "VectorAddition_" + typeName[T]()
}

// NewVectorAddition returns a factory for VectorAddition instances
func NewVectorAddition[T Number](q Queue) harness.Factory {
	return func(args harness.Args) (harness.Benchmark, error) {
		return &VectorAddition[T]{q: q, args: args}, nil
	}
}

func (b *VectorAddition[T]) Name() string { return VectorAdditionName[T]() }

func (b *VectorAddition[T]) Setup(ctx context.Context) error {
	n := b.args.ProblemSize
	b.a = make([]T, n)
	b.b = make([]T, n)
	b.out = make([]T, n)
	for i := 0; i < n; i++ {
		b.a[i] = T(i)
		b.b[i] = T(i)
	}
	return nil
}

func (b *VectorAddition[T]) Run(ctx context.Context) error {
	a, bb, out := b.a, b.b, b.out
	b.q.ParallelFor(ctx, len(out), func(i int) {
		out[i] = a[i] + bb[i]
	})
	return nil
}

func (b *VectorAddition[T]) Verify(ctx context.Context, _ harness.VerificationSetting) (bool, error) {
	return checkOnMaster(ctx, b.q, func() bool {
		for i := range b.out {
			if b.out[i] != b.a[i]+b.b[i] {
				return false
			}
		}
		return true
	})
}
