package benchmarks

import (
	"context"
	"fmt"
	"math"

	"github.com/spmdbench/spmdbench/internal/harness"
)

// elementsPerItem is how many inputs each work item folds in the first
// reduction step.
const elementsPerItem = 2

// ScalarProduct computes the dot product of two vectors: an element-wise
// multiplication followed by repeated work-group reductions until a single
// value remains.
type ScalarProduct[T Number] struct {
	q       Queue
	args    harness.Args
	ndrange bool

	a, b   []T
	result T
}

// ScalarProductName returns the benchmark name for element type T
func ScalarProductName[T Number](ndrange bool) string {
	if ndrange {
		return "ScalarProduct_NDRange_" + typeName[T]()
	}
	return "ScalarProduct_" + typeName[T]()
}

// NewScalarProduct returns a factory for ScalarProduct instances. The ndrange
// variant reduces each work group with a tree over local scratch memory.
func NewScalarProduct[T Number](q Queue, ndrange bool) harness.Factory {
	return func(args harness.Args) (harness.Benchmark, error) {
		return &ScalarProduct[T]{q: q, args: args, ndrange: ndrange}, nil
	}
}

func (b *ScalarProduct[T]) Name() string { return ScalarProductName[T](b.ndrange) }

func (b *ScalarProduct[T]) Setup(ctx context.Context) error {
	n := b.args.ProblemSize
	b.a = make([]T, n)
	b.b = make([]T, n)
	for i := 0; i < n; i++ {
		b.a[i] = 1
		b.b[i] = 2
	}
	return nil
}

func (b *ScalarProduct[T]) RunProfiled(ctx context.Context, events *harness.ProfilingEvents) error {
	a, bb := b.a, b.b
	src := make([]T, len(a))

	ev := b.q.ParallelFor(ctx, len(src), func(i int) {
		src[i] = a[i] * bb[i]
	})
	events.Add(ev)
	if err := ev.Wait(); err != nil {
		return fmt.Errorf("multiply: %w", err)
	}

	wgSize := b.args.LocalSize
	perGroup := wgSize * elementsPerItem
	for pass := 0; len(src) > 1; pass++ {
		groups := (len(src) + perGroup - 1) / perGroup
		dst := make([]T, groups)
		in := src

		ev := b.q.ParallelFor(ctx, groups, func(g int) {
			lo := g * perGroup
			hi := min(lo+perGroup, len(in))
			if b.ndrange {
				dst[g] = treeReduce(in[lo:hi], make([]T, wgSize))
			} else {
				dst[g] = sum(in[lo:hi])
			}
		})
		events.Add(ev)
		if err := ev.Wait(); err != nil {
			return fmt.Errorf("reduction pass %d: %w", pass, err)
		}
		src = dst
	}

	if len(src) == 1 {
		b.result = src[0]
	}
	return nil
}

func (b *ScalarProduct[T]) Verify(ctx context.Context, _ harness.VerificationSetting) (bool, error) {
	return checkOnMaster(ctx, b.q, func() bool {
		var expected T
		for i := range b.a {
			expected += b.a[i] * b.b[i]
		}
		return math.Abs(float64(expected)-float64(b.result)) <= 0.00001
	})
}

func sum[T Number](values []T) T {
	var s T
	for _, v := range values {
		s += v
	}
	return s
}

// treeReduce folds chunk into local, elementsPerItem inputs per slot, then
// halves the active slots until local[0] holds the group sum.
func treeReduce[T Number](chunk, local []T) T {
	for lid := range local {
		local[lid] = 0
		for k := 0; k < elementsPerItem; k++ {
			if i := elementsPerItem*lid + k; i < len(chunk) {
				local[lid] += chunk[i]
			}
		}
	}
	for stride := 1; stride < len(local); stride *= elementsPerItem {
		for idx := 0; idx+stride < len(local); idx += elementsPerItem * stride {
			local[idx] += local[idx+stride]
		}
	}
	return local[0]
}
