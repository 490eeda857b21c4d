package benchmarks

import (
	"context"
	"fmt"

	"github.com/spmdbench/spmdbench/internal/harness"
)

// DefaultArithIterations is the inner loop length of MicroBenchArithmetic
const DefaultArithIterations = 512

// MicroBenchArithmetic stresses the arithmetic units with a multiply-add
// loop whose value stays at one.
type MicroBenchArithmetic[T Number] struct {
	q          Queue
	args       harness.Args
	iterations int

	in, out []T
}

// ArithName returns the benchmark name for element type T
func ArithName[T Number](iterations int) string {
	return fmt.Sprintf("MicroBench_Arith_%s_%d", typeName[T](), iterations)
}

// NewMicroBenchArithmetic returns a factory for MicroBenchArithmetic instances
func NewMicroBenchArithmetic[T Number](q Queue, iterations int) harness.Factory {
	if iterations <= 0 {
		iterations = DefaultArithIterations
	}
	return func(args harness.Args) (harness.Benchmark, error) {
		return &MicroBenchArithmetic[T]{q: q, args: args, iterations: iterations}, nil
	}
}

func (b *MicroBenchArithmetic[T]) Name() string { return ArithName[T](b.iterations) }

// ThroughputMetric counts two multiply-adds per iteration
func (b *MicroBenchArithmetic[T]) ThroughputMetric(args harness.Args) harness.ThroughputMetric {
	ops := float64(args.ProblemSize) * float64(b.iterations) * 2 * 2
	unit := "GOP"
	switch typeName[T]() {
	case "float32":
		unit = "SP GFLOP"
	case "float64":
		unit = "DP GFLOP"
	}
	return harness.ThroughputMetric{Value: ops / gibi, Unit: unit}
}

func (b *MicroBenchArithmetic[T]) Setup(ctx context.Context) error {
	b.in = make([]T, b.args.ProblemSize)
	b.out = make([]T, b.args.ProblemSize)
	for i := range b.in {
		b.in[i] = 1
	}
	return nil
}

func (b *MicroBenchArithmetic[T]) Run(ctx context.Context) error {
	in, out, iters := b.in, b.out, b.iterations
	b.q.ParallelFor(ctx, len(in), func(i int) {
		a1 := in[i]
		a2 := a1
		for j := 0; j < iters; j++ {
			a1 = a1*a1 + a1
			a1 = a1*a2 - a2
		}
		out[i] = a1
	})
	return nil
}

func (b *MicroBenchArithmetic[T]) Verify(ctx context.Context, _ harness.VerificationSetting) (bool, error) {
	return checkOnMaster(ctx, b.q, func() bool {
		for _, v := range b.out {
			if v != 1 {
				return false
			}
		}
		return true
	})
}
