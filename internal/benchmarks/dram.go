package benchmarks

import (
	"context"

	"github.com/spmdbench/spmdbench/internal/harness"
)

// dramFill is the value copied by MicroBenchDRAM
const dramFill float32 = 33

// MicroBenchDRAM measures memory bandwidth by copying ProblemSize^2 floats.
// It has no verification.
type MicroBenchDRAM struct {
	q    Queue
	args harness.Args

	in, out []float32
}

// DRAMName is the name of the DRAM bandwidth benchmark
const DRAMName = "MicroBench_DRAM_float32"

// NewMicroBenchDRAM returns a factory for MicroBenchDRAM instances
func NewMicroBenchDRAM(q Queue) harness.Factory {
	return func(args harness.Args) (harness.Benchmark, error) {
		return &MicroBenchDRAM{q: q, args: args}, nil
	}
}

func dramElements(args harness.Args) int {
	return args.ProblemSize * args.ProblemSize
}

func (b *MicroBenchDRAM) Name() string { return DRAMName }

// ThroughputMetric counts one read and one write per element
func (b *MicroBenchDRAM) ThroughputMetric(args harness.Args) harness.ThroughputMetric {
	copied := float64(dramElements(args)) * 4 / gibi
	return harness.ThroughputMetric{Value: copied * 2, Unit: "GiB"}
}

func (b *MicroBenchDRAM) Setup(ctx context.Context) error {
	n := dramElements(b.args)
	b.in = make([]float32, n)
	b.out = make([]float32, n)
	for i := range b.in {
		b.in[i] = dramFill
	}
	return nil
}

func (b *MicroBenchDRAM) Run(ctx context.Context) error {
	in, out := b.in, b.out
	b.q.ParallelFor(ctx, len(in), func(i int) {
		out[i] = in[i]
	})
	return nil
}
