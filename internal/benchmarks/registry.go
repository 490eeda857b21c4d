package benchmarks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spmdbench/spmdbench/internal/harness"
)

// Entry is a registered benchmark. NDRange entries are skipped when the
// application was asked not to run ND-range kernels.
type Entry struct {
	Name    string
	NDRange bool
	Factory harness.Factory
}

// Registry holds the benchmarks the CLI can run, in registration order
type Registry struct {
	entries []Entry
	index   map[string]int
	logger  *slog.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*registryOptions)

type registryOptions struct {
	arithIterations int
	logger          *slog.Logger
}

// WithArithIterations sets the inner loop length of the arithmetic microbenchmark
func WithArithIterations(n int) RegistryOption {
	return func(o *registryOptions) {
		if n > 0 {
			o.arithIterations = n
		}
	}
}

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

// NewRegistry creates a registry with every sample benchmark submitting to q
func NewRegistry(q Queue, opts ...RegistryOption) *Registry {
	o := registryOptions{
		arithIterations: DefaultArithIterations,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{index: make(map[string]int), logger: o.logger}

	registerTyped[int32](r, q)
	registerTyped[int64](r, q)
	registerTyped[float32](r, q)
	registerTyped[float64](r, q)

	r.Register(Entry{Name: MatmulName[float32](), Factory: NewMatmul[float32](q)})
	r.Register(Entry{Name: MatmulName[float64](), Factory: NewMatmul[float64](q)})
	r.Register(Entry{Name: ArithName[float32](o.arithIterations), Factory: NewMicroBenchArithmetic[float32](q, o.arithIterations)})
	r.Register(Entry{Name: ArithName[int32](o.arithIterations), Factory: NewMicroBenchArithmetic[int32](q, o.arithIterations)})
	r.Register(Entry{Name: DRAMName, Factory: NewMicroBenchDRAM(q)})

	return r
}

func registerTyped[T Number](r *Registry, q Queue) {
	r.Register(Entry{Name: VectorAdditionName[T](), Factory: NewVectorAddition[T](q)})
	r.Register(Entry{Name: ScalarProductName[T](false), Factory: NewScalarProduct[T](q, false)})
	r.Register(Entry{Name: ScalarProductName[T](true), NDRange: true, Factory: NewScalarProduct[T](q, true)})
}

// Register adds or replaces an entry
func (r *Registry) Register(e Entry) {
	if i, ok := r.index[e.Name]; ok {
		r.entries[i] = e
		return
	}
	r.index[e.Name] = len(r.entries)
	r.entries = append(r.entries, e)
}

// Entries returns all entries in registration order
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Select returns the named entries in the given order. An empty selection
// returns every entry.
func (r *Registry) Select(names []string) ([]Entry, error) {
	if len(names) == 0 {
		return r.Entries(), nil
	}

	var unknown []string
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		i, ok := r.index[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, r.entries[i])
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown benchmarks: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Run runs the selected benchmarks on app in order. It fails only on an
// unknown selection, before anything runs.
func (r *Registry) Run(ctx context.Context, app *harness.App, names []string) ([]harness.Outcome, error) {
	entries, err := r.Select(names)
	if err != nil {
		return nil, err
	}

	runNDRange := app.ShouldRunNDRangeKernels()
	outcomes := make([]harness.Outcome, 0, len(entries))
	for _, e := range entries {
		if e.NDRange && !runNDRange {
			r.logger.Debug("skipping ND-range kernel", slog.String("benchmark", e.Name))
			continue
		}
		outcomes = append(outcomes, app.Run(ctx, e.Factory))
	}
	return outcomes, nil
}
