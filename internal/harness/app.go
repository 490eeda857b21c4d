package harness

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/spmdbench/spmdbench/internal/metrics"
	"github.com/spmdbench/spmdbench/internal/result"
)

// FlagNoNDRangeKernels disables ND-range kernel variants
const FlagNoNDRangeKernels = "no-ndrange-kernels"

// Status is the outcome of one App.Run call
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome records what happened to one benchmark
type Outcome struct {
	Benchmark string
	Status    Status
	Err       error
	Duration  time.Duration
}

// App runs a sequence of benchmarks with shared arguments. A failing
// benchmark never stops the ones after it.
type App struct {
	rt        Runtime
	args      Args
	configErr error
	hooks     []Hook
	logger    *slog.Logger

	names    map[string]struct{}
	outcomes []Outcome
}

// NewApp builds the arguments once. A build or validation error is logged
// and kept; the best-effort arguments are still used.
func NewApp(rt Runtime, build func() (Args, error), opts ...Option) *App {
	o := buildOptions(opts)
	a := &App{
		rt:     rt,
		hooks:  o.hooks,
		logger: o.logger,
		names:  make(map[string]struct{}),
	}

	if build == nil {
		a.configErr = errors.New("no argument builder")
	} else {
		a.args, a.configErr = build()
		if a.configErr == nil {
			a.configErr = a.args.Validate()
		}
	}
	if a.configErr != nil {
		a.logger.Error("error while parsing configuration", slog.String("error", a.configErr.Error()))
	}

	if a.args.Results == nil {
		a.args.Results = result.Nop{}
	}
	return a
}

// Args returns the arguments shared by every benchmark
func (a *App) Args() Args {
	return a.args
}

// ConfigErr returns the error reported while building the arguments
func (a *App) ConfigErr() error {
	return a.configErr
}

// ShouldRunNDRangeKernels reports whether ND-range variants are enabled
func (a *App) ShouldRunNDRangeKernels() bool {
	return !a.args.IsFlagSet(FlagNoNDRangeKernels)
}

// AddHook attaches h to every Manager this App creates
func (a *App) AddHook(h Hook) {
	a.hooks = append(a.hooks, h)
}

// Summary returns the outcome of every Run call so far
func (a *App) Summary() []Outcome {
	out := make([]Outcome, len(a.outcomes))
	copy(out, a.outcomes)
	return out
}

// Run executes one benchmark. Errors and panics are logged and recorded in
// the summary, never returned.
func (a *App) Run(ctx context.Context, factory Factory) (outcome Outcome) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Benchmark: outcome.Benchmark, Value: r, Stack: debug.Stack()}
			a.logger.Error("benchmark panicked",
				slog.String("benchmark", outcome.Benchmark),
				slog.String("error", err.Error()),
				slog.String("stack", string(err.Stack)))
			outcome.Status = StatusFailed
			outcome.Err = err
		}
		outcome.Duration = time.Since(start)
		a.outcomes = append(a.outcomes, outcome)
	}()

	if factory == nil {
		outcome.Status = StatusFailed
		outcome.Err = ErrNilFactory
		a.logger.Error("benchmark failed", slog.String("error", ErrNilFactory.Error()))
		return outcome
	}

	probe, err := factory(a.args)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		a.logger.Error("failed to construct benchmark", slog.String("error", err.Error()))
		return outcome
	}
	outcome.Benchmark = probe.Name()

	if _, used := a.names[outcome.Benchmark]; used {
		outcome.Status = StatusSkipped
		outcome.Err = &DuplicateNameError{Name: outcome.Benchmark}
		metrics.RecordOutcome(outcome.Benchmark, metrics.OutcomeDuplicate)
		a.logger.Error("benchmark skipped",
			slog.String("benchmark", outcome.Benchmark),
			slog.String("error", outcome.Err.Error()))
		return outcome
	}
	a.names[outcome.Benchmark] = struct{}{}

	mgr := NewManager(a.args, a.rt, factory, WithLogger(a.logger), WithHooks(a.hooks...))
	if err := mgr.Run(ctx); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		a.logger.Error("benchmark failed",
			slog.String("benchmark", outcome.Benchmark),
			slog.String("error", err.Error()))
		return outcome
	}

	outcome.Status = StatusCompleted
	return outcome
}
