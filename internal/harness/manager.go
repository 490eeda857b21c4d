package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spmdbench/spmdbench/internal/logging"
	"github.com/spmdbench/spmdbench/internal/metrics"
	"github.com/spmdbench/spmdbench/internal/result"
)

// Timing series recorded by the Manager
const (
	SeriesRunTime    = "run-time"
	SeriesKernelTime = "kernel-time"
)

type options struct {
	logger *slog.Logger
	hooks  []Hook
}

// Option configures a Manager or an App
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHooks attaches hooks
func WithHooks(hooks ...Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Manager drives one benchmark through its repetitions and reports the
// reduced results on the master rank.
type Manager struct {
	args    Args
	rt      Runtime
	factory Factory
	hooks   []Hook
	logger  *slog.Logger

	// For time mocking in tests
	now func() time.Time
}

// NewManager creates a manager for the benchmark built by factory
func NewManager(args Args, rt Runtime, factory Factory, opts ...Option) *Manager {
	o := buildOptions(opts)
	if args.Results == nil {
		args.Results = result.Nop{}
	}
	return &Manager{
		args:    args,
		rt:      rt,
		factory: factory,
		hooks:   o.hooks,
		logger:  o.logger,
		now:     time.Now,
	}
}

// AddHook attaches a hook for every later callback
func (m *Manager) AddHook(h Hook) {
	m.hooks = append(m.hooks, h)
}

// Run executes the benchmark NumRuns times or until a verification fails.
// On error the consumer is discarded and the error returned. A panic in a
// benchmark body discards the consumer and propagates.
func (m *Manager) Run(ctx context.Context) error {
	if m.factory == nil {
		return ErrNilFactory
	}
	consumer := m.args.Results

	probe, err := m.factory(m.args)
	if err != nil {
		return fmt.Errorf("failed to construct benchmark: %w", err)
	}
	name := probe.Name()
	_, canVerify := probe.(Verifier)

	var throughput *ThroughputMetric
	if tr, ok := probe.(ThroughputReporter); ok {
		tm := tr.ThroughputMetric(m.args)
		throughput = &tm
	}

	isMaster := m.rt.IsMaster()
	ctx = logging.WithBenchmark(ctx, name)
	metrics.RecordBenchmarkStarted(name)

	if isMaster {
		consumer.ProceedToBenchmark(name)
		consumer.ConsumeResult(result.KeyProblemSize, strconv.Itoa(m.args.ProblemSize))
		consumer.ConsumeResult(result.KeyLocalSize, strconv.Itoa(m.args.LocalSize))
		consumer.ConsumeResult(result.KeyBackend, m.rt.Backend())
		consumer.ConsumeResult(result.KeyNumRanks, strconv.Itoa(m.rt.WorldSize()))
	}

	times := NewTimeMetricsProcessor(throughput)

	for _, h := range m.hooks {
		if na, ok := h.(NameAware); ok {
			na.SetBenchmarkName(name)
		}
		h.AtInit()
	}

	executed, allPass, err := m.runRepetitions(ctx, name, times)
	if err != nil {
		m.drain(ctx)
		consumer.Discard()
		metrics.RecordDiscard(name)
		metrics.RecordOutcome(name, metrics.OutcomeError)
		m.logger.ErrorContext(ctx, "benchmark failed, results discarded", slog.String("error", err.Error()))
		return err
	}

	verification := result.VerificationNA
	switch {
	case !m.args.Verification.Active() || !canVerify || executed == 0:
	case !allPass:
		verification = result.VerificationFail
	default:
		verification = result.VerificationPass
	}

	if !isMaster {
		return nil
	}

	times.EmitResults(consumer)
	for _, h := range m.hooks {
		h.EmitResults(consumer)
	}
	consumer.ConsumeResult(result.KeyVerification, verification)
	metrics.RecordOutcome(name, outcomeLabel(verification))

	if err := consumer.Flush(); err != nil {
		return fmt.Errorf("failed to flush results for %s: %w", name, err)
	}

	m.logger.InfoContext(ctx, "benchmark complete",
		slog.String("verification", verification),
		slog.Int("repetitions", executed))
	return nil
}

// drain waits for work a failed repetition left on the runtime so it cannot
// surface in the next benchmark's barrier. Its error is only logged.
func (m *Manager) drain(ctx context.Context) {
	if err := m.rt.Sync(context.WithoutCancel(ctx)); err != nil {
		m.logger.DebugContext(ctx, "drained outstanding work after failure", slog.String("error", err.Error()))
	}
}

// runRepetitions returns the number of repetitions that completed. It
// discards the consumer before re-raising a panic.
func (m *Manager) runRepetitions(ctx context.Context, name string, times *TimeMetricsProcessor) (executed int, allPass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.drain(ctx)
			m.args.Results.Discard()
			metrics.RecordDiscard(name)
			metrics.RecordOutcome(name, metrics.OutcomeError)
			panic(r)
		}
	}()

	allPass = true
	for rep := 0; rep < m.args.NumRuns && allPass; rep++ {
		if err := ctx.Err(); err != nil {
			return executed, false, fmt.Errorf("%s cancelled before repetition %d: %w", name, rep, err)
		}

		passed, err := m.runRepetition(logging.WithRepetition(ctx, rep), times)
		if err != nil {
			return executed, false, fmt.Errorf("%s repetition %d: %w", name, rep, err)
		}
		metrics.RecordRepetition(name)
		executed++
		allPass = passed
	}
	return executed, allPass, nil
}

func (m *Manager) runRepetition(ctx context.Context, times *TimeMetricsProcessor) (bool, error) {
	b, err := m.factory(m.args)
	if err != nil {
		return false, fmt.Errorf("construct: %w", err)
	}

	profiled, isProfiled := b.(ProfiledRunner)
	runner, isRunner := b.(Runner)
	if !isProfiled && !isRunner {
		return false, ErrNotRunnable
	}

	for _, h := range m.hooks {
		h.PreSetup()
	}
	if err := b.Setup(ctx); err != nil {
		return false, fmt.Errorf("setup: %w", err)
	}
	if err := m.rt.Sync(ctx); err != nil {
		return false, fmt.Errorf("setup sync: %w", err)
	}
	for _, h := range m.hooks {
		h.PostSetup()
	}

	var events *ProfilingEvents
	for _, h := range m.hooks {
		h.PreKernel()
	}
	start := m.now()
	if isProfiled {
		events = newProfilingEvents()
		err = profiled.RunProfiled(ctx, events)
	} else {
		err = runner.Run(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("run: %w", err)
	}
	if err := m.rt.Sync(ctx); err != nil {
		return false, fmt.Errorf("run sync: %w", err)
	}
	end := m.now()
	for _, h := range m.hooks {
		h.PostKernel()
	}

	times.AddTimingResult(SeriesRunTime, end.Sub(start))

	if isProfiled && m.rt.ProfilingEnabled() {
		total, err := events.Total()
		if err != nil {
			m.logger.WarnContext(ctx, "device profiling unavailable", slog.String("error", err.Error()))
			times.MarkUnavailable(SeriesKernelTime)
		} else {
			times.AddTimingResult(SeriesKernelTime, total)
		}
	} else {
		times.MarkUnavailable(SeriesKernelTime)
	}

	if !m.args.Verification.Active() {
		return true, nil
	}
	v, ok := b.(Verifier)
	if !ok {
		return true, nil
	}

	m.logger.InfoContext(ctx, "Starting verification")
	passed, err := v.Verify(ctx, m.args.Verification)
	if err != nil {
		return false, fmt.Errorf("verify: %w", err)
	}
	if err := m.rt.Sync(ctx); err != nil {
		return false, fmt.Errorf("verify sync: %w", err)
	}
	if !passed {
		m.logger.WarnContext(ctx, "verification failed")
	}
	return passed, nil
}

func outcomeLabel(verification string) string {
	switch verification {
	case result.VerificationPass:
		return metrics.OutcomePass
	case result.VerificationFail:
		return metrics.OutcomeFail
	default:
		return metrics.OutcomeNA
	}
}
