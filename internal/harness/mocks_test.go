package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spmdbench/spmdbench/internal/result"
)

// mockRuntime is a scripted Runtime
type mockRuntime struct {
	mu        sync.Mutex
	master    bool
	worldSize int
	profiling bool
	syncErr   error
	syncCalls int
}

func newMockRuntime(master bool) *mockRuntime {
	return &mockRuntime{master: master, worldSize: 2}
}

func (r *mockRuntime) IsMaster() bool         { return r.master }
func (r *mockRuntime) WorldSize() int         { return r.worldSize }
func (r *mockRuntime) Backend() string        { return "mock-backend" }
func (r *mockRuntime) ProfilingEnabled() bool { return r.profiling }

func (r *mockRuntime) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncCalls++
	return r.syncErr
}

// recordingConsumer records every call in order
type recordingConsumer struct {
	calls    []string
	results  map[string]string
	order    []string
	discards int
	flushes  int
	proceeds int
	flushErr error
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{results: make(map[string]string)}
}

func (c *recordingConsumer) ProceedToBenchmark(name string) {
	c.proceeds++
	c.calls = append(c.calls, "proceed:"+name)
}

func (c *recordingConsumer) ConsumeResult(key, value string) {
	c.calls = append(c.calls, "result:"+key)
	c.results[key] = value
	c.order = append(c.order, key)
}

func (c *recordingConsumer) Discard() {
	c.discards++
	c.calls = append(c.calls, "discard")
}

func (c *recordingConsumer) Flush() error {
	c.flushes++
	c.calls = append(c.calls, "flush")
	return c.flushErr
}

// consumed reports whether any ConsumeResult call happened
func (c *recordingConsumer) consumed() bool {
	return len(c.order) > 0
}

// countingHook counts every callback
type countingHook struct {
	atInit, preSetup, postSetup, preKernel, postKernel, emit int
	name                                                     string
	events                                                   *[]string
}

func (h *countingHook) record(ev string) {
	if h.events != nil {
		*h.events = append(*h.events, ev)
	}
}

func (h *countingHook) SetBenchmarkName(name string) { h.name = name }
func (h *countingHook) AtInit()                      { h.atInit++; h.record("hook:AtInit") }
func (h *countingHook) PreSetup()                    { h.preSetup++; h.record("hook:PreSetup") }
func (h *countingHook) PostSetup()                   { h.postSetup++; h.record("hook:PostSetup") }
func (h *countingHook) PreKernel()                   { h.preKernel++; h.record("hook:PreKernel") }
func (h *countingHook) PostKernel()                  { h.postKernel++; h.record("hook:PostKernel") }

func (h *countingHook) EmitResults(c result.Consumer) {
	h.emit++
	c.ConsumeResult("hook-calls", fmt.Sprint(h.preKernel))
}

// script drives every instance a fakeFactory builds
type script struct {
	name          string
	verifyResults []bool // per repetition; missing entries pass
	setupErrAt    int    // repetition index, -1 for never
	setupErr      error
	runErrAt      int
	runErr        error
	panicAt       int
	factoryErrAt  int // construction index, -1 for never
	throughput    *ThroughputMetric
	events        *[]string

	constructed int
	setups      int
	runs        int
	verifies    int
}

func newScript(name string) *script {
	return &script{name: name, setupErrAt: -1, runErrAt: -1, panicAt: -1, factoryErrAt: -1}
}

func (s *script) record(ev string) {
	if s.events != nil {
		*s.events = append(*s.events, ev)
	}
}

// fakeBenchmark is a Runner and Verifier
type fakeBenchmark struct {
	s   *script
	rep int
}

func (b *fakeBenchmark) Name() string { return b.s.name }

func (b *fakeBenchmark) Setup(ctx context.Context) error {
	b.s.setups++
	b.s.record("setup")
	if b.rep == b.s.setupErrAt {
		return b.s.setupErr
	}
	return nil
}

func (b *fakeBenchmark) Run(ctx context.Context) error {
	b.s.runs++
	b.s.record("run")
	if b.rep == b.s.panicAt {
		panic("kernel out of bounds")
	}
	if b.rep == b.s.runErrAt {
		return b.s.runErr
	}
	return nil
}

func (b *fakeBenchmark) Verify(ctx context.Context, setting VerificationSetting) (bool, error) {
	b.s.verifies++
	b.s.record("verify")
	if b.rep < len(b.s.verifyResults) {
		return b.s.verifyResults[b.rep], nil
	}
	return true, nil
}

// throughputBenchmark adds a throughput metric
type throughputBenchmark struct {
	fakeBenchmark
}

func (b *throughputBenchmark) ThroughputMetric(args Args) ThroughputMetric {
	return *b.s.throughput
}

// fakeFactory builds instances from s. The first construction is the probe,
// so repetition r uses construction r+1.
func fakeFactory(s *script) Factory {
	return func(args Args) (Benchmark, error) {
		idx := s.constructed
		s.constructed++
		if idx == s.factoryErrAt {
			return nil, errors.New("allocation failed")
		}
		fb := fakeBenchmark{s: s, rep: idx - 1}
		if s.throughput != nil {
			return &throughputBenchmark{fakeBenchmark: fb}, nil
		}
		return &fb, nil
	}
}

// plainBenchmark is a Runner without Verifier
type plainBenchmark struct {
	name string
	runs *int
}

func (b *plainBenchmark) Name() string                  { return b.name }
func (b *plainBenchmark) Setup(context.Context) error   { return nil }
func (b *plainBenchmark) Run(context.Context) error     { *b.runs++; return nil }

// setupOnlyBenchmark has no run capability
type setupOnlyBenchmark struct{}

func (setupOnlyBenchmark) Name() string                { return "SetupOnly" }
func (setupOnlyBenchmark) Setup(context.Context) error { return nil }

// fixedEvent has fixed profiling timestamps
type fixedEvent struct {
	d   time.Duration
	err error
}

func (e fixedEvent) ProfilingInfo() (time.Time, time.Time, error) {
	base := time.Unix(1000, 0)
	return base, base.Add(e.d), e.err
}

// profiledBenchmark records fixed events and never defines Run
type profiledBenchmark struct {
	events []fixedEvent
	runs   *int
}

func (b *profiledBenchmark) Name() string                { return "Profiled" }
func (b *profiledBenchmark) Setup(context.Context) error { return nil }

func (b *profiledBenchmark) RunProfiled(ctx context.Context, events *ProfilingEvents) error {
	*b.runs++
	for _, e := range b.events {
		events.Add(e)
	}
	return nil
}

// dualBenchmark has both run capabilities
type dualBenchmark struct {
	profiledBenchmark
	plainRuns *int
}

func (b *dualBenchmark) Run(context.Context) error {
	*b.plainRuns++
	return nil
}

// stepClock advances by step on every call
func stepClock(step time.Duration) func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func activeVerification() VerificationSetting {
	return VerificationSetting{
		Enabled: true,
		Range:   Range{Begin: []int{0, 0, 0}, Extent: []int{1, 1, 1}},
	}
}

func testArgs(c result.Consumer, runs int) Args {
	return Args{
		ProblemSize:  1024,
		LocalSize:    256,
		NumRuns:      runs,
		Verification: activeVerification(),
		Results:      c,
	}
}

// flagSet is a FlagLookup over a fixed set
type flagSet map[string]bool

func (f flagSet) IsFlagSet(name string) bool { return f[name] }
