package harness

import (
	"context"
	"fmt"
	"time"
)

// Benchmark is the capability every benchmark instance has. The run and
// verification capabilities are optional interfaces checked per instance.
type Benchmark interface {
	Name() string
	Setup(ctx context.Context) error
}

// Runner submits the benchmark's work without device profiling
type Runner interface {
	Run(ctx context.Context) error
}

// ProfiledRunner submits the benchmark's work and records one event per
// submitted unit so device time can be summed. It takes precedence over Runner.
type ProfiledRunner interface {
	RunProfiled(ctx context.Context, events *ProfilingEvents) error
}

// Verifier checks the output of the last run
type Verifier interface {
	Verify(ctx context.Context, setting VerificationSetting) (bool, error)
}

// ThroughputReporter reports the work performed per kernel execution
type ThroughputReporter interface {
	ThroughputMetric(args Args) ThroughputMetric
}

// Factory constructs a fresh benchmark instance. Extra constructor arguments
// are captured by the closure.
type Factory func(args Args) (Benchmark, error)

// Runtime is the distributed runtime the harness drives
type Runtime interface {
	IsMaster() bool
	WorldSize() int
	Backend() string
	ProfilingEnabled() bool
	// Sync blocks until all outstanding work on every rank completed.
	Sync(ctx context.Context) error
}

// ProfiledEvent exposes device start/end timestamps of a completed unit of work
type ProfiledEvent interface {
	ProfilingInfo() (start, end time.Time, err error)
}

// ProfilingEvents collects the events of one RunProfiled call
type ProfilingEvents struct {
	events []ProfiledEvent
}

func newProfilingEvents() *ProfilingEvents {
	return &ProfilingEvents{events: make([]ProfiledEvent, 0, 1024)}
}

// Add records an event
func (p *ProfilingEvents) Add(ev ProfiledEvent) {
	p.events = append(p.events, ev)
}

// Len returns the number of recorded events
func (p *ProfilingEvents) Len() int {
	return len(p.events)
}

// Total sums end-start over every recorded event
func (p *ProfilingEvents) Total() (time.Duration, error) {
	var total time.Duration
	for i, ev := range p.events {
		start, end, err := ev.ProfilingInfo()
		if err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
		total += end.Sub(start)
	}
	return total, nil
}
