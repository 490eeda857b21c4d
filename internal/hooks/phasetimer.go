package hooks

import (
	"time"

	"github.com/spmdbench/spmdbench/internal/harness"
	"github.com/spmdbench/spmdbench/internal/result"
)

// SeriesSetupTime is the series PhaseTimer records
const SeriesSetupTime = "setup-time"

// PhaseTimer measures the setup phase of every repetition and reports it
// with the same reductions as run-time.
type PhaseTimer struct {
	harness.NopHook

	times *harness.TimeMetricsProcessor
	start time.Time
	now   func() time.Time
}

// NewPhaseTimer creates a setup phase timer
func NewPhaseTimer() *PhaseTimer {
	return &PhaseTimer{
		times: harness.NewTimeMetricsProcessor(nil),
		now:   time.Now,
	}
}

func (p *PhaseTimer) AtInit() {
	p.times = harness.NewTimeMetricsProcessor(nil)
}

func (p *PhaseTimer) PreSetup() {
	p.start = p.now()
}

func (p *PhaseTimer) PostSetup() {
	p.times.AddTimingResult(SeriesSetupTime, p.now().Sub(p.start))
}

func (p *PhaseTimer) EmitResults(consumer result.Consumer) {
	p.times.EmitResults(consumer)
}
