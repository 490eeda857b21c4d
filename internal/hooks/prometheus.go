package hooks

import (
	"time"

	"github.com/spmdbench/spmdbench/internal/harness"
	"github.com/spmdbench/spmdbench/internal/metrics"
)

// Phase labels recorded by the Prometheus hook
const (
	PhaseSetup  = "setup"
	PhaseKernel = "kernel"
)

// Prometheus exports per-repetition phase durations. It emits no results.
type Prometheus struct {
	harness.NopHook

	name  string
	start time.Time
	now   func() time.Time
}

// NewPrometheus creates a phase duration exporter
func NewPrometheus() *Prometheus {
	return &Prometheus{now: time.Now}
}

func (p *Prometheus) SetBenchmarkName(name string) { p.name = name }

func (p *Prometheus) PreSetup() { p.start = p.now() }

func (p *Prometheus) PostSetup() {
	metrics.RecordPhase(p.name, PhaseSetup, p.now().Sub(p.start))
}

func (p *Prometheus) PreKernel() { p.start = p.now() }

func (p *Prometheus) PostKernel() {
	metrics.RecordPhase(p.name, PhaseKernel, p.now().Sub(p.start))
}
