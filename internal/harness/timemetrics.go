package harness

import (
	"slices"
	"strconv"
	"time"

	"github.com/spmdbench/spmdbench/internal/result"
)

// NotAvailable is the value emitted for a metric that could not be measured
const NotAvailable = "N/A"

type timingSeries struct {
	name        string
	samples     []time.Duration
	unavailable bool
}

// TimeMetricsProcessor collects named duration series for one benchmark
// execution and reduces them into results.
type TimeMetricsProcessor struct {
	throughput *ThroughputMetric
	series     []*timingSeries
}

// NewTimeMetricsProcessor creates a processor. A nil throughput metric
// disables throughput results.
func NewTimeMetricsProcessor(throughput *ThroughputMetric) *TimeMetricsProcessor {
	return &TimeMetricsProcessor{throughput: throughput}
}

func (p *TimeMetricsProcessor) lookup(name string) *timingSeries {
	for _, s := range p.series {
		if s.name == name {
			return s
		}
	}
	s := &timingSeries{name: name}
	p.series = append(p.series, s)
	return s
}

// AddTimingResult appends one sample to the named series
func (p *TimeMetricsProcessor) AddTimingResult(name string, d time.Duration) {
	s := p.lookup(name)
	s.samples = append(s.samples, d)
}

// MarkUnavailable flags the named series so that every reduction reports N/A
func (p *TimeMetricsProcessor) MarkUnavailable(name string) {
	p.lookup(name).unavailable = true
}

// Samples returns a copy of the named series
func (p *TimeMetricsProcessor) Samples(name string) []time.Duration {
	for _, s := range p.series {
		if s.name == name {
			return slices.Clone(s.samples)
		}
	}
	return nil
}

// Names returns the series names in first-seen order
func (p *TimeMetricsProcessor) Names() []string {
	names := make([]string, len(p.series))
	for i, s := range p.series {
		names[i] = s.name
	}
	return names
}

// EmitResults writes the reductions of every series to consumer
func (p *TimeMetricsProcessor) EmitResults(consumer result.Consumer) {
	for _, s := range p.series {
		keys := p.keys(s.name)

		if s.unavailable {
			for _, k := range keys {
				consumer.ConsumeResult(k, NotAvailable)
			}
			continue
		}
		if len(s.samples) == 0 {
			continue
		}

		sum := Summarize(s.samples)
		consumer.ConsumeResult(s.name+"-mean [s]", formatSeconds(sum.Mean))
		consumer.ConsumeResult(s.name+"-stddev [s]", formatSeconds(sum.StdDev))
		consumer.ConsumeResult(s.name+"-median [s]", formatSeconds(sum.Median))
		consumer.ConsumeResult(s.name+"-min [s]", formatSeconds(sum.Min))
		consumer.ConsumeResult(s.name+"-max [s]", formatSeconds(sum.Max))
		consumer.ConsumeResult(s.name+"-samples", strconv.Itoa(sum.Count))

		if p.throughput != nil {
			value := NotAvailable
			if sum.Median > 0 {
				value = formatFloat(p.throughput.Value / sum.Median.Seconds())
			}
			consumer.ConsumeResult(p.throughputKey(s.name), value)
		}
	}
}

func (p *TimeMetricsProcessor) keys(name string) []string {
	keys := []string{
		name + "-mean [s]",
		name + "-stddev [s]",
		name + "-median [s]",
		name + "-min [s]",
		name + "-max [s]",
		name + "-samples",
	}
	if p.throughput != nil {
		keys = append(keys, p.throughputKey(name))
	}
	return keys
}

func (p *TimeMetricsProcessor) throughputKey(name string) string {
	return name + "-throughput [" + p.throughput.Unit + "/s]"
}

func formatSeconds(d time.Duration) string {
	return formatFloat(d.Seconds())
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
