package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for BenchmarkOutcomes
const (
	OutcomePass      = "pass"
	OutcomeFail      = "fail"
	OutcomeNA        = "n/a"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
)

// HTTP request metrics for the results API
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Harness metrics
var (
	// BenchmarksStarted counts Manager.Run invocations by benchmark
	BenchmarksStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spmdbench_benchmarks_started_total",
			Help: "Total number of benchmark executions started by benchmark name",
		},
		[]string{"benchmark"},
	)

	// BenchmarkOutcomes counts finished executions by outcome
	BenchmarkOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spmdbench_benchmark_outcomes_total",
			Help: "Benchmark executions by benchmark name and outcome (pass, fail, n/a, error, duplicate)",
		},
		[]string{"benchmark", "outcome"},
	)

	// RepetitionsTotal counts executed repetitions
	RepetitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spmdbench_repetitions_total",
			Help: "Total number of executed repetitions by benchmark name",
		},
		[]string{"benchmark"},
	)

	// ResultsDiscarded counts result sets dropped after a failure
	ResultsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spmdbench_results_discarded_total",
			Help: "Total number of result sets discarded after a failed execution",
		},
		[]string{"benchmark"},
	)

	// PhaseDuration tracks per-repetition phase durations
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "spmdbench_phase_duration_seconds",
			Help: "Duration of benchmark lifecycle phases (setup, kernel) by benchmark name",
			// 10us to ~84s
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
		},
		[]string{"benchmark", "phase"},
	)

	// GPUPowerWatts tracks the last observed average GPU power during a kernel
	GPUPowerWatts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spmdbench_gpu_power_watts",
			Help: "Average GPU power draw observed during the last kernel by benchmark name",
		},
		[]string{"benchmark"},
	)
)

// RecordBenchmarkStarted increments the started counter
func RecordBenchmarkStarted(benchmark string) {
	BenchmarksStarted.WithLabelValues(benchmark).Inc()
}

// RecordOutcome increments the outcome counter
func RecordOutcome(benchmark, outcome string) {
	BenchmarkOutcomes.WithLabelValues(benchmark, outcome).Inc()
}

// RecordRepetition increments the repetition counter
func RecordRepetition(benchmark string) {
	RepetitionsTotal.WithLabelValues(benchmark).Inc()
}

// RecordDiscard increments the discarded result set counter
func RecordDiscard(benchmark string) {
	ResultsDiscarded.WithLabelValues(benchmark).Inc()
}

// RecordPhase observes a phase duration
func RecordPhase(benchmark, phase string, duration time.Duration) {
	PhaseDuration.WithLabelValues(benchmark, phase).Observe(duration.Seconds())
}

// SetGPUPower records the average GPU power of the last kernel
func SetGPUPower(benchmark string, watts float64) {
	GPUPowerWatts.WithLabelValues(benchmark).Set(watts)
}

// RecordHTTPRequest records the duration and increments the counter for an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
