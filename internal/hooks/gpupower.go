// Package hooks contains instrumentation attached to benchmark executions.
package hooks

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spmdbench/spmdbench/internal/harness"
	"github.com/spmdbench/spmdbench/internal/metrics"
	"github.com/spmdbench/spmdbench/internal/result"
)

// DefaultSampleInterval is the default pause between two GPU readings
const DefaultSampleInterval = 100 * time.Millisecond

// sampleTimeout bounds the reading PostKernel takes for short kernels
const sampleTimeout = 5 * time.Second

// Result keys emitted by GPUPower
const (
	KeyGPUPowerMean  = "gpu-power-mean [W]"
	KeyGPUEnergy     = "gpu-energy [J]"
	KeyGPUUtilMean   = "gpu-utilization-mean [%]"
	KeyGPUMemoryPeak = "gpu-memory-peak [MiB]"
	KeyGPUSamples    = "gpu-samples"
)

// GPUPower samples GPU power, utilization and memory while kernels run.
// Sampling starts at PreKernel and is joined before PostKernel returns.
type GPUPower struct {
	sampler  Sampler
	interval time.Duration
	logger   *slog.Logger

	name        string
	samples     []GPUSample
	windowStart int
	kernelTime  time.Duration
	started     time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// GPUPowerOption configures a GPUPower hook
type GPUPowerOption func(*GPUPower)

// WithSampleInterval sets the pause between readings
func WithSampleInterval(d time.Duration) GPUPowerOption {
	return func(g *GPUPower) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithGPULogger sets the logger
func WithGPULogger(logger *slog.Logger) GPUPowerOption {
	return func(g *GPUPower) {
		g.logger = logger
	}
}

// NewGPUPower creates a GPU power hook reading from sampler
func NewGPUPower(sampler Sampler, opts ...GPUPowerOption) *GPUPower {
	g := &GPUPower{
		sampler:  sampler,
		interval: DefaultSampleInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ harness.Hook = (*GPUPower)(nil)
var _ harness.NameAware = (*GPUPower)(nil)

// SetBenchmarkName labels the exported gauge
func (g *GPUPower) SetBenchmarkName(name string) {
	g.name = name
}

// AtInit resets the readings. A sampler left running by a failed repetition
// of the previous benchmark is stopped.
func (g *GPUPower) AtInit() {
	g.stop()
	g.samples = nil
	g.kernelTime = 0
}

func (g *GPUPower) PreSetup()  {}
func (g *GPUPower) PostSetup() {}

// PreKernel starts the sampling goroutine
func (g *GPUPower) PreKernel() {
	g.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	readings := make(chan GPUSample, 16)

	g.mu.Lock()
	g.cancel = cancel
	g.done = done
	g.windowStart = len(g.samples)
	g.mu.Unlock()

	g.started = time.Now()

	go func() {
		defer close(readings)
		limiter := rate.NewLimiter(rate.Every(g.interval), 1)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			sample, ok := g.sampler.Sample(ctx)
			if ctx.Err() != nil {
				return
			}
			if ok {
				readings <- sample
			}
		}
	}()

	go func() {
		defer close(done)
		for s := range readings {
			g.mu.Lock()
			g.samples = append(g.samples, s)
			g.mu.Unlock()
		}
	}()
}

// PostKernel stops sampling and waits for the sampler to exit. A kernel
// shorter than one reading gets a single reading taken here.
func (g *GPUPower) PostKernel() {
	if !g.stop() {
		return
	}
	g.kernelTime += time.Since(g.started)

	g.mu.Lock()
	empty := len(g.samples) == g.windowStart
	g.mu.Unlock()
	if !empty {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()
	if sample, ok := g.sampler.Sample(ctx); ok {
		g.mu.Lock()
		g.samples = append(g.samples, sample)
		g.mu.Unlock()
	}
}

// stop cancels an active sampler and joins it. It reports whether one was running.
func (g *GPUPower) stop() bool {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// Close stops any active sampler
func (g *GPUPower) Close() error {
	g.stop()
	return nil
}

// EmitResults reports the aggregated readings or N/A when none were taken
func (g *GPUPower) EmitResults(consumer result.Consumer) {
	g.mu.Lock()
	samples := append([]GPUSample(nil), g.samples...)
	g.mu.Unlock()

	if len(samples) == 0 {
		for _, k := range []string{KeyGPUPowerMean, KeyGPUEnergy, KeyGPUUtilMean, KeyGPUMemoryPeak} {
			consumer.ConsumeResult(k, harness.NotAvailable)
		}
		consumer.ConsumeResult(KeyGPUSamples, "0")
		return
	}

	var utilSum, powerSum float64
	var powerCount, memPeak int
	for _, s := range samples {
		utilSum += s.UtilizationPct
		if s.PowerKnown {
			powerSum += s.PowerW
			powerCount++
		}
		if s.MemoryUsedMB > memPeak {
			memPeak = s.MemoryUsedMB
		}
	}

	if powerCount > 0 {
		meanPower := powerSum / float64(powerCount)
		consumer.ConsumeResult(KeyGPUPowerMean, formatFloat(meanPower))
		consumer.ConsumeResult(KeyGPUEnergy, formatFloat(meanPower*g.kernelTime.Seconds()))
		if g.name != "" {
			metrics.SetGPUPower(g.name, meanPower)
		}
	} else {
		consumer.ConsumeResult(KeyGPUPowerMean, harness.NotAvailable)
		consumer.ConsumeResult(KeyGPUEnergy, harness.NotAvailable)
	}
	consumer.ConsumeResult(KeyGPUUtilMean, formatFloat(utilSum/float64(len(samples))))
	consumer.ConsumeResult(KeyGPUMemoryPeak, strconv.Itoa(memPeak))
	consumer.ConsumeResult(KeyGPUSamples, strconv.Itoa(len(samples)))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
