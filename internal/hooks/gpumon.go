package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	// commandTimeout is the timeout for nvidia-smi execution
	commandTimeout = 5 * time.Second

	smiQuery = "--query-gpu=utilization.gpu,memory.used,memory.total,power.draw"
)

// GPUSample contains one reading across all visible GPUs
type GPUSample struct {
	UtilizationPct float64 // 0-100, averaged over GPUs
	MemoryUsedMB   int     // summed over GPUs
	MemoryTotalMB  int
	PowerW         float64 // summed over GPUs
	PowerKnown     bool
	At             time.Time
}

// Sampler reads the current GPU state. ok is false when no reading is
// available; that is not an error.
type Sampler interface {
	Sample(ctx context.Context) (sample GPUSample, ok bool)
}

// commandRunner executes a command and returns its stdout
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// SMIMonitor samples GPU statistics via nvidia-smi
type SMIMonitor struct {
	logger *slog.Logger
	run    commandRunner
	now    func() time.Time
}

// NewSMIMonitor creates a new nvidia-smi sampler
func NewSMIMonitor(logger *slog.Logger) *SMIMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMIMonitor{
		logger: logger,
		run:    execRunner,
		now:    time.Now,
	}
}

// Sample retrieves current GPU statistics.
// If nvidia-smi is not available or fails, ok is false.
func (m *SMIMonitor) Sample(ctx context.Context) (GPUSample, bool) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	output, err := m.run(ctx, "nvidia-smi", smiQuery, "--format=csv,noheader,nounits")
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(err, exec.ErrNotFound):
			m.logger.Debug("nvidia-smi not found, GPU sampling unavailable")
		case errors.As(err, &exitErr):
			m.logger.Warn("nvidia-smi failed",
				slog.String("error", err.Error()),
				slog.String("stderr", string(exitErr.Stderr)))
		case ctx.Err() != nil:
			// Cancelled by the end of the kernel window or timed out
			m.logger.Debug("nvidia-smi interrupted", slog.String("error", ctx.Err().Error()))
		default:
			m.logger.Warn("nvidia-smi execution failed",
				slog.String("error", err.Error()))
		}
		return GPUSample{}, false
	}

	sample, err := parseOutput(string(output))
	if err != nil {
		m.logger.Warn("failed to parse nvidia-smi output",
			slog.String("error", err.Error()),
			slog.String("output", string(output)))
		return GPUSample{}, false
	}
	sample.At = m.now()

	return sample, true
}

// parseOutput parses nvidia-smi CSV output.
// Handles multiple GPUs by averaging utilization and summing memory and power.
func parseOutput(output string) (GPUSample, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")

	var totalUtil, totalPower float64
	var totalMemUsed, totalMemTotal int
	var gpuCount int
	powerKnown := true

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 4 {
			return GPUSample{}, fmt.Errorf("unexpected csv format: expected 4 fields, got %d", len(parts))
		}

		util, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return GPUSample{}, fmt.Errorf("failed to parse utilization: %w", err)
		}

		memUsed, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return GPUSample{}, fmt.Errorf("failed to parse memory used: %w", err)
		}

		memTotal, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return GPUSample{}, fmt.Errorf("failed to parse memory total: %w", err)
		}

		// Boards without power telemetry report "[N/A]" or "[Not Supported]"
		power, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil {
			powerKnown = false
		}

		totalUtil += util
		totalMemUsed += memUsed
		totalMemTotal += memTotal
		totalPower += power
		gpuCount++
	}

	if gpuCount == 0 {
		return GPUSample{}, errors.New("no GPU data found")
	}

	sample := GPUSample{
		UtilizationPct: totalUtil / float64(gpuCount),
		MemoryUsedMB:   totalMemUsed,
		MemoryTotalMB:  totalMemTotal,
		PowerKnown:     powerKnown,
	}
	if powerKnown {
		sample.PowerW = totalPower
	}
	return sample, nil
}
