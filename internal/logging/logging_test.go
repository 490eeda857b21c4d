package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	logger.Info("test message", "key", "value")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test message", logEntry["msg"])
	assert.Equal(t, "value", logEntry["key"])
	assert.Equal(t, "INFO", logEntry["level"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(Config{
		Level:  "info",
		Format: "text",
		Output: &buf,
	})

	logger.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestSetup_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{
		Level:  "warn",
		Format: "json",
		Output: &buf,
	})

	Debug(context.Background(), "hidden")
	Info(context.Background(), "hidden too")
	assert.Empty(t, buf.String())

	Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = WithBenchmark(ctx, "VectorAddition_float32")
	ctx = WithRepetition(ctx, 2)
	ctx = WithRank(ctx, 0)

	name, ok := ctx.Value(BenchmarkKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "VectorAddition_float32", name)

	rep, ok := ctx.Value(RepetitionKey).(int)
	assert.True(t, ok)
	assert.Equal(t, 2, rep)

	rank, ok := ctx.Value(RankKey).(int)
	assert.True(t, ok)
	assert.Equal(t, 0, rank)
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	ctx := WithBenchmark(context.Background(), "Matmul_float32")
	ctx = WithRepetition(ctx, 1)

	Info(ctx, "repetition finished")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &logEntry))

	assert.Equal(t, "repetition finished", logEntry["msg"])
	assert.Equal(t, "Matmul_float32", logEntry["benchmark"])
	assert.Equal(t, float64(1), logEntry["repetition"])
}

func TestContextHandler_AddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	ctx := WithRank(context.Background(), 3)
	logger.With("component", "harness").InfoContext(ctx, "test message")

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "test message", logEntry["msg"])
	assert.Equal(t, "harness", logEntry["component"])
	assert.Equal(t, float64(3), logEntry["rank"])
}
