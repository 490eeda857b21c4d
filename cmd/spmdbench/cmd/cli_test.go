package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spmdbench/spmdbench/internal/config"
	"github.com/spmdbench/spmdbench/internal/harness"
	"github.com/spmdbench/spmdbench/internal/storage"
)

// testMu serializes tests because flags bind package-level variables
var testMu sync.Mutex

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	testMu.Lock()
	defer testMu.Unlock()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "results.csv")
	dbPath := filepath.Join(dir, "runs.db")

	out, err := executeCommand(t, "run",
		"--size", "64",
		"--local", "16",
		"--num-runs", "2",
		"--select", "VectorAddition_float32,Matmul_float32",
		"--csv", csvPath,
		"--database", dbPath,
		"--rank", "0",
		"--world-size", "1",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, want := range []string{
		"********** Results for VectorAddition_float32 **********",
		"********** Results for Matmul_float32 **********",
		"Verification:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q:\n%s", want, out)
		}
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("csv not written: %v", err)
	}
	if !strings.Contains(string(data), "Matmul_float32") {
		t.Errorf("csv missing Matmul_float32:\n%s", data)
	}

	out, err = executeCommand(t, "results", "list", "-o", "json", "--database", dbPath, "--log-level", "error")
	if err != nil {
		t.Fatalf("results list failed: %v", err)
	}
	var runs []storage.Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Benchmark != "Matmul_float32" {
		t.Errorf("newest run = %s, want Matmul_float32", runs[0].Benchmark)
	}
	if runs[0].Verification != "PASS" {
		t.Errorf("verification = %s, want PASS", runs[0].Verification)
	}
	if runs[0].ProblemSize != 64 {
		t.Errorf("problem size = %d, want 64", runs[0].ProblemSize)
	}

	id := runs[0].ID
	out, err = executeCommand(t, "results", "get", id, "--database", dbPath, "--log-level", "error")
	if err != nil {
		t.Fatalf("results get failed: %v", err)
	}
	if !strings.Contains(out, "Matmul_float32") || !strings.Contains(out, "run-time-mean [s]") {
		t.Errorf("unexpected get output:\n%s", out)
	}

	out, err = executeCommand(t, "results", "delete", id, "--database", dbPath, "--log-level", "error")
	if err != nil {
		t.Fatalf("results delete failed: %v", err)
	}
	if !strings.Contains(out, "Deleted run "+id) {
		t.Errorf("unexpected delete output: %s", out)
	}

	_, err = executeCommand(t, "results", "get", id, "--database", dbPath, "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Errorf("expected run not found, got %v", err)
	}
}

func TestRun_CSVFlagDescribesOverwrite(t *testing.T) {
	t.Parallel()
	flag := newRunCmd().Flags().Lookup("csv")
	if flag == nil {
		t.Fatal("csv flag not defined")
	}
	if strings.Contains(flag.Usage, "Append") || !strings.Contains(flag.Usage, "overwriting") {
		t.Errorf("csv usage = %q", flag.Usage)
	}
}

func TestRun_UnknownBenchmark(t *testing.T) {
	_, err := executeCommand(t, "run",
		"--select", "NoSuchBenchmark",
		"--database", filepath.Join(t.TempDir(), "runs.db"),
		"--rank", "0",
		"--world-size", "1",
		"--log-level", "error",
	)
	if err == nil || !strings.Contains(err.Error(), "unknown benchmarks: NoSuchBenchmark") {
		t.Errorf("expected unknown benchmark error, got %v", err)
	}
}

func TestRun_NonMasterWritesNothing(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "results.csv")

	out, err := executeCommand(t, "run",
		"--size", "32",
		"--local", "8",
		"--num-runs", "1",
		"--select", "VectorAddition_int32",
		"--csv", csvPath,
		"--database", filepath.Join(dir, "runs.db"),
		"--rank", "1",
		"--world-size", "2",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "" {
		t.Errorf("non-master printed results:\n%s", out)
	}
	if _, err := os.Stat(csvPath); !os.IsNotExist(err) {
		t.Errorf("non-master created the csv file: %v", err)
	}
}

func TestList(t *testing.T) {
	out, err := executeCommand(t, "list", "-o", "json", "--log-level", "error")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	var infos []benchmarkInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(infos) == 0 || infos[0].Name != "VectorAddition_int32" {
		t.Fatalf("unexpected first entry: %+v", infos)
	}

	ndrange := 0
	for _, info := range infos {
		if info.NDRange {
			ndrange++
		}
	}
	if ndrange != 4 {
		t.Errorf("got %d ND-range entries, want 4", ndrange)
	}

	out, err = executeCommand(t, "list", "--log-level", "error")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.HasPrefix(out, "NAME") || !strings.Contains(out, "MicroBench_DRAM_float32") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := executeCommand(t, "list", "-o", "yaml")
	if err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("expected output format error, got %v", err)
	}
}

func TestConfigShow(t *testing.T) {
	t.Setenv("SPMDBENCH_SIZE", "128")

	out, err := executeCommand(t, "config", "show", "-o", "json", "--log-level", "error")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if cfg.Benchmark.Size != 128 {
		t.Errorf("size = %d, want 128", cfg.Benchmark.Size)
	}
	if cfg.Benchmark.Local != 256 {
		t.Errorf("local = %d, want 256", cfg.Benchmark.Local)
	}

	out, err = executeCommand(t, "config", "show", "--log-level", "error")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "Problem Size:") || !strings.Contains(out, "128") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestSummarize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		outcomes []harness.Outcome
		wantErr  string
	}{
		{name: "empty"},
		{
			name: "all completed",
			outcomes: []harness.Outcome{
				{Benchmark: "a", Status: harness.StatusCompleted},
				{Benchmark: "b", Status: harness.StatusSkipped},
			},
		},
		{
			name: "one failed",
			outcomes: []harness.Outcome{
				{Benchmark: "a", Status: harness.StatusFailed, Err: errors.New("boom")},
				{Benchmark: "b", Status: harness.StatusCompleted},
			},
			wantErr: "1 of 2 benchmarks failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := summarize(logger, tt.outcomes)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestOrDefault(t *testing.T) {
	t.Parallel()
	if got := orDefault("", "x"); got != "x" {
		t.Errorf("orDefault empty = %q", got)
	}
	if got := orDefault("a", "x"); got != "a" {
		t.Errorf("orDefault set = %q", got)
	}
}
