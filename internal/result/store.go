package result

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spmdbench/spmdbench/internal/storage"
)

// RunSaver persists a committed run
type RunSaver interface {
	SaveRun(ctx context.Context, run *storage.Run) error
}

// Store persists each flushed benchmark as a run in the result database.
type Store struct {
	saver    RunSaver
	hostname string
	timeout  time.Duration
	logger   *slog.Logger
	cur      block

	lastRunID string
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithHostname overrides the recorded hostname
func WithHostname(hostname string) StoreOption {
	return func(s *Store) {
		s.hostname = hostname
	}
}

// WithSaveTimeout bounds each SaveRun call
func WithSaveTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.timeout = d
	}
}

// NewStore creates a store-backed consumer
func NewStore(saver RunSaver, opts ...StoreOption) *Store {
	hostname, _ := os.Hostname()
	s := &Store{
		saver:    saver,
		hostname: hostname,
		timeout:  10 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ProceedToBenchmark(name string) { s.cur.proceed(name) }

func (s *Store) ConsumeResult(key, value string) { s.cur.add(key, value) }

func (s *Store) Discard() { s.cur.reset() }

// Flush saves the current block as a run
func (s *Store) Flush() error {
	if !s.cur.started {
		return nil
	}
	defer s.cur.reset()

	run := &storage.Run{
		Benchmark:    s.cur.name,
		Verification: VerificationNA,
		Hostname:     s.hostname,
		Results:      make([]storage.Result, 0, len(s.cur.pairs)),
	}
	if v, ok := s.cur.lookup(KeyVerification); ok {
		run.Verification = v
	}
	if v, ok := s.cur.lookup(KeyBackend); ok {
		run.Backend = v
	}
	run.ProblemSize = s.intResult(KeyProblemSize)
	run.LocalSize = s.intResult(KeyLocalSize)
	run.WorldSize = s.intResult(KeyNumRanks)

	for _, p := range s.cur.pairs {
		run.Results = append(run.Results, storage.Result{Key: p.Key, Value: p.Value})
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.saver.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to store results for %s: %w", run.Benchmark, err)
	}

	s.lastRunID = run.ID
	s.logger.Debug("stored benchmark run",
		slog.String("benchmark", run.Benchmark),
		slog.String("run_id", run.ID),
		slog.Int("results", len(run.Results)))
	return nil
}

// LastRunID returns the ID of the most recently stored run
func (s *Store) LastRunID() string {
	return s.lastRunID
}

func (s *Store) intResult(key string) int {
	v, ok := s.cur.lookup(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.logger.Warn("non-numeric result value",
			slog.String("key", key),
			slog.String("value", v))
		return 0
	}
	return n
}
