// Package spmd provides an in-process SPMD runtime. Every rank runs the same
// program; work submitted to a rank executes on a bounded goroutine pool and
// Sync acts as the barrier that ends an epoch.
package spmd

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config configures a Local runtime
type Config struct {
	// Rank of this process; negative means detect from the launcher environment.
	Rank int
	// WorldSize is the number of ranks; zero means detect.
	WorldSize int
	// Workers bounds concurrent tasks; zero means GOMAXPROCS.
	Workers   int
	Profiling bool
}

// Local is an in-process runtime for a single rank.
type Local struct {
	rank      int
	worldSize int
	workers   int
	profiling bool
	logger    *slog.Logger

	mu    sync.Mutex
	group *errgroup.Group
	gctx  context.Context
	count int
}

// Option configures a Local runtime
type Option func(*Local)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) {
		l.logger = logger
	}
}

// NewLocal creates a runtime for this process
func NewLocal(cfg Config, opts ...Option) *Local {
	l := &Local{
		rank:      cfg.Rank,
		worldSize: cfg.WorldSize,
		workers:   cfg.Workers,
		profiling: cfg.Profiling,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.rank < 0 {
		l.rank = DetectRank()
	}
	if l.worldSize <= 0 {
		l.worldSize = DetectWorldSize()
	}
	if l.rank >= l.worldSize {
		l.worldSize = l.rank + 1
	}
	if l.workers <= 0 {
		l.workers = runtime.GOMAXPROCS(0)
	}

	l.logger.Debug("spmd runtime initialized",
		slog.Int("rank", l.rank),
		slog.Int("world_size", l.worldSize),
		slog.Int("workers", l.workers),
		slog.Bool("profiling", l.profiling))

	return l
}

// Rank returns this process's rank
func (l *Local) Rank() int { return l.rank }

// IsMaster reports whether this process is rank 0
func (l *Local) IsMaster() bool { return l.rank == 0 }

// WorldSize returns the number of ranks
func (l *Local) WorldSize() int { return l.worldSize }

// Workers returns the worker pool bound
func (l *Local) Workers() int { return l.workers }

// ProfilingEnabled reports whether events carry timestamps
func (l *Local) ProfilingEnabled() bool { return l.profiling }

// Backend identifies the runtime in results
func (l *Local) Backend() string {
	return fmt.Sprintf("spmd-local (%s/%s, %d workers)", runtime.GOOS, runtime.GOARCH, l.workers)
}

// Submit schedules fn on the worker pool. It blocks while the pool is full.
// fn sees ctx, cancelled early when another task of the epoch fails.
func (l *Local) Submit(ctx context.Context, fn func(ctx context.Context) error) *Event {
	g, gctx := l.epoch()
	ev := newEvent(l.profiling)

	g.Go(func() error {
		tctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(gctx, cancel)
		defer stop()

		start := time.Now()
		err := runTask(tctx, fn)
		ev.finish(start, time.Now(), err)
		return err
	})

	return ev
}

// ParallelFor runs body(i) for i in [0, n) split into contiguous chunks, one
// per worker, as a single event.
func (l *Local) ParallelFor(ctx context.Context, n int, body func(i int)) *Event {
	workers := l.workers
	return l.Submit(ctx, func(ctx context.Context) error {
		if n <= 0 {
			return nil
		}

		chunks := workers
		if chunks > n {
			chunks = n
		}
		size := (n + chunks - 1) / chunks

		var g errgroup.Group
		for lo := 0; lo < n; lo += size {
			lo, hi := lo, min(lo+size, n)
			g.Go(func() error {
				return runTask(ctx, func(context.Context) error {
					for i := lo; i < hi; i++ {
						body(i)
					}
					return nil
				})
			})
		}
		return g.Wait()
	})
}

// MasterTask runs fn only on the master rank. Other ranks get a completed event.
func (l *Local) MasterTask(ctx context.Context, fn func(ctx context.Context) error) *Event {
	if !l.IsMaster() {
		return completedEvent(l.profiling)
	}
	return l.Submit(ctx, fn)
}

// Sync waits for every task submitted since the last Sync and returns the
// first task error.
func (l *Local) Sync(ctx context.Context) error {
	l.mu.Lock()
	g := l.group
	count := l.count
	l.group = nil
	l.gctx = nil
	l.count = 0
	l.mu.Unlock()

	if g == nil {
		return nil
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("rank %d: %w", l.rank, err)
	}
	l.logger.Debug("sync complete", slog.Int("rank", l.rank), slog.Int("tasks", count))
	return nil
}

func (l *Local) epoch() (*errgroup.Group, context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.group == nil {
		l.group, l.gctx = errgroup.WithContext(context.Background())
		l.group.SetLimit(l.workers)
	}
	l.count++
	return l.group, l.gctx
}

func runTask(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskPanicError{Value: r}
		}
	}()
	return fn(ctx)
}
