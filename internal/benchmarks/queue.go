// Package benchmarks contains sample benchmark bodies driven by the harness.
// Their numeric work is deliberately simple; they exist so the harness can be
// exercised end to end on the local SPMD runtime.
package benchmarks

import (
	"context"

	"github.com/spmdbench/spmdbench/internal/spmd"
)

// Queue is the part of the runtime benchmark bodies submit work to
type Queue interface {
	Submit(ctx context.Context, fn func(ctx context.Context) error) *spmd.Event
	ParallelFor(ctx context.Context, n int, body func(i int)) *spmd.Event
	MasterTask(ctx context.Context, fn func(ctx context.Context) error) *spmd.Event
}

var _ Queue = (*spmd.Local)(nil)

// Number is the set of element types the typed benchmarks are built for
type Number interface {
	int32 | int64 | float32 | float64
}

func typeName[T Number]() string {
	var zero T
	switch any(zero).(type) {
	case int32:
		return "int32"
	case int64:
		return "int64"
	case float32:
		return "float32"
	default:
		return "float64"
	}
}

// checkOnMaster runs check on the master rank only. Other ranks report a pass.
func checkOnMaster(ctx context.Context, q Queue, check func() bool) (bool, error) {
	pass := true
	ev := q.MasterTask(ctx, func(context.Context) error {
		pass = check()
		return nil
	})
	if err := ev.Wait(); err != nil {
		return false, err
	}
	return pass, nil
}

const gibi = 1024.0 * 1024.0 * 1024.0
