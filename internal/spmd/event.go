package spmd

import (
	"errors"
	"fmt"
	"time"
)

// ErrProfilingDisabled is returned by ProfilingInfo when the runtime was
// created without profiling.
var ErrProfilingDisabled = errors.New("profiling is not enabled")

// TaskPanicError wraps a panic raised inside submitted work
type TaskPanicError struct {
	Value any
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Event tracks one unit of submitted work.
type Event struct {
	profiling bool
	done      chan struct{}

	start time.Time
	end   time.Time
	err   error
}

func newEvent(profiling bool) *Event {
	return &Event{
		profiling: profiling,
		done:      make(chan struct{}),
	}
}

// completedEvent returns an event that is already finished with zero duration
func completedEvent(profiling bool) *Event {
	e := newEvent(profiling)
	now := time.Now()
	e.finish(now, now, nil)
	return e
}

func (e *Event) finish(start, end time.Time, err error) {
	e.start = start
	e.end = end
	e.err = err
	close(e.done)
}

// Wait blocks until the work finished and returns its error
func (e *Event) Wait() error {
	<-e.done
	return e.err
}

// Done reports whether the work finished
func (e *Event) Done() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// ProfilingInfo blocks until the work finished and returns its execution window
func (e *Event) ProfilingInfo() (start, end time.Time, err error) {
	<-e.done
	if !e.profiling {
		return time.Time{}, time.Time{}, ErrProfilingDisabled
	}
	return e.start, e.end, nil
}
