package harness

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrDuplicateBenchmark = errors.New("duplicate benchmark name")
	ErrNotRunnable        = errors.New("benchmark has no run capability")
	ErrNilFactory         = errors.New("benchmark factory is nil")
)

// DuplicateNameError reports a benchmark name already used by the App
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("benchmark with name '%s' has already been run", e.Name)
}

func (e *DuplicateNameError) Unwrap() error {
	return ErrDuplicateBenchmark
}

// PanicError wraps a panic raised by a benchmark body
type PanicError struct {
	Benchmark string
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("benchmark %s panicked: %v", e.Benchmark, e.Value)
}

// Unwrap exposes a panicked error value
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
