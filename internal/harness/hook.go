package harness

import "github.com/spmdbench/spmdbench/internal/result"

// Hook observes the lifecycle of a benchmark execution. AtInit is called
// once per Manager.Run, the Pre/Post pairs once per executed repetition, and
// EmitResults once on the master rank after the last repetition.
type Hook interface {
	AtInit()
	PreSetup()
	PostSetup()
	PreKernel()
	PostKernel()
	EmitResults(consumer result.Consumer)
}

// NameAware hooks are told which benchmark they observe before AtInit
type NameAware interface {
	SetBenchmarkName(name string)
}

// NopHook implements Hook with no-ops for embedding
type NopHook struct{}

func (NopHook) AtInit()                    {}
func (NopHook) PreSetup()                  {}
func (NopHook) PostSetup()                 {}
func (NopHook) PreKernel()                 {}
func (NopHook) PostKernel()                {}
func (NopHook) EmitResults(result.Consumer) {}
