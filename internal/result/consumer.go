// Package result defines the sink that receives benchmark results and the
// concrete sinks the CLI wires together.
//
// A Consumer sees, per benchmark, one ProceedToBenchmark call, any number of
// ConsumeResult calls, and then either Flush (commit) or Discard (drop).
package result

// Consumer receives named results for one benchmark at a time.
type Consumer interface {
	// ProceedToBenchmark starts a new result block for the named benchmark.
	ProceedToBenchmark(name string)
	// ConsumeResult records one key/value pair in the current block.
	ConsumeResult(key, value string)
	// Discard drops everything recorded since the last ProceedToBenchmark.
	Discard()
	// Flush commits the current block.
	Flush() error
}

// Well-known result keys emitted by the harness.
const (
	KeyProblemSize  = "problem-size"
	KeyLocalSize    = "local-size"
	KeyBackend      = "backend"
	KeyNumRanks     = "num-ranks"
	KeyVerification = "Verification"
)

// Verification outcomes.
const (
	VerificationNA   = "N/A"
	VerificationPass = "PASS"
	VerificationFail = "FAIL"
)

// Pair is one recorded result.
type Pair struct {
	Key   string
	Value string
}

// block accumulates the results of the current benchmark. It is embedded by
// the buffering sinks.
type block struct {
	name    string
	pairs   []Pair
	started bool
}

func (b *block) proceed(name string) {
	b.name = name
	b.pairs = b.pairs[:0]
	b.started = true
}

func (b *block) add(key, value string) {
	b.pairs = append(b.pairs, Pair{Key: key, Value: value})
}

func (b *block) reset() {
	b.pairs = b.pairs[:0]
	b.started = false
}

func (b *block) lookup(key string) (string, bool) {
	for _, p := range b.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Nop discards everything.
type Nop struct{}

func (Nop) ProceedToBenchmark(string)   {}
func (Nop) ConsumeResult(string, string) {}
func (Nop) Discard()                     {}
func (Nop) Flush() error                 { return nil }
