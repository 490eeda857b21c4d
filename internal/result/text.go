package result

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Text prints one aligned block per flushed benchmark.
type Text struct {
	w   io.Writer
	cur block
}

// NewText creates a text sink writing to w
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) ProceedToBenchmark(name string) { t.cur.proceed(name) }

func (t *Text) ConsumeResult(key, value string) { t.cur.add(key, value) }

func (t *Text) Discard() { t.cur.reset() }

// Flush writes the current block. Flushing without a started block is a no-op.
func (t *Text) Flush() error {
	if !t.cur.started {
		return nil
	}
	defer t.cur.reset()

	if _, err := fmt.Fprintf(t.w, "********** Results for %s **********\n", t.cur.name); err != nil {
		return fmt.Errorf("failed to write result header: %w", err)
	}

	tw := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
	for _, p := range t.cur.pairs {
		fmt.Fprintf(tw, "%s:\t%s\n", p.Key, p.Value)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}
