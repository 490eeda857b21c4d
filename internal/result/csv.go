package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CSV appends one row per flushed benchmark. A header row is written before
// the first row and again whenever the set of keys changes.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
	header []string
	cur    block
}

// NewCSV creates a CSV sink writing to w
func NewCSV(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

// OpenCSV creates (or truncates) the file at path and returns a sink writing to it
func OpenCSV(path string) (*CSV, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv output: %w", err)
	}

	c := NewCSV(f)
	c.closer = f
	return c, nil
}

func (c *CSV) ProceedToBenchmark(name string) { c.cur.proceed(name) }

func (c *CSV) ConsumeResult(key, value string) { c.cur.add(key, value) }

func (c *CSV) Discard() { c.cur.reset() }

// Flush writes the current block as a row
func (c *CSV) Flush() error {
	if !c.cur.started {
		return nil
	}
	defer c.cur.reset()

	header := make([]string, 0, len(c.cur.pairs)+1)
	row := make([]string, 0, len(c.cur.pairs)+1)
	header = append(header, "Benchmark name")
	row = append(row, c.cur.name)
	for _, p := range c.cur.pairs {
		header = append(header, p.Key)
		row = append(row, p.Value)
	}

	if !sameKeys(header, c.header) {
		if err := c.w.Write(header); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		c.header = header
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}

	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// Close closes the underlying file, if OpenCSV created it
func (c *CSV) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
