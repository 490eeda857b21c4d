package result

import "errors"

// Multi fans every call out to each of its consumers in order.
type Multi []Consumer

// NewMulti returns a consumer forwarding to all non-nil consumers
func NewMulti(consumers ...Consumer) Multi {
	m := make(Multi, 0, len(consumers))
	for _, c := range consumers {
		if c != nil {
			m = append(m, c)
		}
	}
	return m
}

func (m Multi) ProceedToBenchmark(name string) {
	for _, c := range m {
		c.ProceedToBenchmark(name)
	}
}

func (m Multi) ConsumeResult(key, value string) {
	for _, c := range m {
		c.ConsumeResult(key, value)
	}
}

func (m Multi) Discard() {
	for _, c := range m {
		c.Discard()
	}
}

// Flush flushes every consumer, even after a failure, and joins the errors
func (m Multi) Flush() error {
	var errs []error
	for _, c := range m {
		if err := c.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
