package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spmdbench/spmdbench/internal/result"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FlagLookup answers whether a boolean command line flag was set
type FlagLookup interface {
	IsFlagSet(name string) bool
}

// Range is a multi-dimensional index window
type Range struct {
	Begin  []int
	Extent []int
}

// Size returns the number of elements in the window. An empty extent is size 0.
func (r Range) Size() int {
	if len(r.Extent) == 0 {
		return 0
	}
	size := 1
	for _, e := range r.Extent {
		if e <= 0 {
			return 0
		}
		size *= e
	}
	return size
}

// VerificationSetting controls whether and over which window results are checked
type VerificationSetting struct {
	Enabled bool
	Range   Range
}

// Active reports whether verification should run
func (v VerificationSetting) Active() bool {
	return v.Enabled && v.Range.Size() > 0
}

// ThroughputMetric is the amount of work one kernel execution performs
type ThroughputMetric struct {
	Value float64
	Unit  string
}

// Args is the immutable configuration handed to every benchmark instance
type Args struct {
	ProblemSize  int `validate:"min=1"`
	LocalSize    int `validate:"min=1"`
	NumRuns      int `validate:"min=1"`
	Verification VerificationSetting
	Results      result.Consumer `validate:"-"`
	Flags        FlagLookup      `validate:"-"`
}

// Validate checks the numeric arguments
func (a Args) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid benchmark arguments: %s", describeValidationError(err))
	}
	return nil
}

// IsFlagSet is nil-safe over Flags
func (a Args) IsFlagSet(name string) bool {
	return a.Flags != nil && a.Flags.IsFlagSet(name)
}

func describeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		field := toKebabCase(fe.Field())
		switch fe.Tag() {
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toKebabCase turns ProblemSize into problem-size to match the result keys
func toKebabCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
