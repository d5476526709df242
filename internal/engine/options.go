package engine

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/solatis/critidx/internal/index"
	"github.com/solatis/critidx/internal/types"
)

var validate = validator.New()

// Options bound index generation and ratification for every group of a
// Manager.
type Options struct {
	// MaxLevel is the largest number of predicates combined into one
	// index entry per term.
	MaxLevel int `validate:"min=1,max=16"`

	// MaxCombinations caps the entries generated for one DNF term.
	MaxCombinations int `validate:"min=1,max=65536"`

	// RatifyWorkers bounds the requests checked in parallel by Ratify.
	RatifyWorkers int `validate:"min=1,max=1024"`

	// SampleCapacity is the number of searched requests remembered per group
	// for ratification. Zero disables sampling.
	SampleCapacity int `validate:"min=0,max=65536"`
}

// DefaultOptions returns the defaults used when no option is given.
func DefaultOptions() Options {
	return Options{
		MaxLevel:        types.DefaultMaxLevel,
		MaxCombinations: types.DefaultMaxCombinations,
		RatifyWorkers:   4,
		SampleCapacity:  128,
	}
}

// Validate checks the option bounds.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid engine options: %w", err)
	}
	return nil
}

func (o Options) indexOptions() index.Options {
	return index.Options{MaxLevel: o.MaxLevel, MaxCombinations: o.MaxCombinations}
}

// Option configures a Manager.
type Option func(*Manager)

// WithOptions replaces all bounds at once.
func WithOptions(opts Options) Option {
	return func(m *Manager) {
		m.opts = opts
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMaxLevel sets Options.MaxLevel.
func WithMaxLevel(n int) Option {
	return func(m *Manager) {
		m.opts.MaxLevel = n
	}
}

// WithMaxCombinations sets Options.MaxCombinations.
func WithMaxCombinations(n int) Option {
	return func(m *Manager) {
		m.opts.MaxCombinations = n
	}
}

// WithRatifyWorkers sets Options.RatifyWorkers.
func WithRatifyWorkers(n int) Option {
	return func(m *Manager) {
		m.opts.RatifyWorkers = n
	}
}

// WithSampleCapacity sets Options.SampleCapacity.
func WithSampleCapacity(n int) Option {
	return func(m *Manager) {
		m.opts.SampleCapacity = n
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
