package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("invalid url")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	// ErrInvalidMedia is returned when produced output fails the content gate.
	ErrInvalidMedia = errors.New("output is not valid media")
	// ErrNotApplicable marks a strategy that cannot serve the given source.
	ErrNotApplicable = errors.New("strategy not applicable")
)

// ValidationError is returned synchronously to a submitter; no job is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", ErrValidation, e.Reason) }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// StrategyError records one failed strategy attempt. It never escapes the
// chain on its own.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string { return fmt.Sprintf("%s: %v", e.Strategy, e.Err) }
func (e *StrategyError) Unwrap() error { return e.Err }

// ExhaustionError is the terminal failure of a job: every strategy failed.
type ExhaustionError struct {
	Attempts []*StrategyError
}

func (e *ExhaustionError) Error() string {
	if len(e.Attempts) == 0 {
		return "no retrieval strategy available"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return "all strategies failed: " + strings.Join(parts, "; ")
}

// Last returns the most recent meaningful failure, or nil.
func (e *ExhaustionError) Last() *StrategyError {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].Err != nil {
			return e.Attempts[i]
		}
	}
	return nil
}
