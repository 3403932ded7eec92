package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups of a single record by identity.
	ErrNotFound = errors.New("record not found")

	// ErrValidation marks malformed input rejected before the engine runs.
	ErrValidation = errors.New("validation failed")

	// ErrBenchmarkNotFound marks a missing tax or insurance reference row.
	ErrBenchmarkNotFound = errors.New("benchmark not found")

	// ErrEstimatorUnavailable marks a failing spec or value estimator.
	ErrEstimatorUnavailable = errors.New("estimator unavailable")
)

// BenchmarkNotFoundError names the reference table and key that had no match.
type BenchmarkNotFoundError struct {
	Table string
	Key   string
}

func (e *BenchmarkNotFoundError) Error() string {
	return fmt.Sprintf("no %s row for %s", e.Table, e.Key)
}

func (e *BenchmarkNotFoundError) Unwrap() error {
	return ErrBenchmarkNotFound
}

// NewBenchmarkNotFound builds a BenchmarkNotFoundError with a formatted key.
func NewBenchmarkNotFound(table, format string, args ...any) error {
	return &BenchmarkNotFoundError{Table: table, Key: fmt.Sprintf(format, args...)}
}
