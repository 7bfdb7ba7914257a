package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes callers branch on.
var (
	// ErrColdStart signals a customer with no usable history. Not a hard
	// failure: models fall back to the population prior and flag the
	// result low-confidence.
	ErrColdStart = errors.New("cold start: customer has no transaction history")

	// ErrNoActiveModel signals that scoring was requested before any
	// artifact was activated in the registry.
	ErrNoActiveModel = errors.New("no active model version")

	// ErrNotTrained signals a model scored before Fit was called.
	ErrNotTrained = errors.New("model has not been trained")
)

// DataError marks a malformed input record. Per-record errors are isolated:
// one bad record never aborts a batch run.
type DataError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *DataError) Error() string {
	return fmt.Sprintf("invalid record field '%s': %s", e.Field, e.Message)
}

// NewDataError creates a per-record data error.
func NewDataError(field, message string) *DataError {
	return &DataError{Field: field, Message: message}
}

// IsDataError reports whether err is a per-record data error.
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// SchemaMismatchError is returned when a model artifact's feature schema
// disagrees with the feature builder's output schema. Registration is
// rejected; scoring against an already-active mismatched artifact is fatal.
type SchemaMismatchError struct {
	Version  string   `json:"version"`
	Expected []string `json:"expected"`
	Got      []string `json:"got"`
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("model %s feature schema mismatch: expected %v, got %v",
		e.Version, e.Expected, e.Got)
}

// ConvergenceError is recorded when maximum-likelihood fitting fails to
// converge. Training does not hard-fail: the caller falls back to a
// closed-form moment-matching estimate and logs the run as degraded.
type ConvergenceError struct {
	Stage      string  `json:"stage"`
	Iterations int     `json:"iterations"`
	Delta      float64 `json:"delta"`
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s fit did not converge after %d iterations (delta=%g)",
		e.Stage, e.Iterations, e.Delta)
}

// TimeoutError is returned when an on-demand scoring call exceeds its latency
// budget. The call is aborted and reported, never silently truncated.
type TimeoutError struct {
	CustomerID string `json:"customer_id"`
	BudgetMS   int64  `json:"budget_ms"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scoring customer %s exceeded latency budget of %dms",
		e.CustomerID, e.BudgetMS)
}
