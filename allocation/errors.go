/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the HTTP layer maps these
  to status codes.

ERROR CATEGORIES:
  1. Validation errors - weight sums outside tolerance, bad input
  2. Run errors        - concurrent runs, persistence failures
  3. Lookup errors     - missing records

Reconciliation breaches are deliberately NOT errors: a breach is an
advisory report state (see reconcile.go) and never fails a run.
*/
package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrWeightSum is returned when a source entity's outbound percentages
	// do not sum to 1.0 within tolerance. The run aborts before any write.
	ErrWeightSum = errors.New("allocation weights do not sum to 1.0")

	// ErrPersistence is returned when a materialized stage cannot be
	// written. The all-or-nothing guarantee means no stage was updated.
	ErrPersistence = errors.New("failed to persist materialized stage")

	// ErrRunInProgress is returned when a run for the same (org, period)
	// is already executing. Safe to retry once it completes.
	ErrRunInProgress = errors.New("pipeline run already in progress for period")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidPeriod is returned for a malformed period value.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrNegativeAmount is returned when spend is entered with a negative
	// amount. Spend is always non-negative.
	ErrNegativeAmount = errors.New("amount must be non-negative")

	// ErrInvalidPercent is returned when a rule percentage is outside [0, 1].
	ErrInvalidPercent = errors.New("percent must be between 0 and 1")

	// ErrInvalidStage is returned when a stage name is unknown, or a rule
	// names a stage that has no rule topology.
	ErrInvalidStage = errors.New("invalid stage")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// WeightSumError identifies the source entity whose rule set failed the
// sum check, with the computed sum so operators can see how far off it is.
type WeightSumError struct {
	Stage  Stage
	Source string
	Sum    decimal.Decimal
}

func (e *WeightSumError) Error() string {
	return fmt.Sprintf("weights for %s source %q sum to %s, want 1.0 (±%s)",
		e.Stage, e.Source, e.Sum, WeightTolerance)
}

func (e *WeightSumError) Unwrap() error {
	return ErrWeightSum
}

// PersistenceError identifies which stage's write failed. Because stages
// are written in a single transactional scope, the previous materialized
// rows for the period are still intact when this is returned.
type PersistenceError struct {
	Stage Stage
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s stage: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return ErrPersistence
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrWeightSum) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrInvalidPercent) ||
		errors.Is(err, ErrInvalidStage)
}

// IsConflict reports whether the error indicates contention that may
// succeed on retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRunInProgress)
}
