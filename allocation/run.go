package allocation

import (
	"time"
)

// =============================================================================
// RUN LIFECYCLE
// =============================================================================

// RunStatus tracks a pipeline run through its state machine:
//
//	pending -> validating -> allocating -> materialized -> reconciled
//	                 \            \
//	                  +-> failed   +-> failed
//
// validating -> failed on a weight-sum violation (nothing written);
// allocating -> failed on a persistence error (all-or-nothing, previous
// rows intact). materialized -> reconciled only records the check
// outcome: a reconciliation breach is advisory and never fails a run.
type RunStatus string

const (
	RunPending      RunStatus = "pending"
	RunValidating   RunStatus = "validating"
	RunAllocating   RunStatus = "allocating"
	RunMaterialized RunStatus = "materialized"
	RunReconciled   RunStatus = "reconciled"
	RunFailed       RunStatus = "failed"
)

// Terminal reports whether the run is finished (successfully or not).
func (s RunStatus) Terminal() bool {
	return s == RunReconciled || s == RunFailed
}

// Authoritative reports whether materialized rows from this run may be
// trusted by readers. Dashboards must ignore periods whose latest run
// failed.
func (s RunStatus) Authoritative() bool {
	return s == RunMaterialized || s == RunReconciled
}

// PipelineRun is the persisted record of one pipeline execution.
type PipelineRun struct {
	ID     string
	Org    OrgID
	Period Period
	Status RunStatus
	Error  string
	Report *Report

	// InputDigest fingerprints the spend, rules and solutions the run
	// read. A later non-forced run with the same digest is skipped; any
	// input edit changes it and recomputes.
	InputDigest string

	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunSummary is what a pipeline invocation returns to its caller.
type RunSummary struct {
	RunID          string
	Org            OrgID
	Period         Period
	Status         RunStatus
	StagesWritten  []Stage
	Reconciliation *Report
}

// RunOptions tunes a single invocation.
type RunOptions struct {
	// Force recomputes even when the latest run for the period already
	// reconciled the same inputs. Without it, such a run is returned
	// as-is; a period whose inputs changed recomputes either way.
	Force bool
}
