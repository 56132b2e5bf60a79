/*
store.go - Persistence interfaces for the allocation pipeline

PURPOSE:
  Defines what the engine needs from storage without caring how it's
  implemented. Two implementations exist:
  - store/sqlite: production SQLite store
  - allocation/store: in-memory store for tests and demos

TRANSACTION SCOPE:
  The engine writes all three materialized stages inside one WithTx scope.
  The scope commits or rolls back on every exit path: a failure partway
  through leaves the previous materialized rows wholly intact, never a
  half-written stage.

OWNERSHIP:
  SpendRecords, AllocationRules and Solutions are inputs, written by data
  entry and read-only to the engine during a run. The materialized cost
  rows are exclusively owned by the pipeline for any period it has
  processed.
*/
package allocation

import (
	"context"

	"github.com/shopspring/decimal"
)

// SpendLedger holds raw per-period, per-department spend.
type SpendLedger interface {
	// UpsertSpend creates or replaces the record keyed by
	// (org, period, department).
	UpsertSpend(ctx context.Context, rec SpendRecord) error

	// DeleteSpend removes one record. Missing records are not an error.
	DeleteSpend(ctx context.Context, org OrgID, period Period, dept DepartmentID) error

	// ListSpend returns all spend for (org, period).
	ListSpend(ctx context.Context, org OrgID, period Period) ([]SpendRecord, error)

	// SpendTotal returns the period's total spend (the cost-pool total).
	SpendTotal(ctx context.Context, org OrgID, period Period) (decimal.Decimal, error)
}

// RuleStore holds allocation-rule percentages. Writes do not enforce the
// weight-sum invariant; that is a run-time precondition (rule.go).
type RuleStore interface {
	// UpsertRule creates or replaces the rule keyed by
	// (org, period, stage, source, target).
	UpsertRule(ctx context.Context, r AllocationRule) error

	// DeleteRule removes one rule. Missing rules are not an error.
	DeleteRule(ctx context.Context, org OrgID, period Period, stage Stage, source, target string) error

	// ListRules returns all rules for (org, period, stage).
	ListRules(ctx context.Context, org OrgID, period Period, stage Stage) ([]AllocationRule, error)
}

// SolutionStore holds the static solution -> business tag catalog.
type SolutionStore interface {
	UpsertSolution(ctx context.Context, s Solution) error
	DeleteSolution(ctx context.Context, org OrgID, id SolutionID) error
	GetSolution(ctx context.Context, org OrgID, id SolutionID) (*Solution, error)
	ListSolutions(ctx context.Context, org OrgID) ([]Solution, error)
}

// MaterializationStore persists each stage's computed output.
type MaterializationStore interface {
	// ReplaceCosts fully supersedes the existing rows for
	// (org, period, stage) with rows. Callers wanting atomicity across
	// stages wrap calls in WithTx.
	ReplaceCosts(ctx context.Context, org OrgID, period Period, stage Stage, rows []CostRow) error

	// ReadCosts returns the materialized rows for (org, period, stage).
	ReadCosts(ctx context.Context, org OrgID, period Period, stage Stage) ([]CostRow, error)
}

// RunStore records pipeline run lifecycles for auditing and for the
// dashboard's "authoritative unless failed" rule.
type RunStore interface {
	// SaveRun inserts or updates a run record keyed by its ID.
	SaveRun(ctx context.Context, run PipelineRun) error

	// LatestRun returns the most recent run for (org, period), or nil.
	LatestRun(ctx context.Context, org OrgID, period Period) (*PipelineRun, error)

	// ListRuns returns runs for an org, most recent first.
	ListRuns(ctx context.Context, org OrgID) ([]PipelineRun, error)
}

// Stores aggregates every persistence concern the pipeline touches.
type Stores interface {
	SpendLedger
	RuleStore
	SolutionStore
	MaterializationStore
	RunStore
}

// TxStore is implemented by stores that can scope writes to a
// transaction. fn receives a Stores view bound to the transaction;
// returning an error rolls everything back.
type TxStore interface {
	Stores
	WithTx(ctx context.Context, fn func(s Stores) error) error
}
