/*
Package allocation provides the core cost-allocation engine.

PURPOSE:
  This package contains the domain types and algorithms for the three-stage
  weighted redistribution of departmental spend:

    Cost Pool (department spend)
        -> Resource Tower   (stage 1: department x tower weights)
        -> Solution         (stage 2: tower x solution weights)
        -> Business Unit    (stage 3: group-by business tag)

  Everything is scoped by an owning organization and a reporting period
  (a calendar month). The engine reads spend and allocation rules, writes
  materialized cost rows per stage, and records a conservation check.

KEY CONCEPTS IN THIS FILE (types.go):
  - SpendRecord: raw per-period, per-department spend (pipeline input)
  - Solution: static classification entity carrying a business tag
  - CostRow: a materialized output row for one stage
  - Stage: which of the three materialized outputs a row belongs to

DESIGN PRINCIPLES:
  1. Precision: all amounts and percentages use decimal.Decimal; binary
     floats never touch money. Rounding happens once, at persistence,
     to 2 decimal places with round-half-even.
  2. Derived data is disposable: CostRows are destroyed and recomputed
     on every run, never hand-edited.
  3. Type safety: string-typed identifiers prevent mixing departments,
     towers and solutions.

SEE ALSO:
  - rule.go:      AllocationRule and weight-sum validation
  - engine.go:    The three-stage pipeline
  - reconcile.go: Conservation checking
  - store.go:     Persistence interfaces
*/
package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrgID string
type DepartmentID string
type TowerID string
type SolutionID string
type BusinessTag string

// UnallocatedTarget is the reserved bucket that receives source value with
// no outbound rule. It keeps dropped value visible instead of silently
// discarding it; reconciliation totals exclude it so a missing rule still
// surfaces as a tolerance breach.
const UnallocatedTarget = "UNALLOCATED"

// =============================================================================
// STAGES
// =============================================================================

// Stage identifies one of the three materialized outputs. The first two
// stages also identify which rule topology applies (department x tower,
// tower x solution); stage 3 is a pure regroup and has no rules.
type Stage string

const (
	StageTower    Stage = "tower"
	StageSolution Stage = "solution"
	StageBusiness Stage = "business"
)

// Stages lists the materialized stages in pipeline order.
func Stages() []Stage {
	return []Stage{StageTower, StageSolution, StageBusiness}
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	return s == StageTower || s == StageSolution || s == StageBusiness
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// MustParseDecimal parses a decimal string, panicking on failure. For
// trusted literals only (seed catalogs, test fixtures). Stored values go
// through decimal.NewFromString so corruption surfaces as an error, not
// as zeroed money.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid decimal literal %q: %v", s, err))
	}
	return d
}

// RoundCurrency rounds to 2 decimal places using round-half-even, the
// only rounding the pipeline ever performs. Applied at persistence only;
// intermediate accumulation keeps full precision.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// =============================================================================
// PIPELINE INPUT - Spend records (read-only to the engine)
// =============================================================================

// SpendRecord is one department's actual spend for one period.
// One record per (org, period, department); upserted by data entry.
type SpendRecord struct {
	Org        OrgID
	Period     Period
	Department DepartmentID
	Amount     decimal.Decimal
}

// =============================================================================
// CLASSIFICATION - Solutions (read-only to the engine)
// =============================================================================

// Solution is a named technology initiative that tower costs redistribute
// into. Its BusinessTag determines the stage-3 grouping; many solutions
// map into one business unit.
type Solution struct {
	Org         OrgID
	ID          SolutionID
	Name        string
	BusinessTag BusinessTag
}

// =============================================================================
// PIPELINE OUTPUT - Materialized cost rows
// =============================================================================

// CostRow is one materialized output row: the amount allocated to Target
// in the given stage for (org, period). One row per (org, period, stage,
// target). Entirely derived; replaced wholesale on every run.
type CostRow struct {
	Org    OrgID
	Period Period
	Stage  Stage
	Target string
	Amount decimal.Decimal
}
