/*
rule.go - Allocation rules and weight-sum validation

PURPOSE:
  An AllocationRule says "this fraction of Source's value flows to Target
  in this period". Two rule topologies exist: department x tower (stage 1)
  and tower x solution (stage 2). Stage 3 has no rules; it regroups by
  business tag.

VALIDATION TIMING:
  Rule sets may be transiently incomplete while being edited, so the sum
  check is NOT a write-time constraint. ValidateRuleSet is a pure function
  the engine calls as a precondition at the top of every run ("edit
  freely, validate at run time").

KNOWN LENIENCY:
  Validation checks only the sum, not target cardinality: a source with
  two of its three intended targets that happens to sum to exactly 1.0
  passes. Sources with NO rules at all are not validated either - their
  value lands in the UNALLOCATED bucket (see engine.go).
*/
package allocation

import (
	"sort"

	"github.com/shopspring/decimal"
)

// WeightTolerance is the absolute tolerance on a source's percentage sum:
// |sum - 1.0| <= 0.0001 passes.
var WeightTolerance = decimal.RequireFromString("0.0001")

var one = decimal.NewFromInt(1)

// AllocationRule routes Percent of Source's value to Target for one
// period. Stage is StageTower (Source is a department, Target a tower) or
// StageSolution (Source is a tower, Target a solution).
type AllocationRule struct {
	Org     OrgID
	Period  Period
	Stage   Stage
	Source  string
	Target  string
	Percent decimal.Decimal
}

// CheckRule validates a single rule's fields for data entry. Note this is
// per-row sanity only; the sum invariant is checked by ValidateRuleSet at
// run time.
func CheckRule(r AllocationRule) error {
	if r.Stage != StageTower && r.Stage != StageSolution {
		return ErrInvalidStage
	}
	if r.Percent.IsNegative() || r.Percent.GreaterThan(one) {
		return ErrInvalidPercent
	}
	return nil
}

// =============================================================================
// WEIGHT-SUM VALIDATION
// =============================================================================

// SumBySource groups rules by source key and returns each source's
// percentage sum. Useful for validation UIs as well as the run check.
func SumBySource(rules []AllocationRule) map[string]decimal.Decimal {
	sums := make(map[string]decimal.Decimal)
	for _, r := range rules {
		sums[r.Source] = sums[r.Source].Add(r.Percent)
	}
	return sums
}

// ValidateRuleSet checks that every source's outbound percentages sum to
// 1.0 within WeightTolerance. Any group outside tolerance fails the whole
// batch: the engine must not partially allocate a source whose weights
// are invalid. Returns the first failing source (sorted for determinism)
// as a *WeightSumError, or nil if the set is usable.
func ValidateRuleSet(stage Stage, rules []AllocationRule) error {
	sums := SumBySource(rules)

	sources := make([]string, 0, len(sums))
	for src := range sums {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		if diff := sums[src].Sub(one).Abs(); diff.GreaterThan(WeightTolerance) {
			return &WeightSumError{Stage: stage, Source: src, Sum: sums[src]}
		}
	}
	return nil
}

// RulesBySource indexes a rule set by source key for the fan-out join.
func RulesBySource(rules []AllocationRule) map[string][]AllocationRule {
	bySource := make(map[string][]AllocationRule)
	for _, r := range rules {
		bySource[r.Source] = append(bySource[r.Source], r)
	}
	return bySource
}
