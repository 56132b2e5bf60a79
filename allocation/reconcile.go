/*
reconcile.go - Conservation checking across pipeline stages

PURPOSE:
  After a run, verify that total value survived every stage transition:

    sum(spend) ~= sum(tower) ~= sum(solution) ~= sum(business)

  Each adjacent pair must agree within ReconcileTolerance (0.5% of the
  larger total). This is the mechanism that surfaces silently-unmapped
  value: a department with spend but no rules leaves a hole in the tower
  total that the band check catches.

READ-ONLY:
  Reconcile never mutates materialized data. A breach is advisory,
  surfaced to operators; it does not roll anything back.

UNALLOCATED BUCKET:
  Totals exclude the UNALLOCATED rows, on purpose. The bucket makes the
  dropped value visible (reported separately below), but counting it
  toward the stage total would mask exactly the divergence this check
  exists to catch.
*/
package allocation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileTolerance is the relative tolerance between adjacent stage
// totals: |a - b| <= 0.005 * max(a, b) passes.
var ReconcileTolerance = decimal.RequireFromString("0.005")

// Report is the outcome of one conservation check.
type Report struct {
	Org    OrgID
	Period Period

	// Per-stage totals, excluding UNALLOCATED rows.
	CostPoolTotal decimal.Decimal
	TowerTotal    decimal.Decimal
	SolutionTotal decimal.Decimal
	BusinessTotal decimal.Decimal

	// Value parked in the UNALLOCATED bucket at each stage.
	UnallocatedTower    decimal.Decimal
	UnallocatedSolution decimal.Decimal
	UnallocatedBusiness decimal.Decimal

	// WithinTolerance is true iff every adjacent pair of stage totals
	// agrees within ReconcileTolerance.
	WithinTolerance bool

	CheckedAt time.Time
}

// Breached reports whether the check found a conservation violation.
func (r *Report) Breached() bool { return !r.WithinTolerance }

// Reconcile computes stage totals for (org, period) from the spend ledger
// and the materialized store and returns the verdict. Read-only and
// side-effect-free.
func Reconcile(ctx context.Context, store Stores, org OrgID, period Period) (*Report, error) {
	report := &Report{Org: org, Period: period, CheckedAt: time.Now().UTC()}

	var err error
	report.CostPoolTotal, err = store.SpendTotal(ctx, org, period)
	if err != nil {
		return nil, err
	}

	report.TowerTotal, report.UnallocatedTower, err = stageTotal(ctx, store, org, period, StageTower)
	if err != nil {
		return nil, err
	}
	report.SolutionTotal, report.UnallocatedSolution, err = stageTotal(ctx, store, org, period, StageSolution)
	if err != nil {
		return nil, err
	}
	report.BusinessTotal, report.UnallocatedBusiness, err = stageTotal(ctx, store, org, period, StageBusiness)
	if err != nil {
		return nil, err
	}

	report.WithinTolerance = WithinBand(report.CostPoolTotal, report.TowerTotal) &&
		WithinBand(report.TowerTotal, report.SolutionTotal) &&
		WithinBand(report.SolutionTotal, report.BusinessTotal)

	return report, nil
}

// WithinBand checks two adjacent-stage totals against the 0.5% band.
// Exported because the handler's validation preview uses it too.
func WithinBand(a, b decimal.Decimal) bool {
	larger := a
	if b.GreaterThan(larger) {
		larger = b
	}
	return a.Sub(b).Abs().LessThanOrEqual(larger.Mul(ReconcileTolerance))
}

func stageTotal(ctx context.Context, store Stores, org OrgID, period Period, stage Stage) (total, unallocated decimal.Decimal, err error) {
	rows, err := store.ReadCosts(ctx, org, period, stage)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, row := range rows {
		if row.Target == UnallocatedTarget {
			unallocated = unallocated.Add(row.Amount)
			continue
		}
		total = total.Add(row.Amount)
	}
	return total, unallocated, nil
}
