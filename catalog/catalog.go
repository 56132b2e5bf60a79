/*
Package catalog defines reference data for the allocation pipeline:
named demo catalogs bundling departments, towers, solutions, spend and
rules for one org and period.

PURPOSE:
  The pipeline itself only needs the solution -> business tag mapping,
  which lives in the SolutionStore. This package exists for seeding:
  demo scenarios, tests and first-run setup all load a Catalog instead
  of hand-writing dozens of upserts.

CATALOGS:
  acme-q1:        The standard worked example. Two departments, weights
                  summing exactly to 1.0, full tower/solution/business
                  coverage. Reconciles cleanly.
  unmapped-spend: Same as acme-q1 plus a department with spend but no
                  outbound rules. Its value lands in UNALLOCATED and the
                  reconciliation check flags a breach.

SEE ALSO:
  - api/scenarios.go: HTTP surface for loading catalogs
*/
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
)

// Catalog is a self-contained data set for one (org, period).
type Catalog struct {
	Name        string
	Description string
	Org         allocation.OrgID
	Period      allocation.Period
	Solutions   []allocation.Solution
	Spend       []allocation.SpendRecord
	Rules       []allocation.AllocationRule
}

// Load writes the catalog's contents into the store. Existing rows for
// the same keys are upserted; nothing else is touched.
func (c Catalog) Load(ctx context.Context, store allocation.Stores) error {
	for _, s := range c.Solutions {
		if err := store.UpsertSolution(ctx, s); err != nil {
			return fmt.Errorf("loading catalog %q: %w", c.Name, err)
		}
	}
	for _, rec := range c.Spend {
		if err := store.UpsertSpend(ctx, rec); err != nil {
			return fmt.Errorf("loading catalog %q: %w", c.Name, err)
		}
	}
	for _, r := range c.Rules {
		if err := store.UpsertRule(ctx, r); err != nil {
			return fmt.Errorf("loading catalog %q: %w", c.Name, err)
		}
	}
	return nil
}

// ByName returns a registered catalog.
func ByName(name string) (Catalog, bool) {
	for _, c := range All() {
		if c.Name == name {
			return c, true
		}
	}
	return Catalog{}, false
}

// All returns every registered demo catalog.
func All() []Catalog {
	return []Catalog{AcmeQ1(), UnmappedSpend()}
}

// =============================================================================
// DEMO CATALOGS
// =============================================================================

const demoOrg allocation.OrgID = "acme"

func demoPeriod() allocation.Period {
	return allocation.NewPeriod(2026, time.January)
}

// AcmeQ1 is the standard worked example:
//
//	ENGINEERING 80000 -> APP_DEV 0.6, CLOUD 0.4
//	SALES       20000 -> APP_DEV 1.0
//
// expected tower costs APP_DEV 68000, CLOUD 32000, total 100000.
func AcmeQ1() Catalog {
	org := demoOrg
	period := demoPeriod()

	return Catalog{
		Name:        "acme-q1",
		Description: "Two departments, fully mapped; reconciles cleanly",
		Org:         org,
		Period:      period,
		Solutions: []allocation.Solution{
			{Org: org, ID: "CRM_PLATFORM", Name: "CRM Platform", BusinessTag: "SALES_OPS"},
			{Org: org, ID: "DATA_WAREHOUSE", Name: "Data Warehouse", BusinessTag: "ANALYTICS"},
			{Org: org, ID: "ECOMMERCE", Name: "E-Commerce Storefront", BusinessTag: "DIGITAL_CHANNELS"},
		},
		Spend: []allocation.SpendRecord{
			{Org: org, Period: period, Department: "ENGINEERING", Amount: allocation.MustParseDecimal("80000")},
			{Org: org, Period: period, Department: "SALES", Amount: allocation.MustParseDecimal("20000")},
		},
		Rules: []allocation.AllocationRule{
			{Org: org, Period: period, Stage: allocation.StageTower, Source: "ENGINEERING", Target: "APP_DEV", Percent: allocation.MustParseDecimal("0.6")},
			{Org: org, Period: period, Stage: allocation.StageTower, Source: "ENGINEERING", Target: "CLOUD", Percent: allocation.MustParseDecimal("0.4")},
			{Org: org, Period: period, Stage: allocation.StageTower, Source: "SALES", Target: "APP_DEV", Percent: allocation.MustParseDecimal("1.0")},

			{Org: org, Period: period, Stage: allocation.StageSolution, Source: "APP_DEV", Target: "CRM_PLATFORM", Percent: allocation.MustParseDecimal("0.5")},
			{Org: org, Period: period, Stage: allocation.StageSolution, Source: "APP_DEV", Target: "ECOMMERCE", Percent: allocation.MustParseDecimal("0.5")},
			{Org: org, Period: period, Stage: allocation.StageSolution, Source: "CLOUD", Target: "DATA_WAREHOUSE", Percent: allocation.MustParseDecimal("1.0")},
		},
	}
}

// UnmappedSpend extends AcmeQ1 with a department that has spend but no
// outbound rules. The 5000 lands in the UNALLOCATED tower bucket and the
// reconciliation check reports a breach (5000 / 105000 > 0.5%).
func UnmappedSpend() Catalog {
	c := AcmeQ1()
	c.Name = "unmapped-spend"
	c.Description = "A department with spend but no rules; reconciliation breaches"
	c.Spend = append(c.Spend, allocation.SpendRecord{
		Org:        c.Org,
		Period:     c.Period,
		Department: "FACILITIES",
		Amount:     allocation.MustParseDecimal("5000"),
	})
	return c
}
