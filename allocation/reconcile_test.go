package allocation_test

import (
	"context"
	"testing"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
	"github.com/maddie-houseman/TVOTapp-sub001/allocation/store"
)

func TestWithinBand(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical totals", "100000", "100000", true},
		{"both zero", "0", "0", true},
		{"inside the band", "100000", "100490", true},
		{"at the band edge", "100000", "100500", true},
		{"outside the band", "100000", "100600", false},
		{"drift below", "100000", "99400", false},
		{"order independent", "100490", "100000", true},
		{"all value lost", "100000", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := allocation.WithinBand(dec(tt.a), dec(tt.b))
			if got != tt.want {
				t.Errorf("WithinBand(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// The band is relative to the LARGER of the two totals: 0.5% of 100500
// is 502.50, so a 500 gap passes against either ordering.
func TestWithinBand_RelativeToLarger(t *testing.T) {
	if !allocation.WithinBand(dec("100000"), dec("100500")) {
		t.Error("gap of exactly 0.5%% of the larger total must pass")
	}
	if allocation.WithinBand(dec("100000"), dec("100503")) {
		t.Error("gap past 0.5%% of the larger total must fail")
	}
}

func TestReconcile_ExcludesUnallocatedFromTotals(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	org := allocation.OrgID("acme")

	if err := mem.UpsertSpend(ctx, allocation.SpendRecord{
		Org: org, Period: testPeriod, Department: "ENGINEERING", Amount: dec("100000"),
	}); err != nil {
		t.Fatal(err)
	}

	rows := []allocation.CostRow{
		{Org: org, Period: testPeriod, Stage: allocation.StageTower, Target: "APP_DEV", Amount: dec("95000")},
		{Org: org, Period: testPeriod, Stage: allocation.StageTower, Target: allocation.UnallocatedTarget, Amount: dec("5000")},
	}
	if err := mem.ReplaceCosts(ctx, org, testPeriod, allocation.StageTower, rows); err != nil {
		t.Fatal(err)
	}

	report, err := allocation.Reconcile(ctx, mem, org, testPeriod)
	if err != nil {
		t.Fatal(err)
	}

	if !report.TowerTotal.Equal(dec("95000")) {
		t.Errorf("tower total: expected 95000, got %s", report.TowerTotal)
	}
	if !report.UnallocatedTower.Equal(dec("5000")) {
		t.Errorf("unallocated tower: expected 5000, got %s", report.UnallocatedTower)
	}
	if !report.Breached() {
		t.Error("a 5%% hole must breach the band even though the bucket accounts for it")
	}
	if report.CheckedAt.IsZero() {
		t.Error("CheckedAt not stamped")
	}
}

func TestReconcile_EmptyPeriodIsClean(t *testing.T) {
	mem := store.NewMemory()
	report, err := allocation.Reconcile(context.Background(), mem, "acme", testPeriod)
	if err != nil {
		t.Fatal(err)
	}
	if report.Breached() {
		t.Error("a period with no data has nothing to diverge")
	}
}
