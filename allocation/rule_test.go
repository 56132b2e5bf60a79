package allocation_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
)

func dec(s string) decimal.Decimal {
	return allocation.MustParseDecimal(s)
}

func towerRule(source, target, percent string) allocation.AllocationRule {
	return allocation.AllocationRule{
		Org:     "acme",
		Period:  allocation.NewPeriod(2026, 1),
		Stage:   allocation.StageTower,
		Source:  source,
		Target:  target,
		Percent: dec(percent),
	}
}

// =============================================================================
// WEIGHT-SUM VALIDATION
// =============================================================================

func TestValidateRuleSet_ExactSum(t *testing.T) {
	rules := []allocation.AllocationRule{
		towerRule("ENGINEERING", "APP_DEV", "0.6"),
		towerRule("ENGINEERING", "CLOUD", "0.4"),
		towerRule("SALES", "APP_DEV", "1.0"),
	}

	if err := allocation.ValidateRuleSet(allocation.StageTower, rules); err != nil {
		t.Fatalf("expected valid rule set, got %v", err)
	}
}

func TestValidateRuleSet_ToleranceBoundary(t *testing.T) {
	tests := []struct {
		name     string
		percents []string
		wantErr  bool
	}{
		{"exactly one", []string{"0.5", "0.5"}, false},
		{"just inside tolerance high", []string{"0.5", "0.50009"}, false},
		{"just inside tolerance low", []string{"0.5", "0.49991"}, false},
		{"at tolerance", []string{"0.5", "0.5001"}, false},
		{"just outside tolerance high", []string{"0.5", "0.50011"}, true},
		{"just outside tolerance low", []string{"0.5", "0.49989"}, true},
		{"way off", []string{"0.6", "0.37"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rules []allocation.AllocationRule
			for i, p := range tt.percents {
				target := "T" + string(rune('A'+i))
				rules = append(rules, towerRule("ENGINEERING", target, p))
			}

			err := allocation.ValidateRuleSet(allocation.StageTower, rules)
			if tt.wantErr && err == nil {
				t.Fatalf("expected weight sum error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if tt.wantErr && !errors.Is(err, allocation.ErrWeightSum) {
				t.Fatalf("expected ErrWeightSum, got %v", err)
			}
		})
	}
}

func TestValidateRuleSet_OneBadSourceFailsBatch(t *testing.T) {
	rules := []allocation.AllocationRule{
		towerRule("ENGINEERING", "APP_DEV", "0.6"),
		towerRule("ENGINEERING", "CLOUD", "0.4"),
		towerRule("SALES", "APP_DEV", "0.97"), // off by 3%
	}

	err := allocation.ValidateRuleSet(allocation.StageTower, rules)
	if err == nil {
		t.Fatal("expected error for SALES group")
	}

	var wse *allocation.WeightSumError
	if !errors.As(err, &wse) {
		t.Fatalf("expected *WeightSumError, got %T", err)
	}
	if wse.Source != "SALES" {
		t.Errorf("expected failing source SALES, got %q", wse.Source)
	}
	if !wse.Sum.Equal(dec("0.97")) {
		t.Errorf("expected reported sum 0.97, got %s", wse.Sum)
	}
}

// An incomplete rule set that still sums to 1.0 passes: validation
// checks the sum, not target cardinality.
func TestValidateRuleSet_IncompleteButSummingSetPasses(t *testing.T) {
	rules := []allocation.AllocationRule{
		towerRule("ENGINEERING", "APP_DEV", "0.6"),
		towerRule("ENGINEERING", "CLOUD", "0.4"),
		// third intended target never entered
	}

	if err := allocation.ValidateRuleSet(allocation.StageTower, rules); err != nil {
		t.Fatalf("expected leniency for incomplete-but-summing set, got %v", err)
	}
}

func TestValidateRuleSet_EmptySetPasses(t *testing.T) {
	if err := allocation.ValidateRuleSet(allocation.StageTower, nil); err != nil {
		t.Fatalf("empty rule set must be valid (nothing to allocate), got %v", err)
	}
}

func TestSumBySource(t *testing.T) {
	rules := []allocation.AllocationRule{
		towerRule("A", "X", "0.25"),
		towerRule("A", "Y", "0.75"),
		towerRule("B", "X", "1"),
	}

	sums := allocation.SumBySource(rules)
	if len(sums) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sums))
	}
	if !sums["A"].Equal(dec("1")) {
		t.Errorf("A: expected 1, got %s", sums["A"])
	}
	if !sums["B"].Equal(dec("1")) {
		t.Errorf("B: expected 1, got %s", sums["B"])
	}
}

// =============================================================================
// PER-ROW CHECKS
// =============================================================================

func TestCheckRule(t *testing.T) {
	good := towerRule("A", "X", "0.5")
	if err := allocation.CheckRule(good); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}

	negative := towerRule("A", "X", "-0.1")
	if err := allocation.CheckRule(negative); !errors.Is(err, allocation.ErrInvalidPercent) {
		t.Errorf("negative percent: expected ErrInvalidPercent, got %v", err)
	}

	over := towerRule("A", "X", "1.01")
	if err := allocation.CheckRule(over); !errors.Is(err, allocation.ErrInvalidPercent) {
		t.Errorf("percent > 1: expected ErrInvalidPercent, got %v", err)
	}

	business := towerRule("A", "X", "0.5")
	business.Stage = allocation.StageBusiness
	if err := allocation.CheckRule(business); !errors.Is(err, allocation.ErrInvalidStage) {
		t.Errorf("business-stage rule: expected ErrInvalidStage, got %v", err)
	}
}
