package catalog_test

import (
	"context"
	"testing"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
	"github.com/maddie-houseman/TVOTapp-sub001/allocation/store"
	"github.com/maddie-houseman/TVOTapp-sub001/catalog"
)

func TestByName(t *testing.T) {
	c, ok := catalog.ByName("acme-q1")
	if !ok {
		t.Fatal("acme-q1 not registered")
	}
	if c.Org != "acme" {
		t.Errorf("unexpected org: %s", c.Org)
	}

	if _, ok := catalog.ByName("nope"); ok {
		t.Error("expected unknown name to miss")
	}
}

func TestLoadSeedsEverything(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	c, _ := catalog.ByName("acme-q1")
	if err := c.Load(ctx, mem); err != nil {
		t.Fatal(err)
	}

	spend, err := mem.ListSpend(ctx, c.Org, c.Period)
	if err != nil {
		t.Fatal(err)
	}
	if len(spend) != len(c.Spend) {
		t.Errorf("expected %d spend records, got %d", len(c.Spend), len(spend))
	}

	sols, err := mem.ListSolutions(ctx, c.Org)
	if err != nil {
		t.Fatal(err)
	}
	if len(sols) != len(c.Solutions) {
		t.Errorf("expected %d solutions, got %d", len(c.Solutions), len(sols))
	}

	for _, stage := range []allocation.Stage{allocation.StageTower, allocation.StageSolution} {
		rules, err := mem.ListRules(ctx, c.Org, c.Period, stage)
		if err != nil {
			t.Fatal(err)
		}
		if len(rules) == 0 {
			t.Errorf("expected %s rules", stage)
		}
		if err := allocation.ValidateRuleSet(stage, rules); err != nil {
			t.Errorf("demo catalog must carry valid weights: %v", err)
		}
	}
}

// Every registered catalog must load without error: bad demo data would
// otherwise surface as a runtime 500 on the scenarios endpoint.
func TestAllCatalogsLoad(t *testing.T) {
	for _, c := range catalog.All() {
		if err := c.Load(context.Background(), store.NewMemory()); err != nil {
			t.Errorf("catalog %q: %v", c.Name, err)
		}
	}
}
