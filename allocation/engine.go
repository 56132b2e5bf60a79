/*
engine.go - The three-stage allocation pipeline

PURPOSE:
  Executes, for one (org, period):

    Stage 1: SpendRecord.amount x percent(department -> tower)  -> TowerCost
    Stage 2: TowerCost          x percent(tower -> solution)    -> SolutionCost
    Stage 3: SolutionCost regrouped by Solution.businessTag     -> BusinessCost

  Stages 1 and 2 are proportional fan-out joins; contributions to the
  same target are summed. Stage 3 is a pure group-by-sum, no weighting.

RUN GUARANTEES:
  - Weights are validated before anything is written; a bad sum aborts
    the run with no writes at all.
  - All three stages are replaced inside one transaction: a persistence
    failure leaves the previous period's rows wholly intact.
  - Idempotent: re-running with unchanged inputs produces identical rows.
    A run whose inputs digest-match the latest reconciled run is skipped
    outright (unless forced); any edit to spend, rules or solutions since
    that run triggers a full recompute.
  - One run at a time per (org, period); different orgs and different
    periods run concurrently.

UNALLOCATED VALUE:
  A source with spend/cost but no outbound rule books its full value into
  the UNALLOCATED bucket of its stage's output. Downstream stages never
  re-allocate the bucket, so it marks exactly where value fell out of the
  chain. Reconciliation excludes it from totals (see reconcile.go).

PRECISION:
  Stage math carries full decimal precision; each stage feeds the next
  with unrounded totals. Rounding to 2dp (round-half-even) happens once,
  when rows are built for persistence.
*/
package allocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine runs the allocation pipeline against a transactional store.
type Engine struct {
	store TxStore

	mu     sync.Mutex
	active map[runKey]bool
}

type runKey struct {
	Org    OrgID
	Period Period
}

// NewEngine creates an engine bound to a store.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		store:  store,
		active: make(map[runKey]bool),
	}
}

// Run executes the pipeline for (org, period) to completion and returns
// a summary. See the package comment for failure semantics.
func (e *Engine) Run(ctx context.Context, org OrgID, period Period, opts RunOptions) (*RunSummary, error) {
	if err := e.acquire(org, period); err != nil {
		return nil, err
	}
	defer e.release(org, period)

	towerRules, err := e.store.ListRules(ctx, org, period, StageTower)
	if err != nil {
		return nil, err
	}
	solutionRules, err := e.store.ListRules(ctx, org, period, StageSolution)
	if err != nil {
		return nil, err
	}
	spend, err := e.store.ListSpend(ctx, org, period)
	if err != nil {
		return nil, err
	}
	solutions, err := e.store.ListSolutions(ctx, org)
	if err != nil {
		return nil, err
	}

	digest := inputDigest(spend, towerRules, solutionRules, solutions)

	// Skip only when the latest run reconciled these exact inputs. Any
	// edit to spend, rules or solutions since then changes the digest
	// and forces the recompute through.
	if !opts.Force {
		latest, err := e.store.LatestRun(ctx, org, period)
		if err != nil {
			return nil, err
		}
		if latest != nil && latest.Status == RunReconciled && latest.InputDigest == digest {
			return summaryOf(latest), nil
		}
	}

	run := PipelineRun{
		ID:          uuid.NewString(),
		Org:         org,
		Period:      period,
		Status:      RunPending,
		InputDigest: digest,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	// --- VALIDATING ---------------------------------------------------------

	if err := e.transition(ctx, &run, RunValidating); err != nil {
		return nil, err
	}

	if err := ValidateRuleSet(StageTower, towerRules); err != nil {
		return nil, e.fail(ctx, &run, err)
	}
	if err := ValidateRuleSet(StageSolution, solutionRules); err != nil {
		return nil, e.fail(ctx, &run, err)
	}

	// --- ALLOCATING ---------------------------------------------------------

	if err := e.transition(ctx, &run, RunAllocating); err != nil {
		return nil, err
	}

	pool := make(map[string]decimal.Decimal, len(spend))
	for _, rec := range spend {
		pool[string(rec.Department)] = pool[string(rec.Department)].Add(rec.Amount)
	}

	towerTotals, towerUnallocated := Distribute(pool, towerRules)
	solutionTotals, solutionUnallocated := Distribute(towerTotals, solutionRules)
	businessTotals, businessUnallocated := GroupByBusinessTag(solutionTotals, solutions)

	towerRows := buildRows(org, period, StageTower, towerTotals, towerUnallocated)
	solutionRows := buildRows(org, period, StageSolution, solutionTotals, solutionUnallocated)
	businessRows := buildRows(org, period, StageBusiness, businessTotals, businessUnallocated)

	// Last point where cancellation is honored; once the transactional
	// replace starts it runs to commit or rollback.
	if err := ctx.Err(); err != nil {
		return nil, e.fail(ctx, &run, err)
	}

	err = e.store.WithTx(ctx, func(s Stores) error {
		if err := s.ReplaceCosts(ctx, org, period, StageTower, towerRows); err != nil {
			return &PersistenceError{Stage: StageTower, Err: err}
		}
		if err := s.ReplaceCosts(ctx, org, period, StageSolution, solutionRows); err != nil {
			return &PersistenceError{Stage: StageSolution, Err: err}
		}
		if err := s.ReplaceCosts(ctx, org, period, StageBusiness, businessRows); err != nil {
			return &PersistenceError{Stage: StageBusiness, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, &run, err)
	}

	if err := e.transition(ctx, &run, RunMaterialized); err != nil {
		return nil, err
	}

	// --- RECONCILED ---------------------------------------------------------
	// The check only records its outcome: a breach is advisory and does
	// not roll back materialized data.

	report, err := Reconcile(ctx, e.store, org, period)
	if err != nil {
		return nil, e.fail(ctx, &run, err)
	}

	run.Report = report
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := e.transition(ctx, &run, RunReconciled); err != nil {
		return nil, err
	}

	return summaryOf(&run), nil
}

// inputDigest fingerprints every input the pipeline reads, so a run can
// tell whether anything changed since the last reconciled run. Only
// allocation-relevant fields participate (a solution rename does not
// invalidate materialized costs). Ordering is normalized here rather
// than trusting store ordering.
func inputDigest(spend []SpendRecord, towerRules, solutionRules []AllocationRule, solutions []Solution) string {
	spend = append([]SpendRecord(nil), spend...)
	sort.Slice(spend, func(i, j int) bool { return spend[i].Department < spend[j].Department })
	solutions = append([]Solution(nil), solutions...)
	sort.Slice(solutions, func(i, j int) bool { return solutions[i].ID < solutions[j].ID })

	h := sha256.New()
	for _, rec := range spend {
		fmt.Fprintf(h, "spend|%s|%s\n", rec.Department, rec.Amount)
	}
	for _, rules := range [][]AllocationRule{towerRules, solutionRules} {
		rules = append([]AllocationRule(nil), rules...)
		sort.Slice(rules, func(i, j int) bool {
			if rules[i].Source != rules[j].Source {
				return rules[i].Source < rules[j].Source
			}
			return rules[i].Target < rules[j].Target
		})
		for _, r := range rules {
			fmt.Fprintf(h, "rule|%s|%s|%s|%s\n", r.Stage, r.Source, r.Target, r.Percent)
		}
	}
	for _, s := range solutions {
		fmt.Fprintf(h, "solution|%s|%s\n", s.ID, s.BusinessTag)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// STAGE MATH - Pure functions
// =============================================================================

// Distribute performs one proportional fan-out: each source's value is
// split across its rules' targets by percent, and contributions to the
// same target are summed. Sources without any rule contribute their full
// value to the returned unallocated total instead. The input map must not
// contain the UNALLOCATED key (callers feed allocated totals only).
func Distribute(sources map[string]decimal.Decimal, rules []AllocationRule) (map[string]decimal.Decimal, decimal.Decimal) {
	bySource := RulesBySource(rules)
	targets := make(map[string]decimal.Decimal)
	unallocated := decimal.Zero

	for source, value := range sources {
		sourceRules, ok := bySource[source]
		if !ok {
			unallocated = unallocated.Add(value)
			continue
		}
		for _, r := range sourceRules {
			targets[r.Target] = targets[r.Target].Add(value.Mul(r.Percent))
		}
	}
	return targets, unallocated
}

// GroupByBusinessTag regroups solution totals by each solution's static
// business tag. Solutions missing from the catalog (or carrying an empty
// tag) go to the unallocated total.
func GroupByBusinessTag(solutionTotals map[string]decimal.Decimal, solutions []Solution) (map[string]decimal.Decimal, decimal.Decimal) {
	tagByID := make(map[string]BusinessTag, len(solutions))
	for _, s := range solutions {
		tagByID[string(s.ID)] = s.BusinessTag
	}

	totals := make(map[string]decimal.Decimal)
	unallocated := decimal.Zero
	for id, value := range solutionTotals {
		tag, ok := tagByID[id]
		if !ok || tag == "" {
			unallocated = unallocated.Add(value)
			continue
		}
		totals[string(tag)] = totals[string(tag)].Add(value)
	}
	return totals, unallocated
}

// buildRows turns a stage's totals into persisted rows: deterministic
// target order, currency rounding, and the UNALLOCATED bucket row when
// any value fell out at this stage.
func buildRows(org OrgID, period Period, stage Stage, totals map[string]decimal.Decimal, unallocated decimal.Decimal) []CostRow {
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]CostRow, 0, len(keys)+1)
	for _, k := range keys {
		rows = append(rows, CostRow{
			Org:    org,
			Period: period,
			Stage:  stage,
			Target: k,
			Amount: RoundCurrency(totals[k]),
		})
	}
	if unallocated.Sign() != 0 {
		rows = append(rows, CostRow{
			Org:    org,
			Period: period,
			Stage:  stage,
			Target: UnallocatedTarget,
			Amount: RoundCurrency(unallocated),
		})
	}
	return rows
}

// =============================================================================
// RUN BOOKKEEPING
// =============================================================================

func (e *Engine) acquire(org OrgID, period Period) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := runKey{Org: org, Period: period}
	if e.active[k] {
		return fmt.Errorf("%w: %s %s", ErrRunInProgress, org, period)
	}
	e.active[k] = true
	return nil
}

func (e *Engine) release(org OrgID, period Period) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, runKey{Org: org, Period: period})
}

func (e *Engine) transition(ctx context.Context, run *PipelineRun, status RunStatus) error {
	run.Status = status
	return e.store.SaveRun(ctx, *run)
}

// fail marks the run failed and returns the original error. The failure
// record itself is best-effort; the caller's error matters more.
func (e *Engine) fail(ctx context.Context, run *PipelineRun, cause error) error {
	run.Status = RunFailed
	run.Error = cause.Error()
	now := time.Now().UTC()
	run.CompletedAt = &now
	_ = e.store.SaveRun(ctx, *run)
	return cause
}

func summaryOf(run *PipelineRun) *RunSummary {
	summary := &RunSummary{
		RunID:          run.ID,
		Org:            run.Org,
		Period:         run.Period,
		Status:         run.Status,
		Reconciliation: run.Report,
	}
	if run.Status.Authoritative() {
		summary.StagesWritten = Stages()
	}
	return summary
}
