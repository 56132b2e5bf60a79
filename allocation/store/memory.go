// Package store provides an in-memory Stores implementation for tests
// and demos. State-restoring WithTx gives the same all-or-nothing
// semantics as the SQLite store's real transactions.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type spendKey struct {
	Org        allocation.OrgID
	Period     allocation.Period
	Department allocation.DepartmentID
}

type ruleKey struct {
	Org    allocation.OrgID
	Period allocation.Period
	Stage  allocation.Stage
	Source string
	Target string
}

type solutionKey struct {
	Org allocation.OrgID
	ID  allocation.SolutionID
}

type costKey struct {
	Org    allocation.OrgID
	Period allocation.Period
	Stage  allocation.Stage
}

type memState struct {
	spend     map[spendKey]allocation.SpendRecord
	rules     map[ruleKey]allocation.AllocationRule
	solutions map[solutionKey]allocation.Solution
	costs     map[costKey][]allocation.CostRow
	runs      []allocation.PipelineRun
}

type Memory struct {
	mu    sync.RWMutex
	state memState

	// ReplaceErr, when set, is consulted before every ReplaceCosts write.
	// Test hook for exercising all-or-nothing rollback.
	ReplaceErr func(stage allocation.Stage) error
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() memState {
	return memState{
		spend:     make(map[spendKey]allocation.SpendRecord),
		rules:     make(map[ruleKey]allocation.AllocationRule),
		solutions: make(map[solutionKey]allocation.Solution),
		costs:     make(map[costKey][]allocation.CostRow),
	}
}

func (s memState) clone() memState {
	c := memState{
		spend:     make(map[spendKey]allocation.SpendRecord, len(s.spend)),
		rules:     make(map[ruleKey]allocation.AllocationRule, len(s.rules)),
		solutions: make(map[solutionKey]allocation.Solution, len(s.solutions)),
		costs:     make(map[costKey][]allocation.CostRow, len(s.costs)),
		runs:      append([]allocation.PipelineRun(nil), s.runs...),
	}
	for k, v := range s.spend {
		c.spend[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.solutions {
		c.solutions[k] = v
	}
	for k, v := range s.costs {
		c.costs[k] = append([]allocation.CostRow(nil), v...)
	}
	return c
}

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

// WithTx runs fn against the live state while holding the write lock;
// on error the pre-transaction state is restored wholesale.
func (m *Memory) WithTx(_ context.Context, fn func(s allocation.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txMemory{m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txMemory is the Stores view handed to WithTx callbacks. The parent's
// lock is already held, so it delegates to the unlocked internals.
type txMemory struct {
	parent *Memory
}

// =============================================================================
// SPEND LEDGER
// =============================================================================

func (m *Memory) UpsertSpend(_ context.Context, rec allocation.SpendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertSpend(rec)
}

func (m *Memory) upsertSpend(rec allocation.SpendRecord) error {
	if rec.Amount.IsNegative() {
		return allocation.ErrNegativeAmount
	}
	m.state.spend[spendKey{rec.Org, rec.Period, rec.Department}] = rec
	return nil
}

func (m *Memory) DeleteSpend(_ context.Context, org allocation.OrgID, period allocation.Period, dept allocation.DepartmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.spend, spendKey{org, period, dept})
	return nil
}

func (m *Memory) ListSpend(_ context.Context, org allocation.OrgID, period allocation.Period) ([]allocation.SpendRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSpend(org, period), nil
}

func (m *Memory) listSpend(org allocation.OrgID, period allocation.Period) []allocation.SpendRecord {
	var recs []allocation.SpendRecord
	for k, rec := range m.state.spend {
		if k.Org == org && k.Period == period {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Department < recs[j].Department })
	return recs
}

func (m *Memory) SpendTotal(_ context.Context, org allocation.OrgID, period allocation.Period) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for k, rec := range m.state.spend {
		if k.Org == org && k.Period == period {
			total = total.Add(rec.Amount)
		}
	}
	return total, nil
}

// =============================================================================
// RULE STORE
// =============================================================================

func (m *Memory) UpsertRule(_ context.Context, r allocation.AllocationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := allocation.CheckRule(r); err != nil {
		return err
	}
	m.state.rules[ruleKey{r.Org, r.Period, r.Stage, r.Source, r.Target}] = r
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, source, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.rules, ruleKey{org, period, stage, source, target})
	return nil
}

func (m *Memory) ListRules(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.AllocationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rules []allocation.AllocationRule
	for k, r := range m.state.rules {
		if k.Org == org && k.Period == period && k.Stage == stage {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Source != rules[j].Source {
			return rules[i].Source < rules[j].Source
		}
		return rules[i].Target < rules[j].Target
	})
	return rules, nil
}

// =============================================================================
// SOLUTION STORE
// =============================================================================

func (m *Memory) UpsertSolution(_ context.Context, s allocation.Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.solutions[solutionKey{s.Org, s.ID}] = s
	return nil
}

func (m *Memory) DeleteSolution(_ context.Context, org allocation.OrgID, id allocation.SolutionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.solutions, solutionKey{org, id})
	return nil
}

func (m *Memory) GetSolution(_ context.Context, org allocation.OrgID, id allocation.SolutionID) (*allocation.Solution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.state.solutions[solutionKey{org, id}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListSolutions(_ context.Context, org allocation.OrgID) ([]allocation.Solution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sols []allocation.Solution
	for k, s := range m.state.solutions {
		if k.Org == org {
			sols = append(sols, s)
		}
	}
	sort.Slice(sols, func(i, j int) bool { return sols[i].ID < sols[j].ID })
	return sols, nil
}

// =============================================================================
// MATERIALIZATION STORE
// =============================================================================

func (m *Memory) ReplaceCosts(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, rows []allocation.CostRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceCosts(org, period, stage, rows)
}

func (m *Memory) replaceCosts(org allocation.OrgID, period allocation.Period, stage allocation.Stage, rows []allocation.CostRow) error {
	if m.ReplaceErr != nil {
		if err := m.ReplaceErr(stage); err != nil {
			return err
		}
	}
	m.state.costs[costKey{org, period, stage}] = append([]allocation.CostRow(nil), rows...)
	return nil
}

func (m *Memory) ReadCosts(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.CostRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readCosts(org, period, stage), nil
}

func (m *Memory) readCosts(org allocation.OrgID, period allocation.Period, stage allocation.Stage) []allocation.CostRow {
	rows := m.state.costs[costKey{org, period, stage}]
	return append([]allocation.CostRow(nil), rows...)
}

// =============================================================================
// RUN STORE
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run allocation.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveRun(run)
}

func (m *Memory) saveRun(run allocation.PipelineRun) error {
	for i := range m.state.runs {
		if m.state.runs[i].ID == run.ID {
			m.state.runs[i] = run
			return nil
		}
	}
	m.state.runs = append(m.state.runs, run)
	return nil
}

func (m *Memory) LatestRun(_ context.Context, org allocation.OrgID, period allocation.Period) (*allocation.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.state.runs) - 1; i >= 0; i-- {
		if m.state.runs[i].Org == org && m.state.runs[i].Period == period {
			run := m.state.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListRuns(_ context.Context, org allocation.OrgID) ([]allocation.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []allocation.PipelineRun
	for i := len(m.state.runs) - 1; i >= 0; i-- {
		if m.state.runs[i].Org == org {
			runs = append(runs, m.state.runs[i])
		}
	}
	return runs, nil
}

// =============================================================================
// TX VIEW - delegates to unlocked internals (parent lock already held)
// =============================================================================

func (t *txMemory) UpsertSpend(_ context.Context, rec allocation.SpendRecord) error {
	return t.parent.upsertSpend(rec)
}

func (t *txMemory) DeleteSpend(_ context.Context, org allocation.OrgID, period allocation.Period, dept allocation.DepartmentID) error {
	delete(t.parent.state.spend, spendKey{org, period, dept})
	return nil
}

func (t *txMemory) ListSpend(_ context.Context, org allocation.OrgID, period allocation.Period) ([]allocation.SpendRecord, error) {
	return t.parent.listSpend(org, period), nil
}

func (t *txMemory) SpendTotal(_ context.Context, org allocation.OrgID, period allocation.Period) (decimal.Decimal, error) {
	total := decimal.Zero
	for k, rec := range t.parent.state.spend {
		if k.Org == org && k.Period == period {
			total = total.Add(rec.Amount)
		}
	}
	return total, nil
}

func (t *txMemory) UpsertRule(_ context.Context, r allocation.AllocationRule) error {
	if err := allocation.CheckRule(r); err != nil {
		return err
	}
	t.parent.state.rules[ruleKey{r.Org, r.Period, r.Stage, r.Source, r.Target}] = r
	return nil
}

func (t *txMemory) DeleteRule(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, source, target string) error {
	delete(t.parent.state.rules, ruleKey{org, period, stage, source, target})
	return nil
}

func (t *txMemory) ListRules(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.AllocationRule, error) {
	var rules []allocation.AllocationRule
	for k, r := range t.parent.state.rules {
		if k.Org == org && k.Period == period && k.Stage == stage {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

func (t *txMemory) UpsertSolution(_ context.Context, s allocation.Solution) error {
	t.parent.state.solutions[solutionKey{s.Org, s.ID}] = s
	return nil
}

func (t *txMemory) DeleteSolution(_ context.Context, org allocation.OrgID, id allocation.SolutionID) error {
	delete(t.parent.state.solutions, solutionKey{org, id})
	return nil
}

func (t *txMemory) GetSolution(_ context.Context, org allocation.OrgID, id allocation.SolutionID) (*allocation.Solution, error) {
	s, ok := t.parent.state.solutions[solutionKey{org, id}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (t *txMemory) ListSolutions(_ context.Context, org allocation.OrgID) ([]allocation.Solution, error) {
	var sols []allocation.Solution
	for k, s := range t.parent.state.solutions {
		if k.Org == org {
			sols = append(sols, s)
		}
	}
	return sols, nil
}

func (t *txMemory) ReplaceCosts(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, rows []allocation.CostRow) error {
	return t.parent.replaceCosts(org, period, stage, rows)
}

func (t *txMemory) ReadCosts(_ context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.CostRow, error) {
	return t.parent.readCosts(org, period, stage), nil
}

func (t *txMemory) SaveRun(_ context.Context, run allocation.PipelineRun) error {
	return t.parent.saveRun(run)
}

func (t *txMemory) LatestRun(_ context.Context, org allocation.OrgID, period allocation.Period) (*allocation.PipelineRun, error) {
	for i := len(t.parent.state.runs) - 1; i >= 0; i-- {
		if t.parent.state.runs[i].Org == org && t.parent.state.runs[i].Period == period {
			run := t.parent.state.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

func (t *txMemory) ListRuns(_ context.Context, org allocation.OrgID) ([]allocation.PipelineRun, error) {
	var runs []allocation.PipelineRun
	for i := len(t.parent.state.runs) - 1; i >= 0; i-- {
		if t.parent.state.runs[i].Org == org {
			runs = append(runs, t.parent.state.runs[i])
		}
	}
	return runs, nil
}
