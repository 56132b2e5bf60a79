/*
Package sqlite provides a SQLite-backed implementation of the allocation
storage interfaces.

PURPOSE:
  Implements allocation.Stores and allocation.TxStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  spend_records:    Raw per-period, per-department spend (pipeline input)
  allocation_rules: Weight percentages per (period, stage, source, target)
  solutions:        Static solution -> business tag catalog
  cost_rows:        Materialized per-stage outputs, replaced every run
  pipeline_runs:    Run lifecycle records with reconciliation reports

REPLACE SEMANTICS:
  cost_rows for a (org, period, stage) are superseded wholesale with
  DELETE + INSERT. The engine wraps all three stages in WithTx, so a
  failure partway leaves the previous rows wholly intact - readers never
  see a half-written stage.

DECIMALS:
  Amounts and percentages are stored as their decimal string form, never
  as REAL, so values round-trip exactly.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus WAL mode for concurrent
  readers. Per-(org, period) run exclusion lives in the engine; the store
  only guarantees transaction atomicity.

USAGE:
  store, err := sqlite.New("./data/tvot.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := allocation.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - allocation/store.go:        Interface definitions
  - allocation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
)

// Store implements allocation.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ allocation.TxStore = (*Store)(nil)

// dbtx is the subset of *sql.DB / *sql.Tx the query helpers need, so the
// same code serves both transactional and direct access.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers anyway; a single pooled connection avoids
	// SQLITE_BUSY and keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Raw departmental spend (pipeline input, one row per key)
	CREATE TABLE IF NOT EXISTS spend_records (
		org TEXT NOT NULL,
		period TEXT NOT NULL,
		department TEXT NOT NULL,
		amount TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (org, period, department)
	);

	CREATE INDEX IF NOT EXISTS idx_spend_org_period
		ON spend_records(org, period);

	-- Allocation weights. No sum constraint here: rule sets may be
	-- transiently incomplete mid-edit; the engine validates at run time.
	CREATE TABLE IF NOT EXISTS allocation_rules (
		org TEXT NOT NULL,
		period TEXT NOT NULL,
		stage TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		percent TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (org, period, stage, source, target)
	);

	CREATE INDEX IF NOT EXISTS idx_rules_org_period_stage
		ON allocation_rules(org, period, stage);

	-- Static solution catalog
	CREATE TABLE IF NOT EXISTS solutions (
		org TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		business_tag TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (org, id)
	);

	-- Materialized stage outputs. Exclusively owned by the pipeline:
	-- destroyed and recomputed per run, never hand-edited.
	CREATE TABLE IF NOT EXISTS cost_rows (
		org TEXT NOT NULL,
		period TEXT NOT NULL,
		stage TEXT NOT NULL,
		target TEXT NOT NULL,
		amount TEXT NOT NULL,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (org, period, stage, target)
	);

	CREATE INDEX IF NOT EXISTS idx_cost_rows_org_period_stage
		ON cost_rows(org, period, stage);

	-- Pipeline run lifecycle records
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		period TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		report_json TEXT,
		input_digest TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_org_period_started
		ON pipeline_runs(org, period, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status
		ON pipeline_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION SCOPE (allocation.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Commit on nil,
// rollback on any error exit.
func (s *Store) WithTx(ctx context.Context, fn func(st allocation.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the Stores view bound to one transaction.
type txStore struct {
	tx *sql.Tx
}

// =============================================================================
// SPEND LEDGER (allocation.SpendLedger)
// =============================================================================

func upsertSpend(ctx context.Context, db dbtx, rec allocation.SpendRecord) error {
	if rec.Amount.IsNegative() {
		return allocation.ErrNegativeAmount
	}

	query := `
		INSERT INTO spend_records (org, period, department, amount, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(org, period, department) DO UPDATE SET
			amount = excluded.amount,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		rec.Org, rec.Period.String(), rec.Department,
		rec.Amount.String(), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert spend: %w", err)
	}
	return nil
}

func listSpend(ctx context.Context, db dbtx, org allocation.OrgID, period allocation.Period) ([]allocation.SpendRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT org, period, department, amount FROM spend_records
		 WHERE org = ? AND period = ? ORDER BY department`,
		org, period.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query spend: %w", err)
	}
	defer rows.Close()

	var recs []allocation.SpendRecord
	for rows.Next() {
		var rec allocation.SpendRecord
		var periodStr, amount string
		if err := rows.Scan(&rec.Org, &periodStr, &rec.Department, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan spend: %w", err)
		}
		rec.Period, err = allocation.ParsePeriod(periodStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse spend period: %w", err)
		}
		rec.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse spend amount: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func spendTotal(ctx context.Context, db dbtx, org allocation.OrgID, period allocation.Period) (decimal.Decimal, error) {
	recs, err := listSpend(ctx, db, org, period)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, rec := range recs {
		total = total.Add(rec.Amount)
	}
	return total, nil
}

func (s *Store) UpsertSpend(ctx context.Context, rec allocation.SpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertSpend(ctx, s.db, rec)
}

func (s *Store) DeleteSpend(ctx context.Context, org allocation.OrgID, period allocation.Period, dept allocation.DepartmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM spend_records WHERE org = ? AND period = ? AND department = ?",
		org, period.String(), dept)
	return err
}

func (s *Store) ListSpend(ctx context.Context, org allocation.OrgID, period allocation.Period) ([]allocation.SpendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSpend(ctx, s.db, org, period)
}

func (s *Store) SpendTotal(ctx context.Context, org allocation.OrgID, period allocation.Period) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return spendTotal(ctx, s.db, org, period)
}

func (t *txStore) UpsertSpend(ctx context.Context, rec allocation.SpendRecord) error {
	return upsertSpend(ctx, t.tx, rec)
}

func (t *txStore) DeleteSpend(ctx context.Context, org allocation.OrgID, period allocation.Period, dept allocation.DepartmentID) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM spend_records WHERE org = ? AND period = ? AND department = ?",
		org, period.String(), dept)
	return err
}

func (t *txStore) ListSpend(ctx context.Context, org allocation.OrgID, period allocation.Period) ([]allocation.SpendRecord, error) {
	return listSpend(ctx, t.tx, org, period)
}

func (t *txStore) SpendTotal(ctx context.Context, org allocation.OrgID, period allocation.Period) (decimal.Decimal, error) {
	return spendTotal(ctx, t.tx, org, period)
}

// =============================================================================
// RULE STORE (allocation.RuleStore)
// =============================================================================

func upsertRule(ctx context.Context, db dbtx, r allocation.AllocationRule) error {
	if err := allocation.CheckRule(r); err != nil {
		return err
	}

	query := `
		INSERT INTO allocation_rules (org, period, stage, source, target, percent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org, period, stage, source, target) DO UPDATE SET
			percent = excluded.percent,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		r.Org, r.Period.String(), r.Stage, r.Source, r.Target,
		r.Percent.String(), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

func listRules(ctx context.Context, db dbtx, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.AllocationRule, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT org, period, stage, source, target, percent FROM allocation_rules
		 WHERE org = ? AND period = ? AND stage = ?
		 ORDER BY source, target`,
		org, period.String(), stage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []allocation.AllocationRule
	for rows.Next() {
		var r allocation.AllocationRule
		var periodStr, percent string
		if err := rows.Scan(&r.Org, &periodStr, &r.Stage, &r.Source, &r.Target, &percent); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Period, err = allocation.ParsePeriod(periodStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rule period: %w", err)
		}
		r.Percent, err = decimal.NewFromString(percent)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rule percent: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) UpsertRule(ctx context.Context, r allocation.AllocationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertRule(ctx, s.db, r)
}

func (s *Store) DeleteRule(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM allocation_rules WHERE org = ? AND period = ? AND stage = ? AND source = ? AND target = ?",
		org, period.String(), stage, source, target)
	return err
}

func (s *Store) ListRules(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.AllocationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRules(ctx, s.db, org, period, stage)
}

func (t *txStore) UpsertRule(ctx context.Context, r allocation.AllocationRule) error {
	return upsertRule(ctx, t.tx, r)
}

func (t *txStore) DeleteRule(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, source, target string) error {
	_, err := t.tx.ExecContext(ctx,
		"DELETE FROM allocation_rules WHERE org = ? AND period = ? AND stage = ? AND source = ? AND target = ?",
		org, period.String(), stage, source, target)
	return err
}

func (t *txStore) ListRules(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.AllocationRule, error) {
	return listRules(ctx, t.tx, org, period, stage)
}

// =============================================================================
// SOLUTION STORE (allocation.SolutionStore)
// =============================================================================

func upsertSolution(ctx context.Context, db dbtx, sol allocation.Solution) error {
	query := `
		INSERT INTO solutions (org, id, name, business_tag, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(org, id) DO UPDATE SET
			name = excluded.name,
			business_tag = excluded.business_tag
	`

	_, err := db.ExecContext(ctx, query,
		sol.Org, sol.ID, sol.Name, sol.BusinessTag, now())
	if err != nil {
		return fmt.Errorf("failed to upsert solution: %w", err)
	}
	return nil
}

func listSolutions(ctx context.Context, db dbtx, org allocation.OrgID) ([]allocation.Solution, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT org, id, name, business_tag FROM solutions WHERE org = ? ORDER BY id",
		org,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query solutions: %w", err)
	}
	defer rows.Close()

	var sols []allocation.Solution
	for rows.Next() {
		var sol allocation.Solution
		if err := rows.Scan(&sol.Org, &sol.ID, &sol.Name, &sol.BusinessTag); err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		sols = append(sols, sol)
	}
	return sols, rows.Err()
}

func getSolution(ctx context.Context, db dbtx, org allocation.OrgID, id allocation.SolutionID) (*allocation.Solution, error) {
	var sol allocation.Solution
	err := db.QueryRowContext(ctx,
		"SELECT org, id, name, business_tag FROM solutions WHERE org = ? AND id = ?",
		org, id,
	).Scan(&sol.Org, &sol.ID, &sol.Name, &sol.BusinessTag)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sol, nil
}

func (s *Store) UpsertSolution(ctx context.Context, sol allocation.Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertSolution(ctx, s.db, sol)
}

func (s *Store) DeleteSolution(ctx context.Context, org allocation.OrgID, id allocation.SolutionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM solutions WHERE org = ? AND id = ?", org, id)
	return err
}

func (s *Store) GetSolution(ctx context.Context, org allocation.OrgID, id allocation.SolutionID) (*allocation.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSolution(ctx, s.db, org, id)
}

func (s *Store) ListSolutions(ctx context.Context, org allocation.OrgID) ([]allocation.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSolutions(ctx, s.db, org)
}

func (t *txStore) UpsertSolution(ctx context.Context, sol allocation.Solution) error {
	return upsertSolution(ctx, t.tx, sol)
}

func (t *txStore) DeleteSolution(ctx context.Context, org allocation.OrgID, id allocation.SolutionID) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM solutions WHERE org = ? AND id = ?", org, id)
	return err
}

func (t *txStore) GetSolution(ctx context.Context, org allocation.OrgID, id allocation.SolutionID) (*allocation.Solution, error) {
	return getSolution(ctx, t.tx, org, id)
}

func (t *txStore) ListSolutions(ctx context.Context, org allocation.OrgID) ([]allocation.Solution, error) {
	return listSolutions(ctx, t.tx, org)
}

// =============================================================================
// MATERIALIZATION STORE (allocation.MaterializationStore)
// =============================================================================

func replaceCosts(ctx context.Context, db dbtx, org allocation.OrgID, period allocation.Period, stage allocation.Stage, costRows []allocation.CostRow) error {
	if _, err := db.ExecContext(ctx,
		"DELETE FROM cost_rows WHERE org = ? AND period = ? AND stage = ?",
		org, period.String(), stage); err != nil {
		return fmt.Errorf("failed to clear stage: %w", err)
	}

	computedAt := now()
	for _, row := range costRows {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO cost_rows (org, period, stage, target, amount, computed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			row.Org, row.Period.String(), row.Stage, row.Target,
			row.Amount.String(), computedAt); err != nil {
			return fmt.Errorf("failed to insert cost row: %w", err)
		}
	}
	return nil
}

func readCosts(ctx context.Context, db dbtx, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.CostRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT org, period, stage, target, amount FROM cost_rows
		 WHERE org = ? AND period = ? AND stage = ?
		 ORDER BY target`,
		org, period.String(), stage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost rows: %w", err)
	}
	defer rows.Close()

	var result []allocation.CostRow
	for rows.Next() {
		var row allocation.CostRow
		var periodStr, amount string
		if err := rows.Scan(&row.Org, &periodStr, &row.Stage, &row.Target, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan cost row: %w", err)
		}
		row.Period, err = allocation.ParsePeriod(periodStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cost row period: %w", err)
		}
		row.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cost row amount: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ReplaceCosts outside a WithTx scope still gets its own transaction so a
// single stage never ends up half-written.
func (s *Store) ReplaceCosts(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, costRows []allocation.CostRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := replaceCosts(ctx, sqlTx, org, period, stage, costRows); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) ReadCosts(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.CostRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readCosts(ctx, s.db, org, period, stage)
}

func (t *txStore) ReplaceCosts(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage, costRows []allocation.CostRow) error {
	return replaceCosts(ctx, t.tx, org, period, stage, costRows)
}

func (t *txStore) ReadCosts(ctx context.Context, org allocation.OrgID, period allocation.Period, stage allocation.Stage) ([]allocation.CostRow, error) {
	return readCosts(ctx, t.tx, org, period, stage)
}

// =============================================================================
// RUN STORE (allocation.RunStore)
// =============================================================================

const runColumns = "id, org, period, status, error, report_json, input_digest, started_at, completed_at"

func saveRun(ctx context.Context, db dbtx, run allocation.PipelineRun) error {
	var reportJSON sql.NullString
	if run.Report != nil {
		b, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		reportJSON = sql.NullString{String: string(b), Valid: true}
	}

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.Format(time.RFC3339Nano), Valid: true}
	}

	query := `
		INSERT INTO pipeline_runs (id, org, period, status, error, report_json, input_digest, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			report_json = excluded.report_json,
			completed_at = excluded.completed_at
	`

	_, err := db.ExecContext(ctx, query,
		run.ID, run.Org, run.Period.String(), run.Status, run.Error,
		reportJSON, run.InputDigest, run.StartedAt.Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]allocation.PipelineRun, error) {
	var runs []allocation.PipelineRun
	for rows.Next() {
		var run allocation.PipelineRun
		var periodStr, startedAt string
		var errMsg, reportJSON, completedAt sql.NullString
		if err := rows.Scan(&run.ID, &run.Org, &periodStr, &run.Status,
			&errMsg, &reportJSON, &run.InputDigest, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		period, err := allocation.ParsePeriod(periodStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run period: %w", err)
		}
		run.Period = period
		run.Error = errMsg.String
		run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run started_at: %w", err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse run completed_at: %w", err)
			}
			run.CompletedAt = &t
		}
		if reportJSON.Valid && reportJSON.String != "" {
			var report allocation.Report
			if err := json.Unmarshal([]byte(reportJSON.String), &report); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
			}
			run.Report = &report
		}

		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func latestRun(ctx context.Context, db dbtx, org allocation.OrgID, period allocation.Period) (*allocation.PipelineRun, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE org = ? AND period = ? ORDER BY started_at DESC LIMIT 1",
		org, period.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func listRuns(ctx context.Context, db dbtx, org allocation.OrgID) ([]allocation.PipelineRun, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE org = ? ORDER BY started_at DESC",
		org,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *Store) SaveRun(ctx context.Context, run allocation.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveRun(ctx, s.db, run)
}

func (s *Store) LatestRun(ctx context.Context, org allocation.OrgID, period allocation.Period) (*allocation.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestRun(ctx, s.db, org, period)
}

func (s *Store) ListRuns(ctx context.Context, org allocation.OrgID) ([]allocation.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRuns(ctx, s.db, org)
}

func (t *txStore) SaveRun(ctx context.Context, run allocation.PipelineRun) error {
	return saveRun(ctx, t.tx, run)
}

func (t *txStore) LatestRun(ctx context.Context, org allocation.OrgID, period allocation.Period) (*allocation.PipelineRun, error) {
	return latestRun(ctx, t.tx, org, period)
}

func (t *txStore) ListRuns(ctx context.Context, org allocation.OrgID) ([]allocation.PipelineRun, error) {
	return listRuns(ctx, t.tx, org)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"spend_records", "allocation_rules", "solutions", "cost_rows", "pipeline_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Orgs returns every org that has spend records, for the scheduler's
// nightly sweep. Orgs with only rules or solutions have nothing to
// allocate.
func (s *Store) Orgs(ctx context.Context) ([]allocation.OrgID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT org FROM spend_records ORDER BY org")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []allocation.OrgID
	for rows.Next() {
		var org allocation.OrgID
		if err := rows.Scan(&org); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// Periods returns the distinct periods with spend for an org, oldest
// first.
func (s *Store) Periods(ctx context.Context, org allocation.OrgID) ([]allocation.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT period FROM spend_records WHERE org = ? ORDER BY period", org)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []allocation.Period
	for rows.Next() {
		var periodStr string
		if err := rows.Scan(&periodStr); err != nil {
			return nil, err
		}
		p, err := allocation.ParsePeriod(periodStr)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
