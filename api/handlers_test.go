package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maddie-houseman/TVOTapp-sub001/store/sqlite"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store))
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func loadAcme(t *testing.T, router http.Handler) {
	t.Helper()
	rec := doRequest(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{Name: "acme-q1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("failed to load scenario: %d %s", rec.Code, rec.Body.String())
	}
}

// =============================================================================
// SPEND
// =============================================================================

func TestSpendEndpoints(t *testing.T) {
	router := newTestRouter(t)

	// GIVEN one upserted spend record
	rec := doRequest(t, router, "POST", "/api/orgs/acme/spend", UpsertSpendRequest{
		Period: "2026-01", Department: "ENGINEERING", Amount: "80000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	// WHEN listing the period
	rec = doRequest(t, router, "GET", "/api/orgs/acme/spend?period=2026-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	recs := decode[[]SpendDTO](t, rec)
	if len(recs) != 1 || recs[0].Department != "ENGINEERING" || recs[0].Amount != "80000" {
		t.Fatalf("unexpected records: %+v", recs)
	}

	// WHEN deleting it
	rec = doRequest(t, router, "DELETE", "/api/orgs/acme/spend/ENGINEERING?period=2026-01", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, router, "GET", "/api/orgs/acme/spend?period=2026-01", nil)
	if got := decode[[]SpendDTO](t, rec); len(got) != 0 {
		t.Fatalf("expected empty after delete, got %+v", got)
	}
}

func TestSpendRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	// Malformed period
	rec := doRequest(t, router, "POST", "/api/orgs/acme/spend", UpsertSpendRequest{
		Period: "January 2026", Department: "ENGINEERING", Amount: "1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad period: expected 400, got %d", rec.Code)
	}

	// Negative amount
	rec = doRequest(t, router, "POST", "/api/orgs/acme/spend", UpsertSpendRequest{
		Period: "2026-01", Department: "ENGINEERING", Amount: "-5",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount: expected 400, got %d", rec.Code)
	}

	// Missing period on list
	rec = doRequest(t, router, "GET", "/api/orgs/acme/spend", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing period: expected 400, got %d", rec.Code)
	}
}

// =============================================================================
// RULES
// =============================================================================

func TestRuleValidationPreview(t *testing.T) {
	router := newTestRouter(t)

	// GIVEN a half-entered rule set (0.6 of ENGINEERING placed)
	rec := doRequest(t, router, "POST", "/api/orgs/acme/rules", UpsertRuleRequest{
		Period: "2026-01", Stage: "tower", Source: "ENGINEERING", Target: "APP_DEV", Percent: "0.6",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert rule: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	// WHEN previewing validation
	rec = doRequest(t, router, "GET", "/api/orgs/acme/rules/validate?period=2026-01&stage=tower", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", rec.Code)
	}
	preview := decode[RuleValidationDTO](t, rec)
	if preview.Valid {
		t.Error("expected invalid while the set is half-entered")
	}
	if preview.Failing != "ENGINEERING" {
		t.Errorf("expected failing source ENGINEERING, got %q", preview.Failing)
	}
	if preview.Sums["ENGINEERING"] != "0.6" {
		t.Errorf("expected sum 0.6, got %q", preview.Sums["ENGINEERING"])
	}

	// WHEN the remaining 0.4 is entered
	doRequest(t, router, "POST", "/api/orgs/acme/rules", UpsertRuleRequest{
		Period: "2026-01", Stage: "tower", Source: "ENGINEERING", Target: "CLOUD", Percent: "0.4",
	})
	rec = doRequest(t, router, "GET", "/api/orgs/acme/rules/validate?period=2026-01&stage=tower", nil)
	preview = decode[RuleValidationDTO](t, rec)
	if !preview.Valid {
		t.Errorf("expected valid after completing the set: %+v", preview)
	}
}

func TestRuleUpsertDoesNotEnforceSum(t *testing.T) {
	router := newTestRouter(t)

	// Individual upserts may leave the set transiently broken; only a run
	// rejects that.
	rec := doRequest(t, router, "POST", "/api/orgs/acme/rules", UpsertRuleRequest{
		Period: "2026-01", Stage: "tower", Source: "ENGINEERING", Target: "APP_DEV", Percent: "0.25",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for partial weight, got %d", rec.Code)
	}

	// Per-row bounds still apply.
	rec = doRequest(t, router, "POST", "/api/orgs/acme/rules", UpsertRuleRequest{
		Period: "2026-01", Stage: "tower", Source: "ENGINEERING", Target: "CLOUD", Percent: "1.5",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for percent > 1, got %d", rec.Code)
	}
}

// =============================================================================
// PIPELINE
// =============================================================================

func TestRunPipelineHappyPath(t *testing.T) {
	router := newTestRouter(t)
	loadAcme(t, router)

	// WHEN triggering a run
	rec := doRequest(t, router, "POST", "/api/orgs/acme/pipeline/run", RunPipelineRequest{Period: "2026-01"})
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	summary := decode[RunSummaryDTO](t, rec)
	if summary.Status != "reconciled" {
		t.Fatalf("expected reconciled, got %q", summary.Status)
	}
	if summary.Reconciliation == nil || !summary.Reconciliation.WithinTolerance {
		t.Fatalf("expected clean reconciliation: %+v", summary.Reconciliation)
	}
	if summary.Reconciliation.BusinessTotal != "100000" {
		t.Errorf("expected business total 100000, got %q", summary.Reconciliation.BusinessTotal)
	}

	// THEN materialized costs are readable per stage
	rec = doRequest(t, router, "GET", "/api/orgs/acme/costs/tower?period=2026-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("costs: expected 200, got %d", rec.Code)
	}
	rows := decode[[]CostRowDTO](t, rec)
	if len(rows) != 2 {
		t.Fatalf("expected 2 tower rows, got %+v", rows)
	}
	amounts := map[string]string{}
	for _, row := range rows {
		amounts[row.Target] = row.Amount
	}
	if amounts["APP_DEV"] != "68000" || amounts["CLOUD"] != "32000" {
		t.Errorf("unexpected tower amounts: %+v", amounts)
	}

	// AND the run history records it
	rec = doRequest(t, router, "GET", "/api/orgs/acme/pipeline/runs/latest?period=2026-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("latest run: expected 200, got %d", rec.Code)
	}
	run := decode[RunDTO](t, rec)
	if run.ID != summary.RunID || run.Status != "reconciled" {
		t.Errorf("unexpected latest run: %+v", run)
	}
}

func TestRunPipelineWeightSumFailureIs422(t *testing.T) {
	router := newTestRouter(t)
	loadAcme(t, router)

	// Break the ENGINEERING tower group.
	doRequest(t, router, "POST", "/api/orgs/acme/rules", UpsertRuleRequest{
		Period: "2026-01", Stage: "tower", Source: "ENGINEERING", Target: "CLOUD", Percent: "0.37",
	})

	rec := doRequest(t, router, "POST", "/api/orgs/acme/pipeline/run", RunPipelineRequest{Period: "2026-01"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", rec.Code, rec.Body.String())
	}

	// The failure is recorded in the run history.
	rec = doRequest(t, router, "GET", "/api/orgs/acme/pipeline/runs/latest?period=2026-01", nil)
	run := decode[RunDTO](t, rec)
	if run.Status != "failed" || run.Error == "" {
		t.Errorf("expected a failed run with an error message, got %+v", run)
	}
}

func TestRunPipelineBadPeriodIs400(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(t, router, "POST", "/api/orgs/acme/pipeline/run", RunPipelineRequest{Period: "Q1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLatestRunWithoutHistoryIs404(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(t, router, "GET", "/api/orgs/acme/pipeline/runs/latest?period=2026-01", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconciliationEndpointFlagsUnmappedSpend(t *testing.T) {
	router := newTestRouter(t)

	// GIVEN the scenario with a department that has no outbound rules
	rec := doRequest(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{Name: "unmapped-spend"})
	if rec.Code != http.StatusOK {
		t.Fatalf("load scenario: %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, router, "POST", "/api/orgs/acme/pipeline/run", RunPipelineRequest{Period: "2026-01"})
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	// WHEN reading the reconciliation report
	rec = doRequest(t, router, "GET", "/api/orgs/acme/reconciliation?period=2026-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconciliation: expected 200, got %d", rec.Code)
	}
	report := decode[ReconciliationDTO](t, rec)
	if report.WithinTolerance {
		t.Error("expected a conservation breach")
	}
	if report.UnallocatedTower != "5000" {
		t.Errorf("expected 5000 unallocated at tower stage, got %q", report.UnallocatedTower)
	}

	// AND the bucket row is visible in the tower costs
	rec = doRequest(t, router, "GET", "/api/orgs/acme/costs/tower?period=2026-01", nil)
	rows := decode[[]CostRowDTO](t, rec)
	found := false
	for _, row := range rows {
		if row.Target == "UNALLOCATED" {
			found = true
			if row.Amount != "5000" {
				t.Errorf("expected UNALLOCATED 5000, got %q", row.Amount)
			}
		}
	}
	if !found {
		t.Error("expected an UNALLOCATED row in the tower stage")
	}
}

func TestCostsRejectsUnknownStage(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(t, router, "GET", "/api/orgs/acme/costs/department?period=2026-01", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarioEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, "GET", "/api/scenarios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	scenarios := decode[[]ScenarioDTO](t, rec)
	if len(scenarios) == 0 {
		t.Fatal("expected at least one scenario")
	}

	rec = doRequest(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{Name: "no-such-scenario"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown scenario: expected 404, got %d", rec.Code)
	}

	loadAcme(t, router)
	rec = doRequest(t, router, "POST", "/api/scenarios/reset", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("reset: expected 204, got %d", rec.Code)
	}
	rec = doRequest(t, router, "GET", "/api/orgs/acme/spend?period=2026-01", nil)
	if got := decode[[]SpendDTO](t, rec); len(got) != 0 {
		t.Errorf("expected empty spend after reset, got %+v", got)
	}
}
