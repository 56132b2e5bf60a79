/*
handlers.go - HTTP API handlers for the cost allocation service

PURPOSE:
  Exposes the allocation pipeline via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Spend:
    GET    /api/orgs/{org}/spend?period=          List spend for a period
    POST   /api/orgs/{org}/spend                  Upsert a spend record
    DELETE /api/orgs/{org}/spend/{department}?period=

  Rules:
    GET    /api/orgs/{org}/rules?period=&stage=   List rules
    POST   /api/orgs/{org}/rules                  Upsert a rule (no sum check)
    DELETE /api/orgs/{org}/rules/{stage}/{source}/{target}?period=
    GET    /api/orgs/{org}/rules/validate?period=&stage=  Pure weight check

  Solutions:
    GET    /api/orgs/{org}/solutions              List solution catalog
    POST   /api/orgs/{org}/solutions              Upsert a solution
    DELETE /api/orgs/{org}/solutions/{id}

  Pipeline:
    POST   /api/orgs/{org}/pipeline/run           Trigger a run {period, force}
    GET    /api/orgs/{org}/pipeline/runs          Run history
    GET    /api/orgs/{org}/pipeline/runs/latest?period=
    GET    /api/orgs/{org}/reconciliation?period= Read-only conservation check
    GET    /api/orgs/{org}/costs/{stage}?period=  Materialized rows

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Bad input (period, amount, percent)
  - 404: Resource not found
  - 409: Run already in progress for the period
  - 422: Weight-sum validation failure
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
	"github.com/maddie-houseman/TVOTapp-sub001/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *allocation.Engine
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:  store,
		Engine: allocation.NewEngine(store),
	}
}

// =============================================================================
// SPEND HANDLERS
// =============================================================================

// ListSpend returns spend records for (org, period).
func (h *Handler) ListSpend(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	recs, err := h.Store.ListSpend(r.Context(), org, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list spend", err)
		return
	}

	dtos := make([]SpendDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = SpendDTO{
			Org:        string(rec.Org),
			Period:     rec.Period.String(),
			Department: string(rec.Department),
			Amount:     rec.Amount.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertSpend creates or replaces one department's spend.
func (h *Handler) UpsertSpend(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))

	var req UpsertSpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	period, err := allocation.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	rec := allocation.SpendRecord{
		Org:        org,
		Period:     period,
		Department: allocation.DepartmentID(req.Department),
		Amount:     amount,
	}
	if err := h.Store.UpsertSpend(r.Context(), rec); err != nil {
		writeDomainError(w, "Failed to save spend", err)
		return
	}

	writeJSON(w, http.StatusOK, SpendDTO{
		Org:        string(org),
		Period:     period.String(),
		Department: req.Department,
		Amount:     amount.String(),
	})
}

// DeleteSpend removes one department's spend for a period.
func (h *Handler) DeleteSpend(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	dept := allocation.DepartmentID(chi.URLParam(r, "department"))
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteSpend(r.Context(), org, period, dept); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete spend", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns allocation rules for (org, period, stage).
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	stage, ok := h.ruleStageParam(w, r)
	if !ok {
		return
	}

	rules, err := h.Store.ListRules(r.Context(), org, period, stage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = RuleDTO{
			Org:     string(rule.Org),
			Period:  rule.Period.String(),
			Stage:   string(rule.Stage),
			Source:  rule.Source,
			Target:  rule.Target,
			Percent: rule.Percent.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertRule creates or replaces one allocation rule. The weight-sum
// invariant is deliberately NOT checked here: rule sets may be edited
// freely and are validated when a run is attempted.
func (h *Handler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))

	var req UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	period, err := allocation.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	percent, err := decimal.NewFromString(req.Percent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid percent", err)
		return
	}

	rule := allocation.AllocationRule{
		Org:     org,
		Period:  period,
		Stage:   allocation.Stage(req.Stage),
		Source:  req.Source,
		Target:  req.Target,
		Percent: percent,
	}
	if err := h.Store.UpsertRule(r.Context(), rule); err != nil {
		writeDomainError(w, "Failed to save rule", err)
		return
	}

	writeJSON(w, http.StatusOK, RuleDTO{
		Org:     string(org),
		Period:  period.String(),
		Stage:   req.Stage,
		Source:  req.Source,
		Target:  req.Target,
		Percent: percent.String(),
	})
}

// DeleteRule removes one rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	stage := allocation.Stage(chi.URLParam(r, "stage"))
	source := chi.URLParam(r, "source")
	target := chi.URLParam(r, "target")
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	if err := h.Store.DeleteRule(r.Context(), org, period, stage, source, target); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateRules runs the pure weight-sum check and reports per-source
// sums without touching anything. Lets the UI preview what a run would
// reject.
func (h *Handler) ValidateRules(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}
	stage, ok := h.ruleStageParam(w, r)
	if !ok {
		return
	}

	rules, err := h.Store.ListRules(r.Context(), org, period, stage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dto := RuleValidationDTO{
		Period: period.String(),
		Stage:  string(stage),
		Valid:  true,
		Sums:   make(map[string]string),
	}
	for source, sum := range allocation.SumBySource(rules) {
		dto.Sums[source] = sum.String()
	}
	if err := allocation.ValidateRuleSet(stage, rules); err != nil {
		dto.Valid = false
		var wse *allocation.WeightSumError
		if errors.As(err, &wse) {
			dto.Failing = wse.Source
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SOLUTION HANDLERS
// =============================================================================

// ListSolutions returns the org's solution catalog.
func (h *Handler) ListSolutions(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))

	sols, err := h.Store.ListSolutions(r.Context(), org)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list solutions", err)
		return
	}

	dtos := make([]SolutionDTO, len(sols))
	for i, s := range sols {
		dtos[i] = SolutionDTO{
			Org:         string(s.Org),
			ID:          string(s.ID),
			Name:        s.Name,
			BusinessTag: string(s.BusinessTag),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertSolution creates or replaces a catalog entry.
func (h *Handler) UpsertSolution(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))

	var req UpsertSolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Solution id is required", nil)
		return
	}

	sol := allocation.Solution{
		Org:         org,
		ID:          allocation.SolutionID(req.ID),
		Name:        req.Name,
		BusinessTag: allocation.BusinessTag(req.BusinessTag),
	}
	if err := h.Store.UpsertSolution(r.Context(), sol); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save solution", err)
		return
	}

	writeJSON(w, http.StatusOK, SolutionDTO{
		Org:         string(org),
		ID:          req.ID,
		Name:        req.Name,
		BusinessTag: req.BusinessTag,
	})
}

// DeleteSolution removes a catalog entry.
func (h *Handler) DeleteSolution(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	id := allocation.SolutionID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteSolution(r.Context(), org, id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete solution", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PIPELINE HANDLERS
// =============================================================================

// RunPipeline triggers a pipeline run for (org, period).
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))

	var req RunPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := allocation.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	summary, err := h.Engine.Run(r.Context(), org, period, allocation.RunOptions{Force: req.Force})
	if err != nil {
		writeDomainError(w, "Pipeline run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunSummaryDTO(summary))
}

// ListRuns returns the org's run history, most recent first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))

	runs, err := h.Store.ListRuns(r.Context(), org)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LatestRun returns the latest run for (org, period), if any.
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	run, err := h.Store.LatestRun(r.Context(), org, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "No run for period", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// GetReconciliation runs the read-only conservation check against the
// currently materialized data. It never mutates anything.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	report, err := allocation.Reconcile(r.Context(), h.Store, org, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(report))
}

// GetCosts returns one stage's materialized rows. Rows are authoritative
// only for periods whose latest run did not fail; the caller can check
// the latest-run endpoint.
func (h *Handler) GetCosts(w http.ResponseWriter, r *http.Request) {
	org := allocation.OrgID(chi.URLParam(r, "org"))
	stage := allocation.Stage(chi.URLParam(r, "stage"))
	if !stage.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid stage", allocation.ErrInvalidStage)
		return
	}
	period, ok := h.periodParam(w, r)
	if !ok {
		return
	}

	rows, err := h.Store.ReadCosts(r.Context(), org, period, stage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read costs", err)
		return
	}

	dtos := make([]CostRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = CostRowDTO{Target: row.Target, Amount: row.Amount.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PARAM + RESPONSE HELPERS
// =============================================================================

func (h *Handler) periodParam(w http.ResponseWriter, r *http.Request) (allocation.Period, bool) {
	period, err := allocation.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid or missing period (want YYYY-MM)", err)
		return allocation.Period{}, false
	}
	return period, true
}

func (h *Handler) ruleStageParam(w http.ResponseWriter, r *http.Request) (allocation.Stage, bool) {
	stage := allocation.Stage(r.URL.Query().Get("stage"))
	if stage != allocation.StageTower && stage != allocation.StageSolution {
		writeError(w, http.StatusBadRequest, "Invalid or missing stage (want tower or solution)", allocation.ErrInvalidStage)
		return "", false
	}
	return stage, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps allocation errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, allocation.ErrWeightSum):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case allocation.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case allocation.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, allocation.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
