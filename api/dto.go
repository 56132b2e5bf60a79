/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  internal domain model from the external contract. Amounts and percents
  travel as strings (exact decimals, no float drift on the wire);
  periods travel as "YYYY-MM".

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Parsing/validation happens in handlers, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
)

// =============================================================================
// SPEND
// =============================================================================

type SpendDTO struct {
	Org        string `json:"org"`
	Period     string `json:"period"`
	Department string `json:"department"`
	Amount     string `json:"amount"`
}

type UpsertSpendRequest struct {
	Period     string `json:"period"`
	Department string `json:"department"`
	Amount     string `json:"amount"`
}

// =============================================================================
// RULES
// =============================================================================

type RuleDTO struct {
	Org     string `json:"org"`
	Period  string `json:"period"`
	Stage   string `json:"stage"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Percent string `json:"percent"`
}

type UpsertRuleRequest struct {
	Period  string `json:"period"`
	Stage   string `json:"stage"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Percent string `json:"percent"`
}

// RuleValidationDTO reports per-source sums from the pure weight check,
// so the editing UI can show progress on an incomplete rule set.
type RuleValidationDTO struct {
	Period  string            `json:"period"`
	Stage   string            `json:"stage"`
	Valid   bool              `json:"valid"`
	Sums    map[string]string `json:"sums"`
	Failing string            `json:"failing,omitempty"`
}

// =============================================================================
// SOLUTIONS
// =============================================================================

type SolutionDTO struct {
	Org         string `json:"org"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	BusinessTag string `json:"businessTag"`
}

type UpsertSolutionRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	BusinessTag string `json:"businessTag"`
}

// =============================================================================
// PIPELINE
// =============================================================================

type RunPipelineRequest struct {
	Period string `json:"period"`
	Force  bool   `json:"force"`
}

type RunSummaryDTO struct {
	RunID          string             `json:"runId"`
	Org            string             `json:"org"`
	Period         string             `json:"period"`
	Status         string             `json:"status"`
	StagesWritten  []string           `json:"stagesWritten"`
	Reconciliation *ReconciliationDTO `json:"reconciliation,omitempty"`
}

type RunDTO struct {
	ID          string             `json:"id"`
	Org         string             `json:"org"`
	Period      string             `json:"period"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Report      *ReconciliationDTO `json:"report,omitempty"`
	StartedAt   string             `json:"startedAt"`
	CompletedAt string             `json:"completedAt,omitempty"`
}

type ReconciliationDTO struct {
	Org                 string `json:"org"`
	Period              string `json:"period"`
	CostPoolTotal       string `json:"costPoolTotal"`
	TowerTotal          string `json:"towerTotal"`
	SolutionTotal       string `json:"solutionTotal"`
	BusinessTotal       string `json:"businessTotal"`
	UnallocatedTower    string `json:"unallocatedTower"`
	UnallocatedSolution string `json:"unallocatedSolution"`
	UnallocatedBusiness string `json:"unallocatedBusiness"`
	WithinTolerance     bool   `json:"withinTolerance"`
	CheckedAt           string `json:"checkedAt"`
}

type CostRowDTO struct {
	Target string `json:"target"`
	Amount string `json:"amount"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Org         string `json:"org"`
	Period      string `json:"period"`
}

type LoadScenarioRequest struct {
	Name string `json:"name"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toReconciliationDTO(r *allocation.Report) *ReconciliationDTO {
	if r == nil {
		return nil
	}
	return &ReconciliationDTO{
		Org:                 string(r.Org),
		Period:              r.Period.String(),
		CostPoolTotal:       r.CostPoolTotal.String(),
		TowerTotal:          r.TowerTotal.String(),
		SolutionTotal:       r.SolutionTotal.String(),
		BusinessTotal:       r.BusinessTotal.String(),
		UnallocatedTower:    r.UnallocatedTower.String(),
		UnallocatedSolution: r.UnallocatedSolution.String(),
		UnallocatedBusiness: r.UnallocatedBusiness.String(),
		WithinTolerance:     r.WithinTolerance,
		CheckedAt:           r.CheckedAt.Format(time.RFC3339),
	}
}

func toRunSummaryDTO(s *allocation.RunSummary) RunSummaryDTO {
	stages := make([]string, len(s.StagesWritten))
	for i, st := range s.StagesWritten {
		stages[i] = string(st)
	}
	return RunSummaryDTO{
		RunID:          s.RunID,
		Org:            string(s.Org),
		Period:         s.Period.String(),
		Status:         string(s.Status),
		StagesWritten:  stages,
		Reconciliation: toReconciliationDTO(s.Reconciliation),
	}
}

func toRunDTO(run allocation.PipelineRun) RunDTO {
	dto := RunDTO{
		ID:        run.ID,
		Org:       string(run.Org),
		Period:    run.Period.String(),
		Status:    string(run.Status),
		Error:     run.Error,
		Report:    toReconciliationDTO(run.Report),
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
