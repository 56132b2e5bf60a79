/*
scenarios.go - Demo scenario loaders

PURPOSE:
  Lets a fresh install (or a demo) load a complete, coherent data set in
  one call instead of dozens of curl commands. The catalogs themselves
  live in the catalog package; this file is only the HTTP surface.

SEE ALSO:
  - catalog/catalog.go: Scenario definitions
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/maddie-houseman/TVOTapp-sub001/catalog"
)

// ListScenarios returns the available demo catalogs.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all := catalog.All()
	dtos := make([]ScenarioDTO, len(all))
	for i, c := range all {
		dtos[i] = ScenarioDTO{
			Name:        c.Name,
			Description: c.Description,
			Org:         string(c.Org),
			Period:      c.Period.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a named demo catalog into the store.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	c, ok := catalog.ByName(req.Name)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}

	if err := c.Load(r.Context(), h.Store); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		Name:        c.Name,
		Description: c.Description,
		Org:         string(c.Org),
		Period:      c.Period.String(),
	})
}

// ResetDatabase clears all data (dev/demo only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
