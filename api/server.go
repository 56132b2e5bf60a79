/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/orgs/{org}/spend       Spend entry
  /api/orgs/{org}/rules       Allocation weight entry + validation preview
  /api/orgs/{org}/solutions   Solution catalog
  /api/orgs/{org}/pipeline    Run trigger and run history
  /api/orgs/{org}/costs       Materialized outputs (dashboard reads)
  /api/scenarios              Demo data loaders

SECURITY NOTE:
  No authentication middleware. Auth is handled by an upstream gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/orgs/{org}", func(r chi.Router) {
			// Spend entry
			r.Route("/spend", func(r chi.Router) {
				r.Get("/", h.ListSpend)
				r.Post("/", h.UpsertSpend)
				r.Delete("/{department}", h.DeleteSpend)
			})

			// Allocation rules
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.ListRules)
				r.Post("/", h.UpsertRule)
				r.Get("/validate", h.ValidateRules)
				r.Delete("/{stage}/{source}/{target}", h.DeleteRule)
			})

			// Solution catalog
			r.Route("/solutions", func(r chi.Router) {
				r.Get("/", h.ListSolutions)
				r.Post("/", h.UpsertSolution)
				r.Delete("/{id}", h.DeleteSolution)
			})

			// Pipeline
			r.Route("/pipeline", func(r chi.Router) {
				r.Post("/run", h.RunPipeline)
				r.Get("/runs", h.ListRuns)
				r.Get("/runs/latest", h.LatestRun)
			})

			// Reporting
			r.Get("/reconciliation", h.GetReconciliation)
			r.Get("/costs/{stage}", h.GetCosts)
		})

		// Demo scenarios
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
