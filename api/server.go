/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the allocation UI

ROUTE GROUPS:
  /api/employees/*      Employees and their load
  /api/projects/*       Projects and headcount capacity
  /api/demands/*        Demands and headcount capacity
  /api/allocations/*    Validate, commit, status changes
  /api/admin/*          Admin operations
  /api/scenarios/*      Demo scenarios (dev only)
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. origins is the
// CORS allow list; nil uses the local development defaults.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/load", h.GetEmployeeLoad)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Get("/{id}/capacity", h.GetProjectCapacity)
		})

		r.Route("/demands", func(r chi.Router) {
			r.Post("/", h.CreateDemand)
			r.Get("/{id}", h.GetDemand)
			r.Get("/{id}/capacity", h.GetDemandCapacity)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", h.CreateAllocations)
			r.Post("/validate", h.ValidateAllocations)
			r.Get("/{id}", h.GetAllocation)
			r.Post("/{id}/cancel", h.CancelAllocation)
			r.Post("/{id}/complete", h.CompleteAllocation)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/refresh", h.RefreshAggregates)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
