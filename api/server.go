/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the operator UI

ROUTE GROUPS:
  /api/cases/*      Case creation, listing, lifecycle transitions
  /api/agencies/*   Agency registry management
  /api/audit        Audit trail queries
  /api/settings     Live threshold tuning
  /api/admin/*      Operational triggers
  /metrics          Prometheus scrape endpoint
  /health           Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; the
  X-Actor-ID header is trusted for audit attribution.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Case routes
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Post("/", h.CreateCase)
			r.Get("/{id}", h.GetCase)
			r.Post("/{id}/start", h.StartCase)
			r.Post("/{id}/complete", h.CompleteCase)
			r.Post("/{id}/reject", h.RejectCase)
			r.Post("/{id}/escalate", h.EscalateCase)
			r.Post("/{id}/delay", h.RecordDelay)
		})

		// Agency routes
		r.Route("/agencies", func(r chi.Router) {
			r.Get("/", h.ListAgencies)
			r.Post("/", h.CreateAgency)
			r.Get("/{id}", h.GetAgency)
			r.Put("/{id}", h.UpdateAgency)
			r.Post("/{id}/deactivate", h.DeactivateAgency)
			r.Post("/{id}/reactivate", h.ReactivateAgency)
			// DELETE deactivates; agencies are never hard-deleted.
			r.Delete("/{id}", h.DeactivateAgency)
		})

		// Audit trail
		r.Get("/audit", h.QueryAudit)

		// Settings
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sla-refresh", h.TriggerSLARefresh)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	return r
}
