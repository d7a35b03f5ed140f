package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate wraps admin-only routes. auth.AuthManager.RequireAdmin satisfies it.
type Gate func(http.Handler) http.Handler

// SetupRoutes configures all API routes. Everything except the health probes
// and /metrics sits behind gate.
func SetupRoutes(h *Handlers, health *HealthChecker, gate Gate, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Probes and metrics (no auth required)
	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if gate != nil {
			r.Use(gate)
		}

		r.Post("/reach", h.HandleReach)
		r.Post("/batch-reach", h.HandleBatchReach)

		r.Route("/audiences", func(r chi.Router) {
			r.Get("/", h.HandleListAudiences)
			r.Post("/", h.HandleCreateAudience)
			r.Post("/refresh-counts", h.HandleRefreshCounts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGetAudience)
				r.Put("/", h.HandleUpdateAudience)
				r.Get("/subscribers", h.HandleListMembers)
				r.Post("/subscribers", h.HandleAddMember)
				r.Delete("/subscribers/{subscriberId}", h.HandleRemoveMember)
			})
		})

		r.Get("/subscribers/{id}/audience-memberships", h.HandleSubscriberMemberships)
	})

	return r
}
