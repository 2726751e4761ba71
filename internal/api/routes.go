package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured.
// An empty apiKey leaves the board routes open; the daemon usually
// listens on loopback only.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			if h.apiKey != "" {
				r.Use(AuthMiddleware(h.apiKey))
			}
			r.Get("/board", h.GetBoard)
			r.Post("/board/move", h.MoveRecord)
			r.Get("/sync/status", h.SyncStatus)
			r.Post("/sync/now", h.SyncNow)
			r.Get("/sync/conflicts", h.CheckConflicts)
		})
	})

	return r
}
