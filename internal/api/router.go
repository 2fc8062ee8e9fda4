// Package api exposes the HTTP surface of the daemon: session intake, status
// and audit queries, result download, and the live event feed.
package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"avsync/internal/config"
	"avsync/internal/events"
	"avsync/internal/notifications"
	"avsync/internal/session"
	"avsync/internal/workflow"
)

// StatusProvider reports workflow diagnostics for the health endpoint.
// *workflow.Manager satisfies it.
type StatusProvider interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(cfg *config.Config, store *session.Store, bus *events.Bus, status StatusProvider, notifier notifications.Service, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	sessionH := NewSessionHandler(cfg, store, bus, notifier)
	healthH := NewHealthHandler(store, status)

	r.Get("/healthz", healthH.Health)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", sessionH.Submit)
		r.Get("/", sessionH.List)
		r.Get("/{id}", sessionH.Get)
		r.Get("/{id}/iterations", sessionH.Iterations)
		r.Get("/{id}/result", sessionH.Result)
		r.Get("/{id}/events", sessionH.Events)
	})

	return r
}
