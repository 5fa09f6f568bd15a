package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/laguz/internal/syncservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *syncservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Queue control.
	r.Get("/status", h.Status)
	r.Post("/pause", h.Pause)
	r.Post("/resume", h.Resume)

	// Failed set.
	r.Get("/failed", h.Failed)
	r.Post("/failed/retry", h.RetryFailed)
	r.Delete("/failed", h.ClearFailed)

	// Sync operations.
	r.Post("/sync", h.Run)
	r.Post("/sync/document", h.SyncDocument)
	r.Post("/queue", h.Enqueue)

	// Inspection.
	r.Get("/history", h.History)
	r.Get("/documents/*", h.DocumentStatus)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
