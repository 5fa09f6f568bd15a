package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/engine"
	"github.com/starford/laguz/internal/history"
	"github.com/starford/laguz/internal/syncservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *syncservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *syncservice.Service) *Handler {
	return &Handler{svc: svc}
}

// docPath extracts the document path from the URL (everything after the
// route prefix). Supports encoded slashes from OpenAPI clients
// (e.g. topics%2Fnote.md).
func docPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Status handles GET /api/status.
//
//	@Summary		Get queue status and counters
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Failed handles GET /api/failed.
//
//	@Summary		List items parked after exhausted retries
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	FailedResponse
//	@Security		BearerAuth
//	@Router			/failed [get]
func (h *Handler) Failed(w http.ResponseWriter, r *http.Request) {
	items := h.svc.Failed()
	if items == nil {
		items = []engine.QueueItem{}
	}
	writeJSON(w, http.StatusOK, FailedResponse{Items: items, Count: len(items)})
}

// RetryFailed handles POST /api/failed/retry.
//
//	@Summary		Re-enqueue every failed item
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	CountResponse
//	@Security		BearerAuth
//	@Router			/failed/retry [post]
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CountResponse{Count: h.svc.RetryFailed()})
}

// ClearFailed handles DELETE /api/failed.
//
//	@Summary		Abandon every failed item
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	CountResponse
//	@Security		BearerAuth
//	@Router			/failed [delete]
func (h *Handler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CountResponse{Count: h.svc.ClearFailed()})
}

// Pause handles POST /api/pause.
//
//	@Summary		Pause batch processing
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/pause [post]
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.svc.Pause()
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Resume handles POST /api/resume.
//
//	@Summary		Resume batch processing
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/resume [post]
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.svc.Resume()
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Run handles POST /api/sync.
//
//	@Summary		Run a one-shot sync pass over the whole vault
//	@Tags			sync
//	@Produce		json
//	@Param			verbose	query		bool	false	"Include per-document outcomes"
//	@Success		200		{object}	syncservice.RunSummary
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.RunAll(r.Context())
	if err != nil {
		slog.Error("run failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if r.URL.Query().Get("verbose") == "" {
		sum.Outcomes = nil
	}
	writeJSON(w, http.StatusOK, sum)
}

// SyncDocument handles POST /api/sync/document.
//
//	@Summary		Sync a single document immediately
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SyncDocumentRequest	true	"Document to sync"
//	@Success		200		{object}	OutcomeDTO
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/document [post]
func (h *Handler) SyncDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SyncDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	out, err := h.svc.SyncDocument(r.Context(), req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcomeDTO(out))
}

// Enqueue handles POST /api/queue.
//
//	@Summary		Queue documents for debounced syncing
//	@Tags			sync
//	@Accept			json
//	@Param			body	body	EnqueueRequest	true	"Documents to queue"
//	@Success		202		"Accepted"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/queue [post]
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths are required")
		return
	}
	h.svc.Enqueue(req.Paths)
	w.WriteHeader(http.StatusAccepted)
}

// History handles GET /api/history.
//
//	@Summary		List recent sync outcomes
//	@Tags			sync
//	@Produce		json
//	@Param			path	query		string	false	"Scope to one document"
//	@Param			limit	query		int		false	"Max entries"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := h.svc.History(q.Get("path"), limit)
	if err != nil {
		slog.Error("history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

// DocumentStatus handles GET /api/documents/*.
//
//	@Summary		Inspect one document's sync linkage
//	@Tags			sync
//	@Produce		json
//	@Param			path	path		string	true	"Document path"
//	@Success		200		{object}	syncservice.DocumentStatus
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{path} [get]
func (h *Handler) DocumentStatus(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	st, err := h.svc.DocumentStatus(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("document status failed", slog.String("path", path), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, st)
}
