package api

import (
	"github.com/starford/laguz/internal/engine"
	"github.com/starford/laguz/internal/history"
	"github.com/starford/laguz/internal/syncservice"
)

// SyncDocumentRequest is the request body for syncing one document.
type SyncDocumentRequest struct {
	Path string `json:"path" example:"notes/hello.md" validate:"required"`
}

// EnqueueRequest is the request body for queueing documents.
type EnqueueRequest struct {
	Paths []string `json:"paths" validate:"required"`
}

// StatusResponse is the queue status payload (aliased from the domain layer).
type StatusResponse = syncservice.Status

// FailedResponse wraps the parked failed items.
type FailedResponse struct {
	Items []engine.QueueItem `json:"items" validate:"required"`
	Count int                `json:"count" example:"2" validate:"required"`
}

// CountResponse reports how many items an operation touched.
type CountResponse struct {
	Count int `json:"count" example:"3" validate:"required"`
}

// HistoryResponse wraps journal entries.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries" validate:"required"`
}

// OutcomeDTO is the wire form of a dispatch outcome. The engine's
// error value is flattened to a string.
type OutcomeDTO struct {
	Path       string                 `json:"path" example:"notes/hello.md"`
	Action     string                 `json:"action" example:"created"`
	RemoteID   string                 `json:"remote_id,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	Retryable  bool                   `json:"retryable"`
	Error      string                 `json:"error,omitempty"`
	Conflict   *engine.ConflictResult `json:"conflict,omitempty"`
	Resolution *engine.Resolution     `json:"resolution,omitempty"`
}

func outcomeDTO(out engine.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		Path:       out.Path,
		Action:     string(out.Action),
		RemoteID:   out.RemoteID,
		DurationMS: out.Duration.Milliseconds(),
		Retryable:  out.Retryable,
		Conflict:   out.Conflict,
		Resolution: out.Resolution,
	}
	if out.Err != nil {
		dto.Error = out.Err.Error()
	}
	return dto
}
