// Package syncservice coordinates the queue, dispatcher, and journal
// for the API and MCP layers.
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/engine"
	"github.com/starford/laguz/internal/history"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/parser"
	"github.com/starford/laguz/internal/storage"
)

// Status is the aggregate queue state exposed to clients.
type Status struct {
	Active bool              `json:"active"`
	Stats  engine.QueueStats `json:"stats"`
}

// RunSummary reports one full-vault sync pass.
type RunSummary struct {
	Total     int              `json:"total"`
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Pulled    int              `json:"pulled"`
	Deleted   int              `json:"deleted"`
	Skipped   int              `json:"skipped"`
	Conflicts int              `json:"conflicts"`
	Failed    int              `json:"failed"`
	Outcomes  []engine.Outcome `json:"outcomes,omitempty"`
}

// DocumentStatus describes how one document relates to the remote store.
type DocumentStatus struct {
	Path     string               `json:"path"`
	Tracked  bool                 `json:"tracked"`
	RemoteID string               `json:"remote_id,omitempty"`
	Snapshot *models.SyncSnapshot `json:"snapshot,omitempty"`
	Title    string               `json:"title,omitempty"`
	Tags     []string             `json:"tags,omitempty"`
}

// Service is the domain facade over the sync engine.
type Service struct {
	queue     *engine.Queue
	disp      *engine.Dispatcher
	vault     storage.Provider
	snaps     engine.SnapshotStore
	journal   history.Journal
	container models.ContainerConfig
	logger    *slog.Logger
}

// NewService creates a sync service over the given collaborators. The
// journal may be nil when history is disabled.
func NewService(queue *engine.Queue, disp *engine.Dispatcher, vault storage.Provider, snaps engine.SnapshotStore, journal history.Journal, container models.ContainerConfig, logger *slog.Logger) *Service {
	return &Service{
		queue:     queue,
		disp:      disp,
		vault:     vault,
		snaps:     snaps,
		journal:   journal,
		container: container,
		logger:    logger,
	}
}

// Status returns the queue's current state.
func (s *Service) Status() Status {
	return Status{Active: s.queue.IsActive(), Stats: s.queue.Stats()}
}

// Failed returns the parked failed items.
func (s *Service) Failed() []engine.QueueItem {
	return s.queue.FailedItems()
}

// RetryFailed re-enqueues every failed item and returns how many.
func (s *Service) RetryFailed() int { return s.queue.RetryFailed() }

// ClearFailed abandons every failed item and returns how many.
func (s *Service) ClearFailed() int { return s.queue.ClearFailed() }

// Pause stops the queue from starting new batches.
func (s *Service) Pause() { s.queue.Pause() }

// Resume lets the queue start batches again.
func (s *Service) Resume() { s.queue.Resume() }

// Enqueue adds paths to the queue as updated changes.
func (s *Service) Enqueue(paths []string) {
	changes := make([]models.ChangeEvent, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		changes = append(changes, models.ChangeEvent{Path: p, Kind: models.ChangeUpdated})
	}
	s.queue.Enqueue(changes, s.container)
}

// SyncDocument dispatches one document immediately, bypassing the
// queue's debounce and retry machinery.
func (s *Service) SyncDocument(ctx context.Context, path string) (engine.Outcome, error) {
	if path == "" {
		return engine.Outcome{}, fmt.Errorf("syncservice: path is required")
	}
	return s.disp.SyncDocument(ctx, path, s.container), nil
}

// RunAll walks the vault and dispatches every document once, tallying
// the outcomes. It runs sequentially; the one-shot path favors
// predictable ordering over throughput.
func (s *Service) RunAll(ctx context.Context) (RunSummary, error) {
	metas, err := s.vault.List("")
	if err != nil {
		return RunSummary{}, fmt.Errorf("syncservice: list vault: %w", err)
	}

	var sum RunSummary
	sum.Total = len(metas)
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out := s.disp.SyncDocument(ctx, m.Path, s.container)
		sum.Outcomes = append(sum.Outcomes, out)
		switch out.Action {
		case engine.ActionCreated:
			sum.Created++
		case engine.ActionUpdated:
			sum.Updated++
		case engine.ActionPulled:
			sum.Pulled++
		case engine.ActionDeleted:
			sum.Deleted++
		case engine.ActionSkipped:
			sum.Skipped++
		case engine.ActionConflict:
			sum.Conflicts++
		case engine.ActionFailed:
			sum.Failed++
			s.logger.Warn("run: document failed",
				slog.String("path", out.Path),
				slog.String("error", errString(out.Err)))
		}
	}
	return sum, nil
}

// DocumentStatus inspects one document's sync linkage without touching
// the remote store.
func (s *Service) DocumentStatus(path string) (*DocumentStatus, error) {
	data, err := s.vault.Read(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	doc, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("syncservice: parse %s: %w", path, err)
	}

	st := &DocumentStatus{
		Path:     path,
		RemoteID: doc.RemoteID,
		Title:    doc.Title,
		Tags:     doc.Tags,
	}
	if snap, ok := s.snaps.Get(path); ok {
		st.Tracked = doc.RemoteID != ""
		st.Snapshot = &snap
	}
	return st, nil
}

// History returns recent journal entries, optionally scoped to a path.
// Returns nil when the journal is disabled.
func (s *Service) History(path string, limit int) ([]history.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if path != "" {
		return s.journal.ForPath(path, limit)
	}
	return s.journal.Recent(limit)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
