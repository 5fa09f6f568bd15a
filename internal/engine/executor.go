package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/parser"
	"github.com/starford/laguz/internal/remote"
	"github.com/starford/laguz/internal/storage"
)

// SnapshotStore is the persisted snapshot mapping consumed by the
// engine. *state.Store satisfies it.
type SnapshotStore interface {
	Get(path string) (models.SyncSnapshot, bool)
	Set(path string, snap models.SyncSnapshot)
	Clear(path string)
}

// RollbackKind tags one compensating action.
type RollbackKind int

// Rollback entry kinds.
const (
	// RollbackFrontmatterRevert rewrites a document back to its saved
	// pre-sync content.
	RollbackFrontmatterRevert RollbackKind = iota
	// RollbackRemoteCreateUndo deletes a record that was created during
	// the failed operation.
	RollbackRemoteCreateUndo
	// RollbackStateClear removes the snapshot written during the failed
	// operation.
	RollbackStateClear
)

// RollbackEntry is one compensating action. Which fields are set
// depends on Kind; undo interprets them in a single exhaustive switch.
type RollbackEntry struct {
	Kind            RollbackKind
	Path            string
	OriginalContent []byte
	ContainerID     string
	RemoteID        string
}

// RollbackStack accumulates compensating actions during one multi-step
// operation. It is strictly local to one executor call chain and never
// shared across operations.
type RollbackStack struct {
	entries []RollbackEntry
}

func (s *RollbackStack) push(e RollbackEntry) {
	s.entries = append(s.entries, e)
}

// Len returns the number of pending compensating actions.
func (s *RollbackStack) Len() int { return len(s.entries) }

// CreateOperation creates a remote record for a vault document.
type CreateOperation struct {
	Path        string
	ContainerID string
	TypeID      string
	Name        string
	Body        string
	Tags        []string
}

// UpdateOperation pushes a vault document into its existing record.
type UpdateOperation struct {
	Path        string
	ContainerID string
	RemoteID    string
	Name        string
	Body        string
}

// BatchOptions selects the failure mode of ExecuteBatch.
type BatchOptions struct {
	// StopOnError aborts the batch at the first per-item failure.
	StopOnError bool
	// RollbackOnError additionally unwinds everything completed so far
	// when the batch aborts. Only meaningful with StopOnError.
	RollbackOnError bool
}

// BatchError records one per-item failure inside a batch.
type BatchError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// BatchResult summarises one ExecuteBatch call.
type BatchResult struct {
	Created        int             `json:"created"`
	Updated        int             `json:"updated"`
	Conflicts      int             `json:"conflicts"`
	Skipped        int             `json:"skipped"`
	Errors         []BatchError    `json:"errors,omitempty"`
	CreatedRecords []remote.Record `json:"created_records,omitempty"`
	UpdatedRecords []remote.Record `json:"updated_records,omitempty"`
}

// Executor performs sync operations as sequences of side effects that
// either all succeed or can be compensated via the rollback stack.
type Executor struct {
	remote remote.API
	vault  storage.Provider
	snaps  SnapshotStore
	logger *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewExecutor creates an executor over the given collaborators.
func NewExecutor(remoteAPI remote.API, vault storage.Provider, snaps SnapshotStore, logger *slog.Logger) *Executor {
	return &Executor{
		remote: remoteAPI,
		vault:  vault,
		snaps:  snaps,
		logger: logger,
		now:    time.Now,
	}
}

// ExecuteCreate creates the remote record, stamps the document's
// frontmatter with the new remote id, and writes a fresh snapshot. Each
// completed step pushes its compensating action onto stack; a failure
// at step N returns before pushing that step's entry, leaving earlier
// entries for the caller to roll back if desired.
func (e *Executor) ExecuteCreate(ctx context.Context, op CreateOperation, stack *RollbackStack) (*remote.Record, error) {
	rec, err := e.remote.CreateRecord(ctx, op.ContainerID, remote.CreateRecordRequest{
		TypeID: op.TypeID,
		Name:   op.Name,
		Body:   op.Body,
		Tags:   op.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: create record for %s: %w", op.Path, err)
	}
	stack.push(RollbackEntry{
		Kind:        RollbackRemoteCreateUndo,
		ContainerID: op.ContainerID,
		RemoteID:    rec.ID,
	})

	if err := e.stampFrontmatter(op.Path, rec.ID, stack); err != nil {
		return nil, err
	}

	if err := e.writeSnapshot(op.Path, rec, stack); err != nil {
		return nil, err
	}
	return rec, nil
}

// ExecuteUpdate pushes the document into its existing record. Same
// shape as ExecuteCreate minus the create-undo step.
func (e *Executor) ExecuteUpdate(ctx context.Context, op UpdateOperation, stack *RollbackStack) (*remote.Record, error) {
	rec, err := e.remote.UpdateRecord(ctx, op.ContainerID, op.RemoteID, remote.UpdateRecordRequest{
		Name: op.Name,
		Body: op.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: update record %s for %s: %w", op.RemoteID, op.Path, err)
	}

	if err := e.stampFrontmatter(op.Path, rec.ID, stack); err != nil {
		return nil, err
	}

	if err := e.writeSnapshot(op.Path, rec, stack); err != nil {
		return nil, err
	}
	return rec, nil
}

// stampFrontmatter rewrites the document's sync markers, keeping a copy
// of the pre-update content on the rollback stack.
func (e *Executor) stampFrontmatter(path, remoteID string, stack *RollbackStack) error {
	original, err := e.vault.Read(path)
	if err != nil {
		return fmt.Errorf("engine: read %s: %w", path, err)
	}
	updated, err := parser.UpdateFrontmatter(original, map[string]interface{}{
		parser.KeyRemoteID: remoteID,
		parser.KeySyncedAt: e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("engine: stamp %s: %w", path, err)
	}
	if err := e.vault.Write(path, updated); err != nil {
		return fmt.Errorf("engine: write %s: %w", path, err)
	}
	stack.push(RollbackEntry{
		Kind:            RollbackFrontmatterRevert,
		Path:            path,
		OriginalContent: original,
	})
	return nil
}

// writeSnapshot stats the freshly stamped document and records the new
// baseline in the state store.
func (e *Executor) writeSnapshot(path string, rec *remote.Record, stack *RollbackStack) error {
	mod, err := e.vault.Stat(path)
	if err != nil {
		return fmt.Errorf("engine: stat %s: %w", path, err)
	}
	e.snaps.Set(path, models.SyncSnapshot{
		LastSyncedAt:    e.now().UTC(),
		LocalModifiedAt: mod,
		RemoteUpdatedAt: rec.UpdatedAt,
		RemoteID:        rec.ID,
	})
	stack.push(RollbackEntry{Kind: RollbackStateClear, Path: path})
	return nil
}

// Rollback pops the stack LIFO and undoes each entry. Individual step
// failures are logged and swallowed so one bad step cannot prevent
// unwinding the rest; rollback never returns an error.
func (e *Executor) Rollback(ctx context.Context, stack *RollbackStack) {
	for i := len(stack.entries) - 1; i >= 0; i-- {
		entry := stack.entries[i]
		switch entry.Kind {
		case RollbackFrontmatterRevert:
			if err := e.vault.Write(entry.Path, entry.OriginalContent); err != nil {
				e.logger.Warn("rollback: frontmatter revert failed",
					slog.String("path", entry.Path),
					slog.String("error", err.Error()))
			}
		case RollbackRemoteCreateUndo:
			if err := e.remote.DeleteRecord(ctx, entry.ContainerID, entry.RemoteID); err != nil {
				e.logger.Warn("rollback: remote delete failed",
					slog.String("remote_id", entry.RemoteID),
					slog.String("error", err.Error()))
			}
		case RollbackStateClear:
			e.snaps.Clear(entry.Path)
		}
	}
	stack.entries = stack.entries[:0]
}

// ExecuteBatch processes creates then updates against one shared
// rollback stack. A document that already has a snapshot with a remote
// id is counted as a conflict and its create is skipped without a
// remote call. Per-item failures are always recorded; StopOnError
// aborts the batch and RollbackOnError unwinds completed work.
func (e *Executor) ExecuteBatch(ctx context.Context, creates []CreateOperation, updates []UpdateOperation, opts BatchOptions) BatchResult {
	var res BatchResult
	stack := &RollbackStack{}

	for _, op := range creates {
		if snap, ok := e.snaps.Get(op.Path); ok && snap.RemoteID != "" {
			e.logger.Warn("batch: create target already linked",
				slog.String("path", op.Path),
				slog.String("remote_id", snap.RemoteID))
			res.Conflicts++
			continue
		}

		rec, err := e.ExecuteCreate(ctx, op, stack)
		if err != nil {
			res.Errors = append(res.Errors, BatchError{Path: op.Path, Message: err.Error()})
			if opts.StopOnError {
				if opts.RollbackOnError {
					e.Rollback(ctx, stack)
				}
				return res
			}
			continue
		}
		res.Created++
		res.CreatedRecords = append(res.CreatedRecords, *rec)
	}

	for _, op := range updates {
		rec, err := e.ExecuteUpdate(ctx, op, stack)
		if err != nil {
			res.Errors = append(res.Errors, BatchError{Path: op.Path, Message: err.Error()})
			if opts.StopOnError {
				if opts.RollbackOnError {
					e.Rollback(ctx, stack)
				}
				return res
			}
			continue
		}
		res.Updated++
		res.UpdatedRecords = append(res.UpdatedRecords, *rec)
	}

	return res
}
