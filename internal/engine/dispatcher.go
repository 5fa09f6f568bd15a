package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/parser"
	"github.com/starford/laguz/internal/remote"
	"github.com/starford/laguz/internal/storage"
)

// Action names what happened to one dispatched document.
type Action string

// Dispatch actions.
const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionPulled   Action = "pulled"
	ActionDeleted  Action = "deleted"
	ActionSkipped  Action = "skipped"
	ActionConflict Action = "conflict"
	ActionFailed   Action = "failed"
)

// Outcome is the result of dispatching one document.
type Outcome struct {
	Path       string          `json:"path"`
	Action     Action          `json:"action"`
	RemoteID   string          `json:"remote_id,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Conflict   *ConflictResult `json:"conflict,omitempty"`
	Resolution *Resolution     `json:"resolution,omitempty"`
	Err        error           `json:"-"`
	// Retryable is false for failures the queue must not retry
	// (data-integrity problems, permanent remote faults).
	Retryable bool `json:"retryable"`
}

// docStatus is the sync status of one document, derived from its
// frontmatter remote id and the presence of a snapshot.
type docStatusKind int

const (
	statusUntracked docStatusKind = iota
	statusTracked
	statusInconsistent
)

type docStatus struct {
	kind     docStatusKind
	remoteID string
	snapshot models.SyncSnapshot
	reason   string
}

func classify(remoteID string, snap models.SyncSnapshot, hasSnap bool) docStatus {
	switch {
	case remoteID == "" && !hasSnap:
		return docStatus{kind: statusUntracked}
	case remoteID != "" && hasSnap:
		return docStatus{kind: statusTracked, remoteID: remoteID, snapshot: snap}
	case remoteID != "":
		return docStatus{kind: statusInconsistent, reason: "frontmatter has a remote id but no snapshot exists"}
	default:
		return docStatus{kind: statusInconsistent, reason: "snapshot exists but frontmatter has no remote id"}
	}
}

// Dispatcher decides the correct sync action for one changed document
// and invokes the executor with the right operation.
type Dispatcher struct {
	exec   *Executor
	remote remote.API
	vault  storage.Provider
	snaps  SnapshotStore
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(exec *Executor, remoteAPI remote.API, vault storage.Provider, snaps SnapshotStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{exec: exec, remote: remoteAPI, vault: vault, snaps: snaps, logger: logger}
}

// SyncDocument synchronizes a single document. Every outcome carries a
// measured duration for the caller's latency statistics.
func (d *Dispatcher) SyncDocument(ctx context.Context, docPath string, cfg models.ContainerConfig) Outcome {
	start := time.Now()
	out := d.syncDocument(ctx, docPath, cfg)
	out.Path = docPath
	out.Duration = time.Since(start)
	return out
}

func (d *Dispatcher) syncDocument(ctx context.Context, docPath string, cfg models.ContainerConfig) Outcome {
	data, err := d.vault.Read(docPath)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return d.handleMissing(docPath)
		}
		return Outcome{Action: ActionFailed, Err: err, Retryable: true}
	}

	doc, err := parser.Parse(data)
	if err != nil {
		return Outcome{Action: ActionFailed, Err: fmt.Errorf("engine: parse %s: %w", docPath, err)}
	}

	snap, hasSnap := d.snaps.Get(docPath)
	status := classify(doc.RemoteID, snap, hasSnap)

	switch status.kind {
	case statusUntracked:
		return d.create(ctx, docPath, doc, cfg)
	case statusTracked:
		return d.update(ctx, docPath, doc, status, cfg)
	default:
		return Outcome{
			Action:    ActionFailed,
			Err:       fmt.Errorf("engine: %s: %s: %w", docPath, status.reason, apperr.ErrInconsistent),
			Retryable: false,
		}
	}
}

// handleMissing treats deletion as untrack: the snapshot is cleared but
// the remote record is never deleted on the document's behalf.
func (d *Dispatcher) handleMissing(docPath string) Outcome {
	if snap, ok := d.snaps.Get(docPath); ok {
		d.snaps.Clear(docPath)
		d.logger.Info("dispatch: untracked deleted document",
			slog.String("path", docPath),
			slog.String("remote_id", snap.RemoteID))
		return Outcome{Action: ActionDeleted, RemoteID: snap.RemoteID}
	}
	return Outcome{Action: ActionSkipped}
}

func (d *Dispatcher) create(ctx context.Context, docPath string, doc *parser.Result, cfg models.ContainerConfig) Outcome {
	op := CreateOperation{
		Path:        docPath,
		ContainerID: cfg.ContainerID,
		TypeID:      resolveTypeID(docPath, cfg),
		Name:        recordName(docPath, doc),
		Body:        doc.Body,
		Tags:        resolveTags(doc.Tags, cfg),
	}

	stack := &RollbackStack{}
	rec, err := d.exec.ExecuteCreate(ctx, op, stack)
	if err != nil {
		d.exec.Rollback(ctx, stack)
		return Outcome{Action: ActionFailed, Err: err, Retryable: remote.IsRetryable(err)}
	}
	return Outcome{Action: ActionCreated, RemoteID: rec.ID}
}

func (d *Dispatcher) update(ctx context.Context, docPath string, doc *parser.Result, status docStatus, cfg models.ContainerConfig) Outcome {
	localMod, err := d.vault.Stat(docPath)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return d.handleMissing(docPath)
		}
		return Outcome{Action: ActionFailed, Err: err, Retryable: true}
	}

	rec, err := d.remote.GetRecord(ctx, cfg.ContainerID, status.remoteID)
	if err != nil {
		return Outcome{Action: ActionFailed, Err: err, Retryable: remote.IsRetryable(err)}
	}
	if rec == nil {
		return Outcome{
			Action:    ActionFailed,
			Err:       fmt.Errorf("engine: %s: remote record %s no longer exists: %w", docPath, status.remoteID, apperr.ErrInconsistent),
			Retryable: false,
		}
	}

	res := DetectConflict(localMod, rec.UpdatedAt, &status.snapshot)
	switch {
	case res.HasConflict:
		res.ContentDiff = GenerateContentDiff(doc.Body, rec.Body)
		resolution := ResolveConflict(res.Strategy, doc.Body, rec.Body)
		d.logger.Warn("dispatch: conflict detected",
			slog.String("path", docPath),
			slog.String("remote_id", status.remoteID))
		return Outcome{
			Action:     ActionConflict,
			RemoteID:   status.remoteID,
			Conflict:   &res,
			Resolution: &resolution,
		}

	case res.Strategy == StrategyRemoteWins:
		if err := d.pull(docPath, rec); err != nil {
			return Outcome{Action: ActionFailed, Err: err, Retryable: true}
		}
		return Outcome{Action: ActionPulled, RemoteID: status.remoteID}

	case len(res.ChangedSides) == 0:
		// Nothing moved on either side, nothing to push.
		return Outcome{Action: ActionSkipped, RemoteID: status.remoteID}

	default:
		op := UpdateOperation{
			Path:        docPath,
			ContainerID: cfg.ContainerID,
			RemoteID:    status.remoteID,
			Name:        recordName(docPath, doc),
			Body:        doc.Body,
		}
		stack := &RollbackStack{}
		updated, err := d.exec.ExecuteUpdate(ctx, op, stack)
		if err != nil {
			d.exec.Rollback(ctx, stack)
			return Outcome{Action: ActionFailed, Err: err, Retryable: remote.IsRetryable(err)}
		}
		return Outcome{Action: ActionUpdated, RemoteID: updated.ID}
	}
}

// pull replaces the local body with the remote one, keeping frontmatter
// and refreshing the snapshot baseline.
func (d *Dispatcher) pull(docPath string, rec *remote.Record) error {
	data, err := d.vault.Read(docPath)
	if err != nil {
		return fmt.Errorf("engine: pull %s: %w", docPath, err)
	}
	doc, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("engine: pull %s: %w", docPath, err)
	}

	rebuilt := []byte(rec.Body)
	if doc.Frontmatter != nil {
		rebuilt, err = parser.UpdateFrontmatter([]byte(rec.Body), doc.Frontmatter)
		if err != nil {
			return fmt.Errorf("engine: pull %s: %w", docPath, err)
		}
	}
	rebuilt, err = parser.UpdateFrontmatter(rebuilt, map[string]interface{}{
		parser.KeyRemoteID: rec.ID,
		parser.KeySyncedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("engine: pull %s: %w", docPath, err)
	}
	if err := d.vault.Write(docPath, rebuilt); err != nil {
		return fmt.Errorf("engine: pull %s: %w", docPath, err)
	}

	mod, err := d.vault.Stat(docPath)
	if err != nil {
		return fmt.Errorf("engine: pull %s: %w", docPath, err)
	}
	d.snaps.Set(docPath, models.SyncSnapshot{
		LastSyncedAt:    time.Now().UTC(),
		LocalModifiedAt: mod,
		RemoteUpdatedAt: rec.UpdatedAt,
		RemoteID:        rec.ID,
	})
	return nil
}

// resolveTypeID maps a document's folder to a remote record type. An
// exact folder match always wins over any ancestor match; among
// ancestor matches the deepest one wins.
func resolveTypeID(docPath string, cfg models.ContainerConfig) string {
	dir := path.Dir(strings.ReplaceAll(docPath, "\\", "/"))
	if dir == "." {
		dir = ""
	}

	best := ""
	bestLen := -1
	for _, m := range cfg.Folders {
		folder := strings.Trim(m.Folder, "/")
		if folder == dir {
			return m.TypeID
		}
		if folder != "" && strings.HasPrefix(dir, folder+"/") && len(folder) > bestLen {
			best = m.TypeID
			bestLen = len(folder)
		}
	}
	if best != "" {
		return best
	}
	return cfg.DefaultTypeID
}

// resolveTags translates declared tags through the mapping table.
// Unmapped tags are kept in the request, silently unresolved.
func resolveTags(tags []string, cfg models.ContainerConfig) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		if id, ok := cfg.TagIDs[t]; ok {
			out[i] = id
		} else {
			out[i] = t
		}
	}
	return out
}

// recordName prefers the document title and falls back to the file stem.
func recordName(docPath string, doc *parser.Result) string {
	if doc.Title != "" {
		return doc.Title
	}
	base := path.Base(strings.ReplaceAll(docPath, "\\", "/"))
	return strings.TrimSuffix(base, ".md")
}
