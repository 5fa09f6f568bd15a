package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/remote"
	"github.com/starford/laguz/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testVault(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

// memSnaps is an in-memory SnapshotStore.
type memSnaps struct {
	mu sync.Mutex
	m  map[string]models.SyncSnapshot
}

func newMemSnaps() *memSnaps {
	return &memSnaps{m: make(map[string]models.SyncSnapshot)}
}

func (s *memSnaps) Get(path string) (models.SyncSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.m[path]
	return snap, ok
}

func (s *memSnaps) Set(path string, snap models.SyncSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[path] = snap
}

func (s *memSnaps) Clear(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, path)
}

// fakeRemote is an in-memory record store with injectable failures.
type fakeRemote struct {
	mu        sync.Mutex
	nextID    int
	records   map[string]*remote.Record
	deleted   []string
	updatedAt time.Time

	createErr func(req remote.CreateRecordRequest) error
	updateErr func(recordID string) error
	getErr    func(recordID string) error
	deleteErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:   make(map[string]*remote.Record),
		updatedAt: baseTime,
	}
}

func (f *fakeRemote) CreateRecord(_ context.Context, _ string, req remote.CreateRecordRequest) (*remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		if err := f.createErr(req); err != nil {
			return nil, err
		}
	}
	f.nextID++
	rec := &remote.Record{
		ID:        fmt.Sprintf("rec-%d", f.nextID),
		TypeID:    req.TypeID,
		Name:      req.Name,
		Body:      req.Body,
		Tags:      req.Tags,
		UpdatedAt: f.updatedAt,
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeRemote) UpdateRecord(_ context.Context, _ string, recordID string, req remote.UpdateRecordRequest) (*remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		if err := f.updateErr(recordID); err != nil {
			return nil, err
		}
	}
	rec, ok := f.records[recordID]
	if !ok {
		rec = &remote.Record{ID: recordID}
		f.records[recordID] = rec
	}
	rec.Name = req.Name
	rec.Body = req.Body
	rec.UpdatedAt = f.updatedAt
	out := *rec
	return &out, nil
}

func (f *fakeRemote) DeleteRecord(_ context.Context, _ string, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, recordID)
	delete(f.records, recordID)
	return nil
}

func (f *fakeRemote) GetRecord(_ context.Context, _ string, recordID string) (*remote.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		if err := f.getErr(recordID); err != nil {
			return nil, err
		}
	}
	rec, ok := f.records[recordID]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (f *fakeRemote) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}

var _ remote.API = (*fakeRemote)(nil)

// fakeSyncer scripts dispatch outcomes per path.
type fakeSyncer struct {
	mu      sync.Mutex
	calls   []string
	outcome func(path string) Outcome
}

func (f *fakeSyncer) SyncDocument(_ context.Context, path string, _ models.ContainerConfig) Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	if f.outcome != nil {
		out := f.outcome(path)
		out.Path = path
		return out
	}
	return Outcome{Path: path, Action: ActionUpdated, Duration: time.Millisecond}
}

func (f *fakeSyncer) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ DocumentSyncer = (*fakeSyncer)(nil)

// fakeScheduler captures scheduled tasks so tests control time.
type scheduledTask struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*scheduledTask
}

func (s *fakeScheduler) after(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &scheduledTask{delay: d, fn: fn}
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		task.cancelled = true
		s.mu.Unlock()
	}
}

// fire runs every task scheduled so far and returns how many ran.
// Tasks scheduled during firing wait for the next call.
func (s *fakeScheduler) fire() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	ran := 0
	for _, task := range tasks {
		s.mu.Lock()
		skip := task.cancelled
		s.mu.Unlock()
		if skip {
			continue
		}
		task.fn()
		ran++
	}
	return ran
}

func (s *fakeScheduler) lastDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.tasks) - 1; i >= 0; i-- {
		if !s.tasks[i].cancelled {
			return s.tasks[i].delay, true
		}
	}
	return 0, false
}

// eventRecorder collects queue events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
