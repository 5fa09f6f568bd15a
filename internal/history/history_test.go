package history

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/laguz/internal/engine"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "laguz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := testDB(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, action := range []string{"created", "updated", "skipped"} {
		err := db.Record(Entry{
			Path:     "a.md",
			Action:   action,
			RemoteID: "rec-1",
			Duration: 25 * time.Millisecond,
			At:       at.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := db.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != "skipped" || entries[1].Action != "updated" {
		t.Errorf("order = %q, %q, want newest first", entries[0].Action, entries[1].Action)
	}
	if entries[0].Duration != 25*time.Millisecond {
		t.Errorf("duration = %v", entries[0].Duration)
	}
}

func TestForPath(t *testing.T) {
	db := testDB(t)
	_ = db.Record(Entry{Path: "a.md", Action: "created"})
	_ = db.Record(Entry{Path: "b.md", Action: "created"})
	_ = db.Record(Entry{Path: "a.md", Action: "failed", Error: "boom", Retries: 3})

	entries, err := db.ForPath("a.md", 10)
	if err != nil {
		t.Fatalf("ForPath: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != "failed" || entries[0].Error != "boom" || entries[0].Retries != 3 {
		t.Errorf("newest = %+v", entries[0])
	}
}

func TestPrune(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 10; i++ {
		_ = db.Record(Entry{Path: "a.md", Action: "updated"})
	}
	if err := db.Prune(3); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	entries, _ := db.Recent(100)
	if len(entries) != 3 {
		t.Errorf("got %d entries after prune, want 3", len(entries))
	}
}

// stubJournal records entries in memory for listener tests.
type stubJournal struct {
	entries []Entry
	err     error
}

func (s *stubJournal) Record(e Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}
func (s *stubJournal) Recent(int) ([]Entry, error)          { return s.entries, nil }
func (s *stubJournal) ForPath(string, int) ([]Entry, error) { return nil, nil }
func (s *stubJournal) Prune(int) error                      { return nil }
func (s *stubJournal) Close() error                         { return nil }

func TestListener(t *testing.T) {
	stub := &stubJournal{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	listen := Listener(stub, logger)

	listen(engine.Event{Kind: engine.EventItemCompleted, Path: "a.md", Action: engine.ActionUpdated, Duration: time.Millisecond})
	listen(engine.Event{Kind: engine.EventItemFailed, Path: "b.md", Retries: 2, Error: "down"})
	listen(engine.Event{Kind: engine.EventQueueUpdated, Pending: 4})
	listen(engine.Event{Kind: engine.EventPaused})

	if len(stub.entries) != 2 {
		t.Fatalf("recorded %d entries, want item events only", len(stub.entries))
	}
	if stub.entries[0].Action != "updated" || stub.entries[0].Path != "a.md" {
		t.Errorf("first entry = %+v", stub.entries[0])
	}
	if stub.entries[1].Action != "failed" || stub.entries[1].Retries != 2 {
		t.Errorf("second entry = %+v", stub.entries[1])
	}
}

func TestListenerSwallowsJournalErrors(t *testing.T) {
	stub := &stubJournal{err: errors.New("disk full")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	listen := Listener(stub, logger)

	// Must not panic or propagate.
	listen(engine.Event{Kind: engine.EventItemCompleted, Path: "a.md", Action: engine.ActionUpdated})
}
