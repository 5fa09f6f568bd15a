package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/parser"
	"github.com/starford/laguz/internal/remote"
)

func newTestExecutor(t *testing.T) (*Executor, *fakeRemote, *memSnaps, *storageFixture) {
	t.Helper()
	vault := testVault(t)
	rem := newFakeRemote()
	snaps := newMemSnaps()
	exec := NewExecutor(rem, vault, snaps, testLogger())
	exec.now = func() time.Time { return baseTime }
	return exec, rem, snaps, &storageFixture{t: t, vault: vault}
}

type storageFixture struct {
	t     *testing.T
	vault interface {
		Read(path string) ([]byte, error)
		Write(path string, content []byte) error
	}
}

func (f *storageFixture) write(path, content string) {
	f.t.Helper()
	if err := f.vault.Write(path, []byte(content)); err != nil {
		f.t.Fatalf("seed %s: %v", path, err)
	}
}

func (f *storageFixture) read(path string) []byte {
	f.t.Helper()
	data, err := f.vault.Read(path)
	if err != nil {
		f.t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestExecuteCreate(t *testing.T) {
	exec, rem, snaps, fx := newTestExecutor(t)
	fx.write("notes/a.md", "# Alpha\n\nbody text\n")

	stack := &RollbackStack{}
	rec, err := exec.ExecuteCreate(context.Background(), CreateOperation{
		Path:        "notes/a.md",
		ContainerID: "c1",
		TypeID:      "type-note",
		Name:        "Alpha",
		Body:        "# Alpha\n\nbody text\n",
		Tags:        []string{"t1"},
	}, stack)
	if err != nil {
		t.Fatalf("ExecuteCreate: %v", err)
	}
	if rec.ID == "" || rec.Name != "Alpha" {
		t.Errorf("record = %+v", rec)
	}
	if stack.Len() != 3 {
		t.Errorf("stack len = %d, want 3", stack.Len())
	}

	doc, err := parser.Parse(fx.read("notes/a.md"))
	if err != nil {
		t.Fatalf("parse stamped doc: %v", err)
	}
	if doc.RemoteID != rec.ID {
		t.Errorf("stamped remote id = %q, want %q", doc.RemoteID, rec.ID)
	}
	if doc.SyncedAt.IsZero() {
		t.Error("stamped synced_at missing")
	}
	if !strings.Contains(doc.Body, "body text") {
		t.Errorf("body lost during stamping:\n%s", doc.Body)
	}

	snap, ok := snaps.Get("notes/a.md")
	if !ok {
		t.Fatal("snapshot not written")
	}
	if snap.RemoteID != rec.ID {
		t.Errorf("snapshot remote id = %q, want %q", snap.RemoteID, rec.ID)
	}
	if len(rem.records) != 1 {
		t.Errorf("remote has %d records, want 1", len(rem.records))
	}
}

func TestExecuteCreate_StampFailureLeavesCreateUndo(t *testing.T) {
	exec, rem, snaps, _ := newTestExecutor(t)

	stack := &RollbackStack{}
	// The document does not exist, so stamping fails right after the
	// remote create succeeded.
	_, err := exec.ExecuteCreate(context.Background(), CreateOperation{
		Path:        "missing.md",
		ContainerID: "c1",
		TypeID:      "type-note",
		Name:        "Missing",
	}, stack)
	if err == nil {
		t.Fatal("want error for missing document")
	}
	if stack.Len() != 1 {
		t.Fatalf("stack len = %d, want 1 (create undo only)", stack.Len())
	}
	if _, ok := snaps.Get("missing.md"); ok {
		t.Error("snapshot must not exist after failed create")
	}

	exec.Rollback(context.Background(), stack)
	if got := rem.deletedIDs(); len(got) != 1 {
		t.Errorf("rollback deleted %v, want one record", got)
	}
	if stack.Len() != 0 {
		t.Errorf("stack len after rollback = %d, want 0", stack.Len())
	}
}

func TestRollback_RestoresEverything(t *testing.T) {
	exec, rem, snaps, fx := newTestExecutor(t)
	original := "# Alpha\n\noriginal body\n"
	fx.write("a.md", original)

	stack := &RollbackStack{}
	rec, err := exec.ExecuteCreate(context.Background(), CreateOperation{
		Path:        "a.md",
		ContainerID: "c1",
		TypeID:      "type-note",
		Name:        "Alpha",
		Body:        original,
	}, stack)
	if err != nil {
		t.Fatalf("ExecuteCreate: %v", err)
	}

	exec.Rollback(context.Background(), stack)

	if got := fx.read("a.md"); !bytes.Equal(got, []byte(original)) {
		t.Errorf("content after rollback:\n%s\nwant:\n%s", got, original)
	}
	if _, ok := snaps.Get("a.md"); ok {
		t.Error("snapshot survived rollback")
	}
	if got := rem.deletedIDs(); len(got) != 1 || got[0] != rec.ID {
		t.Errorf("rollback deleted %v, want [%s]", got, rec.ID)
	}
}

func TestRollback_SwallowsStepFailures(t *testing.T) {
	exec, rem, snaps, fx := newTestExecutor(t)
	original := "body\n"
	fx.write("a.md", original)
	snaps.Set("a.md", models.SyncSnapshot{RemoteID: "rec-x"})

	rem.deleteErr = &remote.Error{StatusCode: 500, Message: "boom", Retryable: true}

	stack := &RollbackStack{}
	stack.push(RollbackEntry{Kind: RollbackStateClear, Path: "a.md"})
	stack.push(RollbackEntry{Kind: RollbackFrontmatterRevert, Path: "a.md", OriginalContent: []byte(original)})
	stack.push(RollbackEntry{Kind: RollbackRemoteCreateUndo, ContainerID: "c1", RemoteID: "rec-x"})

	exec.Rollback(context.Background(), stack)

	// The remote delete failed but the later (earlier-pushed) entries
	// were still undone.
	if got := fx.read("a.md"); !bytes.Equal(got, []byte(original)) {
		t.Errorf("content = %q, want %q", got, original)
	}
	if _, ok := snaps.Get("a.md"); ok {
		t.Error("snapshot not cleared")
	}
}

func TestExecuteUpdate(t *testing.T) {
	exec, rem, snaps, fx := newTestExecutor(t)
	fx.write("a.md", "---\nremote_id: rec-1\n---\nold body\n")
	rem.records["rec-1"] = &remote.Record{ID: "rec-1", Name: "Alpha", Body: "old body", UpdatedAt: baseTime}

	stack := &RollbackStack{}
	rec, err := exec.ExecuteUpdate(context.Background(), UpdateOperation{
		Path:        "a.md",
		ContainerID: "c1",
		RemoteID:    "rec-1",
		Name:        "Alpha",
		Body:        "new body",
	}, stack)
	if err != nil {
		t.Fatalf("ExecuteUpdate: %v", err)
	}
	if rec.Body != "new body" {
		t.Errorf("remote body = %q", rec.Body)
	}
	if stack.Len() != 2 {
		t.Errorf("stack len = %d, want 2", stack.Len())
	}
	snap, ok := snaps.Get("a.md")
	if !ok || snap.RemoteID != "rec-1" {
		t.Errorf("snapshot = %+v ok=%v", snap, ok)
	}
}

func TestExecuteBatch_SkipsAlreadyLinkedCreates(t *testing.T) {
	exec, rem, snaps, fx := newTestExecutor(t)
	fx.write("a.md", "body\n")
	snaps.Set("a.md", models.SyncSnapshot{RemoteID: "rec-9"})

	res := exec.ExecuteBatch(context.Background(), []CreateOperation{
		{Path: "a.md", ContainerID: "c1", TypeID: "t", Name: "a"},
	}, nil, BatchOptions{})

	if res.Conflicts != 1 || res.Created != 0 {
		t.Errorf("result = %+v, want 1 conflict, 0 created", res)
	}
	if len(rem.records) != 0 {
		t.Error("create was sent to the remote despite the existing link")
	}
}

func TestExecuteBatch_StopOnErrorRollsBack(t *testing.T) {
	exec, rem, snaps, fx := newTestExecutor(t)
	firstContent := "first\n"
	fx.write("a.md", firstContent)
	fx.write("b.md", "second\n")
	fx.write("c.md", "third\n")

	rem.createErr = func(req remote.CreateRecordRequest) error {
		if req.Name == "b" {
			return &remote.Error{StatusCode: 422, Message: "rejected"}
		}
		return nil
	}

	creates := []CreateOperation{
		{Path: "a.md", ContainerID: "c1", TypeID: "t", Name: "a", Body: "first\n"},
		{Path: "b.md", ContainerID: "c1", TypeID: "t", Name: "b", Body: "second\n"},
		{Path: "c.md", ContainerID: "c1", TypeID: "t", Name: "c", Body: "third\n"},
	}
	res := exec.ExecuteBatch(context.Background(), creates, nil, BatchOptions{
		StopOnError:     true,
		RollbackOnError: true,
	})

	if res.Created != 1 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v, want 1 created, 1 error", res)
	}
	if res.Errors[0].Path != "b.md" {
		t.Errorf("error path = %q", res.Errors[0].Path)
	}

	// The first create was unwound: record deleted, content restored,
	// snapshot gone. The third was never attempted.
	if got := rem.deletedIDs(); len(got) != 1 {
		t.Errorf("rollback deleted %v, want one record", got)
	}
	if got := fx.read("a.md"); !bytes.Equal(got, []byte(firstContent)) {
		t.Errorf("a.md = %q, want original %q", got, firstContent)
	}
	if _, ok := snaps.Get("a.md"); ok {
		t.Error("a.md snapshot survived rollback")
	}
	if _, ok := snaps.Get("c.md"); ok {
		t.Error("c.md was processed after the abort")
	}
}

func TestExecuteBatch_ContinuesPastErrors(t *testing.T) {
	exec, rem, _, fx := newTestExecutor(t)
	fx.write("a.md", "first\n")
	fx.write("b.md", "second\n")
	fx.write("c.md", "third\n")

	rem.createErr = func(req remote.CreateRecordRequest) error {
		if req.Name == "b" {
			return &remote.Error{StatusCode: 422, Message: "rejected"}
		}
		return nil
	}

	creates := []CreateOperation{
		{Path: "a.md", ContainerID: "c1", TypeID: "t", Name: "a", Body: "first\n"},
		{Path: "b.md", ContainerID: "c1", TypeID: "t", Name: "b", Body: "second\n"},
		{Path: "c.md", ContainerID: "c1", TypeID: "t", Name: "c", Body: "third\n"},
	}
	res := exec.ExecuteBatch(context.Background(), creates, nil, BatchOptions{})

	if res.Created != 2 || len(res.Errors) != 1 {
		t.Errorf("result = %+v, want 2 created, 1 error", res)
	}
	if len(res.CreatedRecords) != 2 {
		t.Errorf("created records = %d, want 2", len(res.CreatedRecords))
	}
}
