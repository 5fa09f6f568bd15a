package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/laguz/internal/engine"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/remote"
	"github.com/starford/laguz/internal/storage"
	"github.com/starford/laguz/internal/syncservice"
)

// memSnaps is an in-memory snapshot store for MCP tests.
type memSnaps struct {
	mu sync.Mutex
	m  map[string]models.SyncSnapshot
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

// nullRemote accepts every operation.
type nullRemote struct {
	mu     sync.Mutex
	nextID int
}

func (n *nullRemote) CreateRecord(_ context.Context, _ string, req remote.CreateRecordRequest) (*remote.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	return &remote.Record{ID: "rec-1", TypeID: req.TypeID, Name: req.Name, Body: req.Body, UpdatedAt: time.Now().UTC()}, nil
}
func (n *nullRemote) UpdateRecord(_ context.Context, _ string, recordID string, req remote.UpdateRecordRequest) (*remote.Record, error) {
	return &remote.Record{ID: recordID, Name: req.Name, Body: req.Body, UpdatedAt: time.Now().UTC()}, nil
}
func (n *nullRemote) DeleteRecord(context.Context, string, string) error { return nil }
func (n *nullRemote) GetRecord(_ context.Context, _ string, recordID string) (*remote.Record, error) {
	return &remote.Record{ID: recordID, UpdatedAt: time.Now().UTC()}, nil
}

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()

	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rem := &nullRemote{}
	snaps := &memSnaps{m: make(map[string]models.SyncSnapshot)}
	exec := engine.NewExecutor(rem, store, snaps, logger)
	disp := engine.NewDispatcher(exec, rem, store, snaps, logger)
	queue := engine.NewQueue(disp, snaps, engine.QueueConfig{}, logger)
	t.Cleanup(queue.Close)

	container := models.ContainerConfig{ContainerID: "c1", DefaultTypeID: "type-note"}
	svc := syncservice.NewService(queue, disp, store, snaps, nil, container, logger)
	return New(svc), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call
	// the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "sync_status":
		result, err = srv.syncStatus(ctx, req)
	case "sync_document":
		result, err = srv.syncDocument(ctx, req)
	case "sync_all":
		result, err = srv.syncAll(ctx, req)
	case "document_status":
		result, err = srv.documentStatus(ctx, req)
	case "list_failed":
		result, err = srv.listFailed(ctx, req)
	case "retry_failed":
		result, err = srv.retryFailed(ctx, req)
	case "clear_failed":
		result, err = srv.clearFailed(ctx, req)
	case "sync_history":
		result, err = srv.syncHistory(ctx, req)
	case "get_sync_markers":
		result, err = srv.getSyncMarkers(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSyncStatusTool(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "sync_status", map[string]interface{}{})
	var st syncservice.Status
	if err := json.Unmarshal([]byte(resultText(r)), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Active {
		t.Error("fresh queue should be active")
	}
}

func TestSyncDocumentTool(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("test.md", []byte("# Test\nHello"))

	r := callTool(t, srv, "sync_document", map[string]interface{}{"path": "test.md"})
	text := resultText(r)
	if r.IsError {
		t.Fatalf("tool error: %s", text)
	}
	if !strings.Contains(text, `"action": "created"`) {
		t.Errorf("result = %q", text)
	}
}

func TestSyncDocumentToolRequiresPath(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "sync_document", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error without path")
	}
}

func TestSyncAllTool(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("a.md", []byte("# A"))
	_ = store.Write("b.md", []byte("# B"))

	r := callTool(t, srv, "sync_all", map[string]interface{}{})
	var sum syncservice.RunSummary
	if err := json.Unmarshal([]byte(resultText(r)), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Total != 2 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestDocumentStatusTool(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("plain.md", []byte("# Plain"))

	r := callTool(t, srv, "document_status", map[string]interface{}{"path": "plain.md"})
	text := resultText(r)
	if !strings.Contains(text, `"tracked": false`) {
		t.Errorf("status = %q", text)
	}

	r = callTool(t, srv, "document_status", map[string]interface{}{"path": "missing.md"})
	if !r.IsError {
		t.Error("expected error for missing document")
	}
}

func TestFailedTools(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_failed", map[string]interface{}{})
	if resultText(r) != "no failed documents" {
		t.Errorf("list result = %q", resultText(r))
	}
	r = callTool(t, srv, "retry_failed", map[string]interface{}{})
	if resultText(r) != "re-enqueued 0 documents" {
		t.Errorf("retry result = %q", resultText(r))
	}
	r = callTool(t, srv, "clear_failed", map[string]interface{}{})
	if resultText(r) != "cleared 0 documents" {
		t.Errorf("clear result = %q", resultText(r))
	}
}

func TestSyncHistoryToolWithoutJournal(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "sync_history", map[string]interface{}{})
	if resultText(r) != "no history" {
		t.Errorf("history result = %q", resultText(r))
	}
}

func TestSyncMarkersTool(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_sync_markers", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "remote_id") || !strings.Contains(text, "<<<<<<< LOCAL") {
		t.Errorf("contract missing markers:\n%s", text)
	}
}
