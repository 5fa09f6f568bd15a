// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Laguz sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/syncservice"
)

// Server wraps the MCP server with Laguz sync tools.
type Server struct {
	mcp *server.MCPServer
	svc *syncservice.Service
}

// New creates a new MCP server with all Laguz tools registered.
func New(svc *syncservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Laguz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Get the sync queue status: pending, processing, completed, and failed counters."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("sync_document",
		mcp.WithDescription("Synchronize a single document with the remote store immediately, "+
			"bypassing the queue's debounce window. Returns the outcome including any conflict details."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. folder/note.md)")),
	), s.syncDocument)

	s.mcp.AddTool(mcp.NewTool("sync_all",
		mcp.WithDescription("Run a one-shot sync pass over every document in the vault and return a summary."),
	), s.syncAll)

	s.mcp.AddTool(mcp.NewTool("document_status",
		mcp.WithDescription("Inspect how one document relates to the remote store: tracked state, "+
			"remote record id, and the last synced baseline. Does not contact the remote."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document")),
	), s.documentStatus)

	s.mcp.AddTool(mcp.NewTool("list_failed",
		mcp.WithDescription("List documents parked after exhausting their sync retries."),
	), s.listFailed)

	s.mcp.AddTool(mcp.NewTool("retry_failed",
		mcp.WithDescription("Reset and re-enqueue every failed document."),
	), s.retryFailed)

	s.mcp.AddTool(mcp.NewTool("clear_failed",
		mcp.WithDescription("Abandon every failed document without retrying."),
	), s.clearFailed)

	s.mcp.AddTool(mcp.NewTool("sync_history",
		mcp.WithDescription("List recent sync outcomes, optionally scoped to one document."),
		mcp.WithString("path", mcp.Description("Optional document path to scope the history to")),
	), s.syncHistory)

	s.mcp.AddTool(mcp.NewTool("get_sync_markers",
		mcp.WithDescription("Returns the contract describing the frontmatter sync markers and "+
			"conflict markers Laguz writes into documents. Call this before editing synced documents."),
	), s.getSyncMarkers)

	// Resource: sync markers contract.
	s.mcp.AddResource(
		mcp.NewResource("laguz://sync-markers", "Sync Markers Contract",
			mcp.WithResourceDescription("Frontmatter and conflict markers used by the sync engine."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSyncMarkersResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Status()), nil
}

func (s *Server) syncDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.SyncDocument(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload := map[string]any{
		"path":      out.Path,
		"action":    out.Action,
		"remote_id": out.RemoteID,
		"retryable": out.Retryable,
	}
	if out.Err != nil {
		payload["error"] = out.Err.Error()
	}
	if out.Conflict != nil {
		payload["conflict"] = out.Conflict
	}
	if out.Resolution != nil {
		payload["resolution"] = out.Resolution
	}
	return jsonResult(payload), nil
}

func (s *Server) syncAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := s.svc.RunAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum.Outcomes = nil
	return jsonResult(sum), nil
}

func (s *Server) documentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.svc.DocumentStatus(path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st), nil
}

func (s *Server) listFailed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items := s.svc.Failed()
	if len(items) == 0 {
		return mcp.NewToolResultText("no failed documents"), nil
	}
	return jsonResult(items), nil
}

func (s *Server) retryFailed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("re-enqueued %d documents", s.svc.RetryFailed())), nil
}

func (s *Server) clearFailed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("cleared %d documents", s.svc.ClearFailed())), nil
}

func (s *Server) syncHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := ""
	if p, err := req.RequireString("path"); err == nil {
		path = p
	}
	entries, err := s.svc.History(path, 50)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no history"), nil
	}
	return jsonResult(entries), nil
}

func (s *Server) getSyncMarkers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SyncMarkersContract), nil
}

func (s *Server) readSyncMarkersResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "laguz://sync-markers",
			MIMEType: "text/markdown",
			Text:     SyncMarkersContract,
		},
	}, nil
}
