package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/scheduler"
	"github.com/kalambet/jopper/internal/syncer"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Config config.Config
	Store  StateReader
	Sync   Trigger
}

// NewMCPServer creates an MCP server exposing the sync tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"jopper",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("jopper keeps an OpenWebUI knowledge base in sync with Joplin notes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("sync_status",
			mcp.WithDescription("Show the sync configuration, the number of synced notes and the last run."),
		),
		mcpSyncStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_now",
			mcp.WithDescription("Run a Joplin to OpenWebUI sync now and return its counters."),
		),
		mcpSyncNow(deps),
	)

	s.AddTool(
		mcp.NewTool("list_synced_notes",
			mcp.WithDescription("List notes currently synced to OpenWebUI, most recent first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of notes (default 20, max 100)")),
		),
		mcpListSyncedNotes(deps),
	)

	return s
}

func mcpSyncStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := syncer.ReadStatus(deps.Config, deps.Store)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read status: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpSyncNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Sync.TriggerNow(ctx)
		if errors.Is(err, scheduler.ErrBusy) {
			return mcpError("a sync is already running, try again later"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("sync failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpListSyncedNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultListLimit)
		if limit <= 0 {
			limit = defaultListLimit
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}

		recs, err := deps.Store.ListRecords(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list notes: %v", err)), nil
		}
		return mcpJSON(syncer.FromRecords(recs))
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
