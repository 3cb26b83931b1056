// Package mcp exposes a read-only view of the workout-session engine to
// MCP clients: current session state, personal records, and sync-queue
// status.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/outbox"
)

// RecordSource looks up a user's best for an exercise.
type RecordSource interface {
	PersonalRecord(ctx context.Context, userID int, exerciseID string) (models.PersonalRecord, error)
}

// New creates an MCP server with all tools registered.
func New(eng *engine.Engine, queue *outbox.Queue, prior RecordSource, userID int, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("LiftLog", version,
		server.WithToolCapabilities(false),
		server.WithInstructions("LiftLog workout session server. Inspect the active workout session, personal records, and pending sync state. All data is scoped to the authenticated user."),
	)

	h := &handlers{eng: eng, queue: queue, prior: prior, userID: userID, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolGetSessionState, Handler: h.getSessionState},
		server.ServerTool{Tool: toolGetPersonalRecord, Handler: h.getPersonalRecord},
		server.ServerTool{Tool: toolGetSyncStatus, Handler: h.getSyncStatus},
	)

	return s
}

// handlers holds dependencies for MCP tool handlers.
type handlers struct {
	eng    *engine.Engine
	queue  *outbox.Queue
	prior  RecordSource
	userID int
	log    *slog.Logger
}

var toolGetSessionState = mcp.NewTool("get_session_state",
	mcp.WithDescription("Current workout session: lifecycle state, exercise roster, per-set saved/personal-record flags, and whether unsaved input exists."),
)

var toolGetPersonalRecord = mcp.NewTool("get_personal_record",
	mcp.WithDescription("Best volume or duration the user has ever logged for an exercise."),
	mcp.WithString("exercise", mcp.Required(), mcp.Description("Exercise id")),
)

var toolGetSyncStatus = mcp.NewTool("get_sync_status",
	mcp.WithDescription("Number of local mutations still waiting to be applied to the remote store."),
)

func (h *handlers) getSessionState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(h.eng.Snapshot())
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getPersonalRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exercise, err := req.RequireString("exercise")
	if err != nil {
		return mcp.NewToolResultError("exercise parameter is required"), nil
	}

	pr, err := h.prior.PersonalRecord(ctx, h.userID, exercise)
	if err != nil {
		h.log.Error("mcp get_personal_record", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(pr)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getSyncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending, err := h.queue.Len()
	if err != nil {
		h.log.Error("mcp get_sync_status", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(map[string]int{"pending": pending})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
