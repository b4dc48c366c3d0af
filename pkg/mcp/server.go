package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/docket/internal/engine"
	"github.com/rendis/docket/internal/expressions"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/internal/streaming"
)

// Orchestrator is the slice of the engine the MCP tools use. Satisfied by
// *engine.Engine.
type Orchestrator interface {
	Start(ctx context.Context, body json.RawMessage, trigger string) (*store.Instance, error)
	Status(ctx context.Context, instanceID string) (*engine.InstanceStatus, error)
}

// DocketServerDeps holds the dependencies for creating a DocketServer.
type DocketServerDeps struct {
	Engine Orchestrator
	Store  store.Store
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// DocketServer wraps an MCP server with docket-specific tool handlers.
type DocketServer struct {
	engine    Orchestrator
	store     store.Store
	hub       streaming.EventHub
	sessions  *SessionRegistry
	jq        *expressions.GoJQEngine
	logger    *slog.Logger
	mcpServer *server.MCPServer
	notifier  *ProgressNotifier
}

// NewDocketServer creates a new DocketServer with all 4 tools registered.
func NewDocketServer(deps DocketServerDeps) *DocketServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &DocketServer{
		engine:   deps.Engine,
		store:    deps.Store,
		hub:      deps.Hub,
		sessions: NewSessionRegistry(),
		jq:       expressions.NewGoJQEngine(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"docket",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Docket is a durable document-analysis orchestration engine. Use docket.start to analyze a stored document, docket.status to follow an instance, docket.reports to list stored analysis reports, and docket.report to fetch a single report, optionally projected with a jq query."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	if s.hub != nil {
		s.notifier = NewProgressNotifier(mcpSrv, s.hub, s.sessions, logger)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Progress notifications flow for the lifetime of the call.
func (s *DocketServer) Serve(ctx context.Context) error {
	if s.notifier != nil {
		if err := s.notifier.Start(ctx); err != nil {
			return err
		}
		defer s.notifier.Stop()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DocketServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *DocketServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: reportsTool(), Handler: s.handleReports},
		{Tool: reportTool(), Handler: s.handleReport},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("docket.start",
		mcp.WithDescription("Start the analysis orchestration for a stored document"),
		mcp.WithString("blob_name", mcp.Required(), mcp.Description("Name of the document blob to analyze")),
		mcp.WithString("container", mcp.Description("Storage container holding the document (default: pdfs)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("docket.status",
		mcp.WithDescription("Get the status of an analysis instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to query")),
	)
}

func reportsTool() mcp.Tool {
	return mcp.NewTool("docket.reports",
		mcp.WithDescription("List stored analysis reports, newest first"),
		mcp.WithString("container", mcp.Description("Storage container to list (default: pdfs)")),
		mcp.WithString("top", mcp.Description("Maximum number of reports to return (default 50, max 200)")),
	)
}

func reportTool() mcp.Tool {
	return mcp.NewTool("docket.report",
		mcp.WithDescription("Fetch the analysis report for a document, optionally projected with a jq query"),
		mcp.WithString("blob_name", mcp.Required(), mcp.Description("Name of the analyzed document blob")),
		mcp.WithString("container", mcp.Description("Storage container holding the document (default: pdfs)")),
		mcp.WithString("query", mcp.Description("jq expression applied to the report server-side")),
	)
}
