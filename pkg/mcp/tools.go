package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/pkg/schema"
)

const (
	defaultTop = 50
	maxTop     = 200
)

// handleStart launches the analysis orchestration for a document.
func (s *DocketServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	blobName, err := req.RequireString("blob_name")
	if err != nil {
		return mcp.NewToolResultError("blob_name is required"), nil
	}
	container := req.GetString("container", "")

	body, marshalErr := json.Marshal(schema.StartRequest{Container: container, BlobName: blobName})
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode start request: %v", marshalErr)), nil
	}

	inst, startErr := s.engine.Start(ctx, body, "mcp")
	if startErr != nil {
		if inst != nil {
			// Rejected starts still leave a queryable failed instance.
			return mcp.NewToolResultError(fmt.Sprintf("start rejected: %v (recorded as instance %s)", startErr, inst.ID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
	}

	// Route progress notifications for this instance to the caller.
	s.captureSession(ctx, inst.ID)

	return marshalResult(map[string]any{
		"instance_id": inst.ID,
		"status":      inst.Status,
		"container":   inst.Container,
		"blob_name":   inst.BlobName,
	})
}

// handleStatus returns the current state of an analysis instance.
func (s *DocketServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	status, statusErr := s.engine.Status(ctx, instanceID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	// Asking about an instance counts as watching it.
	s.captureSession(ctx, instanceID)

	return marshalResult(status)
}

// handleReports lists stored analysis reports, newest first.
func (s *DocketServer) handleReports(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	container := req.GetString("container", schema.DefaultContainer)
	top := parseTop(req.GetString("top", ""))

	rows, err := s.store.ListReports(ctx, container, top)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report listing failed: %v", err)), nil
	}
	if rows == nil {
		rows = []*store.ReportSummary{}
	}

	return marshalResult(map[string]any{
		"count":   len(rows),
		"results": rows,
	})
}

// handleReport fetches one stored report, optionally projected with jq.
func (s *DocketServer) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	blobName, err := req.RequireString("blob_name")
	if err != nil {
		return mcp.NewToolResultError("blob_name is required"), nil
	}
	container := req.GetString("container", schema.DefaultContainer)
	query := req.GetString("query", "")

	row, getErr := s.store.GetReport(ctx, container, blobName)
	if getErr != nil {
		if schema.IsCode(getErr, schema.ErrCodeNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no report for %s/%s", container, blobName)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("report lookup failed: %v", getErr)), nil
	}

	if query == "" {
		return mcp.NewToolResultJSON(json.RawMessage(row.Report))
	}

	var doc map[string]any
	if unmarshalErr := json.Unmarshal(row.Report, &doc); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stored report is not valid JSON: %v", unmarshalErr)), nil
	}
	result, evalErr := s.jq.Evaluate(ctx, query, doc)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("jq projection failed: %v", evalErr)), nil
	}

	return marshalResult(map[string]any{"result": result})
}

// --- Internal helpers ---

// parseTop parses the optional top argument and bounds it to [1, maxTop].
func parseTop(raw string) int {
	if raw == "" {
		return defaultTop
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultTop
	}
	if n < 1 {
		return 1
	}
	if n > maxTop {
		return maxTop
	}
	return n
}

// captureSession maps the instance to the caller's MCP session so progress
// notifications reach whoever is watching it.
func (s *DocketServer) captureSession(ctx context.Context, instanceID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Watch(instanceID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
