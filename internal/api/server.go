// Package api is the HTTP surface: orchestration trigger and status, report
// queries with optional jq projection, live SSE streams, health, and the
// Prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/docket/internal/engine"
	"github.com/rendis/docket/internal/expressions"
	"github.com/rendis/docket/internal/metrics"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/internal/streaming"
)

// Orchestrator is the slice of the engine the API uses. Satisfied by
// *engine.Engine.
type Orchestrator interface {
	Start(ctx context.Context, body json.RawMessage, trigger string) (*store.Instance, error)
	Status(ctx context.Context, instanceID string) (*engine.InstanceStatus, error)
	History(ctx context.Context, instanceID string) ([]*store.Event, error)
}

// Deps holds the dependencies for the API server. Hub and Metrics are
// optional; their routes are mounted only when present.
type Deps struct {
	Store   store.Store
	Engine  Orchestrator
	Hub     streaming.EventHub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server serves the docket HTTP API.
type Server struct {
	deps Deps
	jq   *expressions.GoJQEngine
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		deps: deps,
		jq:   expressions.NewGoJQEngine(),
	}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Orchestration.
	mux.HandleFunc("POST /instances", s.handleStartInstance)
	mux.HandleFunc("GET /instances/{id}", s.handleGetInstance)
	mux.HandleFunc("GET /instances/{id}/history", s.handleInstanceHistory)

	// Reports.
	mux.HandleFunc("GET /reports/{container}", s.handleListReports)
	mux.HandleFunc("GET /reports/{container}/{blob_name}", s.handleGetReport)

	// SSE streams.
	if s.deps.Hub != nil {
		mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
		mux.HandleFunc("GET /sse/instances/{id}", s.handleSSEInstance)
	}

	// Operational.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	return mux
}
