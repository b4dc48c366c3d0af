package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/docket/internal/streaming"
)

// ProgressNotifier forwards hub events to the MCP sessions watching the
// affected instances. Best-effort: events for unwatched instances and
// expired sessions are dropped.
type ProgressNotifier struct {
	mcpServer *server.MCPServer
	hub       streaming.EventHub
	sessions  *SessionRegistry
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProgressNotifier creates a notifier that pushes hub events over MCP.
func NewProgressNotifier(mcpServer *server.MCPServer, hub streaming.EventHub, sessions *SessionRegistry, logger *slog.Logger) *ProgressNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressNotifier{mcpServer: mcpServer, hub: hub, sessions: sessions, logger: logger}
}

// Start subscribes to the hub and begins forwarding events.
func (n *ProgressNotifier) Start(ctx context.Context) error {
	if n.cancel != nil {
		return fmt.Errorf("notifier already started")
	}
	ctx, cancel := context.WithCancel(ctx)

	events, unsubscribe, err := n.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe notifier: %w", err)
	}

	n.cancel = cancel
	n.done = make(chan struct{})
	go n.pump(ctx, events, unsubscribe)
	return nil
}

// pump drains the hub subscription until the context ends.
func (n *ProgressNotifier) pump(ctx context.Context, events <-chan streaming.StreamEvent, unsubscribe func()) {
	defer close(n.done)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.forward(ev)
		}
	}
}

// forward pushes one event to the watching session, if any.
func (n *ProgressNotifier) forward(ev streaming.StreamEvent) {
	sessionID, ok := n.sessions.SessionFor(ev.InstanceID)
	if ok {
		payload := map[string]any{
			"instance_id": ev.InstanceID,
			"event_type":  ev.EventType,
		}
		if ev.TaskID != "" {
			payload["task_id"] = ev.TaskID
		}
		if ev.Payload != nil {
			payload["payload"] = ev.Payload
		}

		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
		switch {
		case errors.Is(err, server.ErrSessionNotFound):
			// Session expired between lookup and send.
			n.sessions.Remove(sessionID)
		case err != nil:
			n.logger.Warn("progress notification failed", "instance_id", ev.InstanceID, "error", err)
		}
	}

	// A terminal instance has nothing further to report.
	if ev.EventType == streaming.EventInstanceCompleted || ev.EventType == streaming.EventInstanceFailed {
		n.sessions.Forget(ev.InstanceID)
	}
}

// Stop ends forwarding and waits for the pump to exit. Idempotent.
func (n *ProgressNotifier) Stop() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	<-n.done
	n.cancel = nil
}
