package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/docket/internal/streaming"
	"github.com/rendis/docket/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierDropsExpiredSessions(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewDocketServer(DocketServerDeps{Hub: hub})
	require.NotNil(t, s.notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.notifier.Start(ctx))
	defer s.notifier.Stop()

	// No live MCP session backs this ID, so the send fails and the watch
	// is discarded.
	s.sessions.Watch("inst-1", "session-gone")

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		InstanceID: "inst-1",
		TaskID:     schema.ActivityExtractText,
		EventType:  streaming.EventTaskCompleted,
	}))

	assert.Eventually(t, func() bool {
		_, ok := s.sessions.SessionFor("inst-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNotifierForgetsTerminalInstances(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewDocketServer(DocketServerDeps{Hub: hub})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.notifier.Start(ctx))
	defer s.notifier.Stop()

	s.sessions.Watch("inst-1", "session-a")
	s.sessions.Watch("inst-2", "session-b")

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		InstanceID: "inst-1",
		EventType:  streaming.EventInstanceCompleted,
	}))

	assert.Eventually(t, func() bool {
		_, ok := s.sessions.SessionFor("inst-1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	// The terminal event on inst-1 leaves other watches alone.
	_, ok := s.sessions.SessionFor("inst-2")
	assert.True(t, ok)
}

func TestNotifierStartTwice(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewDocketServer(DocketServerDeps{Hub: hub})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.notifier.Start(ctx))
	defer s.notifier.Stop()

	assert.Error(t, s.notifier.Start(ctx))
}

func TestNotifierStopIdempotent(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewDocketServer(DocketServerDeps{Hub: hub})

	require.NoError(t, s.notifier.Start(context.Background()))
	s.notifier.Stop()
	s.notifier.Stop()
}
