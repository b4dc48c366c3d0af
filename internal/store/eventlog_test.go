package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docket/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	for i, task := range schema.FanOutActivities {
		e := &Event{
			InstanceID: inst.ID,
			TaskID:     task,
			Type:       schema.EventTaskScheduled,
		}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
	}
}

func TestEventLog_GetEvents(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskScheduled,
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskCompleted,
		Payload: json.RawMessage(`{"full_text":"hello"}`),
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, Type: schema.EventOrchestratorCompleted,
		Payload: json.RawMessage(`{"status":"completed"}`),
	}))

	events, err := el.GetEvents(ctx, inst.ID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = el.GetEvents(ctx, inst.ID, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
}

func TestEventLog_ReplayEvents_FanOutLifecycle(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	now := time.Now().UTC()

	// All four analyses scheduled in the fixed order.
	for _, task := range schema.FanOutActivities {
		require.NoError(t, el.AppendEvent(ctx, &Event{
			InstanceID: inst.ID, TaskID: task, Type: schema.EventTaskScheduled, Timestamp: now,
		}))
	}

	// Two complete, one fails, one stays in flight.
	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskCompleted,
		Payload:   json.RawMessage(`{"full_text":"hi","pages":[{"page":1,"text":"hi"}]}`),
		Timestamp: now.Add(100 * time.Millisecond),
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractMetadata, Type: schema.EventTaskCompleted,
		Payload:   json.RawMessage(`{"title":"T"}`),
		Timestamp: now.Add(150 * time.Millisecond),
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityAnalyzeStatistics, Type: schema.EventTaskFailed,
		Payload:   json.RawMessage(`{"code":"RETRY_EXHAUSTED","message":"boom"}`),
		Timestamp: now.Add(200 * time.Millisecond),
	}))

	rp, err := el.ReplayEvents(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, rp.Tasks, 4)
	assert.Equal(t, int64(7), rp.LastSeq)
	assert.Nil(t, rp.Terminal)

	text := rp.Tasks[schema.ActivityExtractText]
	assert.Equal(t, schema.TaskStateCompleted, text.State)
	assert.True(t, text.Done())
	assert.NotNil(t, text.ScheduledAt)
	assert.NotNil(t, text.CompletedAt)
	assert.JSONEq(t, `{"full_text":"hi","pages":[{"page":1,"text":"hi"}]}`, string(text.Result))

	stats := rp.Tasks[schema.ActivityAnalyzeStatistics]
	assert.Equal(t, schema.TaskStateFailed, stats.State)
	assert.JSONEq(t, `{"code":"RETRY_EXHAUSTED","message":"boom"}`, string(stats.Failure))

	// detect_sensitive_data never finished: scheduled, not done, so a
	// resuming driver must re-dispatch it.
	sens := rp.Tasks[schema.ActivityDetectSensitiveData]
	assert.Equal(t, schema.TaskStateScheduled, sens.State)
	assert.False(t, sens.Done())
}

func TestEventLog_ReplayEvents_Terminal(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskScheduled,
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, Type: schema.EventOrchestratorCompleted,
		Payload: json.RawMessage(`{"status":"failed","error":"task analyze_statistics failed: boom"}`),
	}))

	rp, err := el.ReplayEvents(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, rp.Terminal)
	assert.Equal(t, schema.InstanceStatusFailed, rp.Terminal.Status)
	assert.Contains(t, rp.Terminal.Error, "analyze_statistics")
}

func TestEventLog_ReplayEvents_Empty(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	rp, err := el.ReplayEvents(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, rp.Tasks)
	assert.Nil(t, rp.Terminal)
	assert.Equal(t, int64(0), rp.LastSeq)
}

func TestEventLog_ReplayEvents_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	// Manually insert events with a gap using the raw database.
	db := s.DB()
	_, err := db.ExecContext(ctx,
		`INSERT INTO events (instance_id, task_id, event_type, timestamp, sequence) VALUES (?, 'extract_text', 'task_scheduled', CURRENT_TIMESTAMP, 1)`,
		inst.ID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO events (instance_id, task_id, event_type, timestamp, sequence) VALUES (?, 'extract_text', 'task_completed', CURRENT_TIMESTAMP, 3)`,
		inst.ID)
	require.NoError(t, err)

	_, err = el.ReplayEvents(ctx, inst.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}

func TestEventLog_ReplayEvents_DuplicateSchedule(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskScheduled,
	}))
	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskScheduled,
	}))

	_, err := el.ReplayEvents(ctx, inst.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduled twice")
}

func TestEventLog_ConcurrentAppend_DifferentInstances(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	var instances []*Instance
	for i := 0; i < 5; i++ {
		instances = append(instances, seedInstance(t, s))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)

	for _, inst := range instances {
		inst := inst
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				e := &Event{
					InstanceID: inst.ID,
					TaskID:     schema.ActivityExtractText,
					Type:       schema.EventTaskCompleted,
				}
				if err := el.AppendEvent(ctx, e); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	// Verify each instance has correct sequences 1..10
	for _, inst := range instances {
		events, err := el.GetEvents(ctx, inst.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestEventLog_InstanceScopedSequences(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	inst1 := seedInstance(t, s)
	inst2 := seedInstance(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{InstanceID: inst1.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskScheduled}))
	require.NoError(t, el.AppendEvent(ctx, &Event{InstanceID: inst1.ID, TaskID: schema.ActivityExtractMetadata, Type: schema.EventTaskScheduled}))

	e := &Event{InstanceID: inst2.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskScheduled}
	require.NoError(t, el.AppendEvent(ctx, e))
	assert.Equal(t, int64(1), e.Sequence, "second instance has its own sequence starting at 1")
}

func TestEventLog_ImmutableEvents(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	inst := seedInstance(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{
		InstanceID: inst.ID, TaskID: schema.ActivityExtractText, Type: schema.EventTaskCompleted,
		Payload: json.RawMessage(`{"original":true}`),
	}))

	events, err := el.GetEvents(ctx, inst.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"original":true}`, string(events[0].Payload))
}
