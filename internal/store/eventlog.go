package store

import (
	"context"
	"encoding/json"

	"github.com/rendis/docket/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore. The
// engine appends through it and rebuilds instance state from it on resume.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-instance
// sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for an instance with sequence > since, ordered by
// sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, instanceID, since)
}

// ReplayEvents folds an instance's history log back into per-task records
// and the terminal outcome, if one was recorded. It returns an error on
// sequence gaps and on duplicate scheduling of the same task; both indicate
// a corrupted log that must not be resumed.
func (el *EventLog) ReplayEvents(ctx context.Context, instanceID string) (*Replay, error) {
	events, err := el.store.GetEvents(ctx, instanceID, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load history for %s", instanceID).WithCause(err)
	}

	rp := &Replay{
		InstanceID: instanceID,
		Tasks:      make(map[string]*TaskRecord),
	}

	for i, e := range events {
		if e.Sequence != int64(i+1) {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in instance %s: expected %d, got %d", instanceID, i+1, e.Sequence)
		}
	}

	for _, e := range events {
		switch e.Type {
		case schema.EventTaskScheduled:
			if _, ok := rp.Tasks[e.TaskID]; ok {
				return nil, schema.NewErrorf(schema.ErrCodeStore,
					"task %s scheduled twice in instance %s", e.TaskID, instanceID)
			}
			ts := e.Timestamp
			rp.Tasks[e.TaskID] = &TaskRecord{
				InstanceID:  instanceID,
				TaskID:      e.TaskID,
				State:       schema.TaskStateScheduled,
				ScheduledAt: &ts,
			}

		case schema.EventTaskCompleted:
			rec := rp.taskRecord(e.TaskID)
			rec.State = schema.TaskStateCompleted
			rec.Result = e.Payload
			ts := e.Timestamp
			rec.CompletedAt = &ts

		case schema.EventTaskFailed:
			rec := rp.taskRecord(e.TaskID)
			rec.State = schema.TaskStateFailed
			rec.Failure = e.Payload
			ts := e.Timestamp
			rec.CompletedAt = &ts

		case schema.EventOrchestratorCompleted:
			var term schema.TerminalEvent
			if err := json.Unmarshal(e.Payload, &term); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeParse,
					"terminal event payload of instance %s", instanceID).WithCause(err)
			}
			rp.Terminal = &term
		}
		rp.LastSeq = e.Sequence
	}

	return rp, nil
}

// taskRecord returns the record for a task, creating it if the log carries
// an outcome for a task whose scheduling event was not (yet) seen.
func (rp *Replay) taskRecord(taskID string) *TaskRecord {
	rec, ok := rp.Tasks[taskID]
	if !ok {
		rec = &TaskRecord{
			InstanceID: rp.InstanceID,
			TaskID:     taskID,
			State:      schema.TaskStateScheduled,
		}
		rp.Tasks[taskID] = rec
	}
	return rec
}
