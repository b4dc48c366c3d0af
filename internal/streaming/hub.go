package streaming

import "context"

// Event types published over the hub. Instance events mark lifecycle
// transitions; task events mirror what the history log records.
const (
	EventInstanceStarted   = "instance.started"
	EventTaskScheduled     = "task.scheduled"
	EventTaskCompleted     = "task.completed"
	EventTaskFailed        = "task.failed"
	EventInstanceCompleted = "instance.completed"
	EventInstanceFailed    = "instance.failed"
	EventReportStored      = "report.stored"
)

// StreamEvent is a real-time event emitted while an instance runs.
type StreamEvent struct {
	InstanceID string `json:"instance_id"`
	TaskID     string `json:"task_id,omitempty"`
	EventType  string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	InstanceID string   `json:"instance_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time instance events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
