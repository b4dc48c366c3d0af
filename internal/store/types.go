package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/docket/pkg/schema"
)

// Instance is a persisted orchestration instance. Status and phase mirror
// what the history log implies; the log remains authoritative on replay.
type Instance struct {
	ID          string                `json:"id"`
	Container   string                `json:"container"`
	BlobName    string                `json:"blob_name"`
	Status      schema.InstanceStatus `json:"status"`
	Phase       schema.InstancePhase  `json:"phase"`
	Output      json.RawMessage       `json:"output,omitempty"`
	Error       json.RawMessage       `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// Event is one entry of an instance's append-only history log. Sequence is
// scoped per instance and assigned by the event log at append time.
type Event struct {
	ID         int64           `json:"id"`
	InstanceID string          `json:"instance_id"`
	TaskID     string          `json:"task_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// TaskRecord is the replayed view of a single task: the fold of its
// scheduling decision and, if present, its terminal outcome.
type TaskRecord struct {
	InstanceID  string
	TaskID      string
	State       schema.TaskState
	Result      json.RawMessage
	Failure     json.RawMessage
	ScheduledAt *time.Time
	CompletedAt *time.Time
}

// Done reports whether the task reached a terminal state.
func (r *TaskRecord) Done() bool {
	return r.State == schema.TaskStateCompleted || r.State == schema.TaskStateFailed
}

// Replay is the state reconstructed from an instance's history log.
type Replay struct {
	InstanceID string
	Tasks      map[string]*TaskRecord
	Terminal   *schema.TerminalEvent
	LastSeq    int64
}

// ReportRow is one persisted report row, keyed (partition_key, row_key) =
// (container, blob name). Zero-valued fields are preserved by the
// merge-upsert rather than overwritten.
type ReportRow struct {
	PartitionKey   string
	RowKey         string
	GeneratedAtUTC string
	Report         json.RawMessage
	Classification string
	UpdatedAt      time.Time
}

// ReportSummary is the list projection of a report row.
type ReportSummary struct {
	Container      string `json:"container"`
	BlobName       string `json:"blob_name"`
	GeneratedAtUTC string `json:"generated_at_utc"`
}

// InstanceFilter narrows ListInstances. Zero values mean no constraint.
type InstanceFilter struct {
	Status    *schema.InstanceStatus
	Container string
	BlobName  string
	Since     *time.Time
	Limit     int
	Offset    int
}

// InstanceUpdate is a partial update; nil fields are left untouched.
type InstanceUpdate struct {
	Status      *schema.InstanceStatus
	Phase       *schema.InstancePhase
	Output      json.RawMessage
	Error       json.RawMessage
	CompletedAt *time.Time
}
