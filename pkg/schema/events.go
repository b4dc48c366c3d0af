package schema

// Event type constants for the history log. The four kinds are the complete
// vocabulary of an orchestration's record: scheduling decisions, task
// outcomes, and the single terminal marker.
const (
	EventTaskScheduled         = "task_scheduled"
	EventTaskCompleted         = "task_completed"
	EventTaskFailed            = "task_failed"
	EventOrchestratorCompleted = "orchestrator_completed"
)

// InstanceStatus is the externally visible lifecycle state of an
// orchestration instance. Terminal statuses are monotonic: once an instance
// is completed or failed it never becomes running again.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
)

// Terminal reports whether the status is a terminal one.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed
}

// InstancePhase tracks where the driver is inside the fan-out/fan-in/chain
// progression. Phases are derived from history during replay and persisted
// for observability only; the history log is the source of truth.
type InstancePhase string

const (
	PhaseCreated         InstancePhase = "created"
	PhaseFanOutScheduled InstancePhase = "fan_out_scheduled"
	PhaseFanOutAwaiting  InstancePhase = "fan_out_awaiting"
	PhaseFanInComplete   InstancePhase = "fan_in_complete"
	PhaseChainScheduled  InstancePhase = "chain_scheduled"
	PhaseChainAwaiting   InstancePhase = "chain_awaiting"
	PhaseCompleted       InstancePhase = "completed"
	PhaseFailed          InstancePhase = "failed"
)

// TaskState is the lifecycle state of a single dispatched task. A task that
// reached a terminal state is never mutated again; re-execution after a
// crash is suppressed by replay or absorbed by activity idempotency.
type TaskState string

const (
	TaskStateScheduled TaskState = "scheduled"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// Activity names double as task identifiers: each activity runs at most once
// per instance, so the name is unique within an instance's history.
const (
	ActivityExtractText         = "extract_text"
	ActivityExtractMetadata     = "extract_metadata"
	ActivityAnalyzeStatistics   = "analyze_statistics"
	ActivityDetectSensitiveData = "detect_sensitive_data"
	ActivityGenerateReport      = "generate_report"
	ActivityStoreReport         = "store_report"
)

// FanOutActivities is the fixed fan-out scheduling order. Replay matches
// scheduling decisions positionally against this list, so the order must
// never change between runs.
var FanOutActivities = []string{
	ActivityExtractText,
	ActivityExtractMetadata,
	ActivityAnalyzeStatistics,
	ActivityDetectSensitiveData,
}

// ChainActivities is the sequential tail that runs after the fan-in: each
// step feeds the next, in this order.
var ChainActivities = []string{
	ActivityGenerateReport,
	ActivityStoreReport,
}

// DefaultContainer is the logical container assumed when a start request
// omits one.
const DefaultContainer = "pdfs"
