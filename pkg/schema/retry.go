package schema

import "errors"

// RetryPolicy configures retry behavior for dispatched activities.
type RetryPolicy struct {
	Max      int    `json:"max"`                 // max retry attempts after the first try
	Backoff  string `json:"backoff,omitempty"`   // none | linear | exponential | constant (default: none)
	Delay    string `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	MaxDelay string `json:"max_delay,omitempty"` // cap applied to the computed delay
}

// TerminalEvent is the payload of an orchestrator_completed history event.
// It records the final outcome so a replay of a terminal history needs no
// further decisions.
type TerminalEvent struct {
	Status InstanceStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// TaskFailure is the payload of a task_failed history event.
type TaskFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FailureFromError converts an error into a TaskFailure payload.
// Typed DocketErrors keep their code; anything else becomes INTERNAL_ERROR.
func FailureFromError(err error) TaskFailure {
	var derr *DocketError
	if errors.As(err, &derr) {
		return TaskFailure{Code: derr.Code, Message: derr.Message}
	}
	return TaskFailure{Code: ErrCodeInternal, Message: err.Error()}
}
