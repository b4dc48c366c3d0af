// Package dispatch executes orchestration activities with input validation
// and bounded retry. Activities are idempotent: the engine may dispatch the
// same task more than once after a crash.
package dispatch

import (
	"context"
	"encoding/json"
)

// Activity is an executable unit of work scheduled by the orchestrator.
type Activity interface {
	Name() string
	Schema() ActivitySchema
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// ActivityRegistry manages the lookup of available activities.
type ActivityRegistry interface {
	Register(activity Activity) error
	Get(name string) (Activity, error)
	List() []ActivityInfo
}

// ActivitySchema describes the input contract of an activity.
type ActivitySchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActivityInfo is a summary of a registered activity for listing.
type ActivityInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
