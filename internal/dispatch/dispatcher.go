package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/rendis/docket/internal/logging"
	"github.com/rendis/docket/internal/validation"
	"github.com/rendis/docket/pkg/schema"
)

// Task is a single activity invocation for one orchestration instance.
type Task struct {
	TaskID   string          `json:"task_id"`
	Activity string          `json:"activity"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// Dispatcher runs activities with input validation and bounded retry.
// Delivery is at-least-once: a crash between execution and the history
// append causes a re-dispatch on replay, so activities must tolerate
// duplicate invocations with the same input.
type Dispatcher struct {
	registry  ActivityRegistry
	validator *validation.Validator
	policy    *schema.RetryPolicy
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil policy disables retries;
// a nil validator disables input-schema checks.
func NewDispatcher(registry ActivityRegistry, validator *validation.Validator, policy *schema.RetryPolicy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  registry,
		validator: validator,
		policy:    policy,
		logger:    logger,
	}
}

// Dispatch executes the task's activity and returns its output payload.
// Lookup and validation failures are returned without consuming retry
// attempts; execution failures are retried per the policy when retryable.
func (d *Dispatcher) Dispatch(ctx context.Context, instanceID string, task Task) (json.RawMessage, error) {
	activity, err := d.registry.Get(task.Activity)
	if err != nil {
		return nil, taskError(task.TaskID, err)
	}

	if d.validator != nil {
		if verr := d.validator.ValidateInput(task.Input, activity.Schema().InputSchema); verr != nil {
			return nil, taskError(task.TaskID, verr)
		}
	}

	ctx = logging.WithIDs(ctx, instanceID, task.TaskID, task.Activity)
	log := logging.LogWith(ctx, d.logger)

	maxRetries := 0
	if d.policy != nil {
		maxRetries = d.policy.Max
	}

	for attempt := 0; ; attempt++ {
		output, execErr := activity.Execute(ctx, task.Input)
		if execErr == nil {
			if attempt > 0 {
				log.Info("activity succeeded after retry", "attempt", attempt+1)
			}
			return output, nil
		}

		if !IsRetryableError(execErr) {
			log.Warn("activity failed with non-retryable error", "error", execErr)
			return nil, taskError(task.TaskID, execErr)
		}

		if attempt >= maxRetries {
			if maxRetries > 0 {
				return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
					"activity %s: retries exhausted after %d attempts: %s",
					task.Activity, attempt+1, execErr.Error()).
					WithTask(task.TaskID).WithCause(execErr)
			}
			return nil, taskError(task.TaskID, execErr)
		}

		delay := ComputeBackoff(d.policy, attempt)
		log.Warn("activity failed, retrying",
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"delay", delay.String(),
			"error", execErr)

		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return nil, taskError(task.TaskID, werr)
		}
	}
}

// taskError coerces err into a DocketError tagged with the task ID.
func taskError(taskID string, err error) error {
	var derr *schema.DocketError
	if errors.As(err, &derr) {
		if derr.TaskID == "" {
			derr.WithTask(taskID)
		}
		return derr
	}
	return schema.NewError(schema.ErrCodeDispatch, err.Error()).WithTask(taskID).WithCause(err)
}
