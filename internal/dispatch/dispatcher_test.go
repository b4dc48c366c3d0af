package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docket/internal/validation"
	"github.com/rendis/docket/pkg/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{
		name: "extract_text",
		execute: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"full_text":"hello"}`), nil
		},
	}))

	d := NewDispatcher(reg, nil, nil, discardLogger())
	out, err := d.Dispatch(context.Background(), "inst-1", Task{
		TaskID:   "extract_text",
		Activity: "extract_text",
		Input:    json.RawMessage(`{"container":"pdfs","blob_name":"a.pdf"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"full_text":"hello"}`, string(out))
}

func TestDispatcher_ActivityNotFound(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, nil, discardLogger())

	_, err := d.Dispatch(context.Background(), "inst-1", Task{
		TaskID:   "t1",
		Activity: "missing",
	})
	require.Error(t, err)

	var derr *schema.DocketError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeDispatch, derr.Code)
	assert.Equal(t, "t1", derr.TaskID)
}

func TestDispatcher_InputValidationRejects(t *testing.T) {
	validator, err := validation.NewValidator()
	require.NoError(t, err)

	calls := 0
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{
		name:   "extract_metadata",
		schema: json.RawMessage(`{"type":"object","required":["blob_name"]}`),
		execute: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			calls++
			return nil, nil
		},
	}))

	d := NewDispatcher(reg, validator, nil, discardLogger())
	_, err = d.Dispatch(context.Background(), "inst-1", Task{
		TaskID:   "extract_metadata",
		Activity: "extract_metadata",
		Input:    json.RawMessage(`{"container":"pdfs"}`),
	})
	require.Error(t, err)

	var derr *schema.DocketError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeValidation, derr.Code)
	assert.Equal(t, 0, calls, "activity must not execute on invalid input")
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{
		name: "flaky",
		execute: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			calls++
			if calls < 3 {
				return nil, schema.NewError(schema.ErrCodeRetrieval, "transient download failure")
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
	}))

	policy := &schema.RetryPolicy{Max: 3, Backoff: "constant", Delay: "1ms"}
	d := NewDispatcher(reg, nil, policy, discardLogger())

	out, err := d.Dispatch(context.Background(), "inst-1", Task{TaskID: "flaky", Activity: "flaky"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
	assert.Equal(t, 3, calls)
}

func TestDispatcher_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{
		name: "fetch",
		execute: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			calls++
			return nil, schema.NewError(schema.ErrCodeNotFound, "blob not found")
		},
	}))

	policy := &schema.RetryPolicy{Max: 5, Backoff: "constant", Delay: "1ms"}
	d := NewDispatcher(reg, nil, policy, discardLogger())

	_, err := d.Dispatch(context.Background(), "inst-1", Task{TaskID: "fetch", Activity: "fetch"})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable error must not be retried")

	var derr *schema.DocketError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeNotFound, derr.Code)
	assert.Equal(t, "fetch", derr.TaskID)
}

func TestDispatcher_RetriesExhausted(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{
		name: "always_fails",
		execute: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			calls++
			return nil, schema.NewError(schema.ErrCodeRetrieval, "still failing")
		},
	}))

	policy := &schema.RetryPolicy{Max: 2, Backoff: "constant", Delay: "1ms"}
	d := NewDispatcher(reg, nil, policy, discardLogger())

	_, err := d.Dispatch(context.Background(), "inst-1", Task{TaskID: "t", Activity: "always_fails"})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")

	var derr *schema.DocketError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeRetryExhausted, derr.Code)
	assert.Contains(t, derr.Message, "3 attempts")
}

func TestDispatcher_NilPolicyMeansNoRetry(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{
		name: "one_shot",
		execute: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			calls++
			return nil, schema.NewError(schema.ErrCodeRetrieval, "transient")
		},
	}))

	d := NewDispatcher(reg, nil, nil, discardLogger())

	_, err := d.Dispatch(context.Background(), "inst-1", Task{TaskID: "t", Activity: "one_shot"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	// Original code survives when no retries were attempted.
	var derr *schema.DocketError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.ErrCodeRetrieval, derr.Code)
}

func TestDispatcher_ContextCancelledDuringBackoff(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubActivity{
		name: "slow",
		execute: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return nil, schema.NewError(schema.ErrCodeRetrieval, "transient")
		},
	}))

	policy := &schema.RetryPolicy{Max: 3, Backoff: "constant", Delay: "5s"}
	d := NewDispatcher(reg, nil, policy, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Dispatch(ctx, "inst-1", Task{TaskID: "t", Activity: "slow"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, elapsed, time.Second)
}
