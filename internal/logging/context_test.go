package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", InstanceID(ctx))
	assert.Equal(t, "", TaskID(ctx))
	assert.Equal(t, "", Activity(ctx))

	// Set values.
	ctx = WithInstanceID(ctx, "inst-123")
	ctx = WithTaskID(ctx, "extract_text")
	ctx = WithActivity(ctx, "extract_text")

	// Round-trip.
	assert.Equal(t, "inst-123", InstanceID(ctx))
	assert.Equal(t, "extract_text", TaskID(ctx))
	assert.Equal(t, "extract_text", Activity(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithInstanceID(ctx, "inst-abc")
	ctx = WithTaskID(ctx, "task-x")
	ctx = WithActivity(ctx, "generate_report")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "instance_id=inst-abc")
	assert.Contains(t, output, "task_id=task-x")
	assert.Contains(t, output, "activity=generate_report")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only set instance ID; task and activity should not appear.
	ctx := WithInstanceID(context.Background(), "inst-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "instance_id=inst-only")
	assert.NotContains(t, output, "task_id")
	assert.NotContains(t, output, "activity")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// No correlation IDs, no extra attrs.
	enriched := LogWith(context.Background(), logger)
	enriched.Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "instance_id")
	assert.NotContains(t, output, "task_id")
	assert.NotContains(t, output, "activity")
	assert.Contains(t, output, "no context")
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "inst-1", "task-2", "analyze_statistics")
	assert.Equal(t, "inst-1", InstanceID(ctx))
	assert.Equal(t, "task-2", TaskID(ctx))
	assert.Equal(t, "analyze_statistics", Activity(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "inst-auto", "task-auto", "extract_metadata")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"instance_id":"inst-auto"`)
	assert.Contains(t, output, `"task_id":"task-auto"`)
	assert.Contains(t, output, `"activity":"extract_metadata"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "instance_id")
	assert.NotContains(t, output, "task_id")
	assert.NotContains(t, output, "activity")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithInstanceID(context.Background(), "inst-only")
	logger.InfoContext(ctx, "partial")

	output := buf.String()
	assert.Contains(t, output, `"instance_id":"inst-only"`)
	assert.NotContains(t, output, "task_id")
	assert.NotContains(t, output, "activity")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	ctx := WithInstanceID(context.Background(), "inst-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"instance_id":"inst-attr"`)
	assert.Contains(t, output, `"component":"engine"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("engine"))

	ctx := WithInstanceID(context.Background(), "inst-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "inst-grp")
	assert.Contains(t, output, "grouped")
}
