package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/internal/streaming"
	"github.com/rendis/docket/pkg/schema"
)

// driver walks one instance forward: fan-out, fan-in, then the chain. It
// only appends decisions the replayed log does not already carry, so a
// driver resumed over an old history and a driver running fresh behave
// identically.
type driver struct {
	engine  *Engine
	inst    *store.Instance
	rp      *store.Replay
	phase   schema.InstancePhase
	results map[string]json.RawMessage
	log     *slog.Logger

	// mu guards rp.Tasks and results during parallel dispatch.
	mu sync.Mutex
}

// run returns nil once the instance reached a terminal event; a non-nil
// error means the drive was interrupted and the caller decides whether to
// re-drive.
func (d *driver) run(ctx context.Context) error {
	if err := d.fanOut(ctx); err != nil {
		return err
	}
	if f := d.firstFailure(); f != nil {
		d.fail(ctx, *f)
		return nil
	}
	d.setPhase(ctx, schema.PhaseFanInComplete)

	if err := d.chain(ctx); err != nil {
		return err
	}
	if f := d.firstFailure(); f != nil {
		d.fail(ctx, *f)
		return nil
	}
	d.complete(ctx)
	return nil
}

// fanOut schedules the four analyses and dispatches every one that has no
// terminal outcome yet. Task failures are recorded, not returned; the
// returned error is reserved for interruption and log-append problems.
func (d *driver) fanOut(ctx context.Context) error {
	d.setPhase(ctx, schema.PhaseFanOutScheduled)
	for _, name := range schema.FanOutActivities {
		if _, ok := d.rp.Tasks[name]; ok {
			continue // scheduled by an earlier drive
		}
		if err := d.scheduleTask(ctx, name); err != nil {
			return err
		}
	}
	d.setPhase(ctx, schema.PhaseFanOutAwaiting)

	input, err := json.Marshal(schema.DocumentRef{Container: d.inst.Container, BlobName: d.inst.BlobName})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, name := range schema.FanOutActivities {
		if d.rp.Tasks[name].Done() {
			continue // terminal outcomes replay as-is
		}
		wg.Add(1)
		task := name
		if err := d.engine.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			d.executeTask(taskCtx, task, input)
			return nil
		}); err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	// Fan-in gate: the chain only starts once all four analyses carry a
	// recorded terminal outcome. A task whose result append failed is still
	// scheduled here and must be re-driven, never defaulted into the report.
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range schema.FanOutActivities {
		if !d.rp.Tasks[name].Done() {
			return schema.NewErrorf(schema.ErrCodeStore, "task %s outcome not recorded", name)
		}
	}
	return nil
}

// chain runs the sequential tail. Each step feeds the next; replayed
// results are reused without re-dispatching.
func (d *driver) chain(ctx context.Context) error {
	for _, name := range schema.ChainActivities {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rec, scheduled := d.rp.Tasks[name]
		if scheduled && rec.Done() {
			if rec.State == schema.TaskStateFailed {
				return nil // surfaced by firstFailure
			}
			continue
		}

		input, err := d.chainInput(name)
		if err != nil {
			return err
		}
		if !scheduled {
			d.setPhase(ctx, schema.PhaseChainScheduled)
			if err := d.scheduleTask(ctx, name); err != nil {
				return err
			}
		}
		d.setPhase(ctx, schema.PhaseChainAwaiting)

		var wg sync.WaitGroup
		wg.Add(1)
		task := name
		if err := d.engine.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			d.executeTask(taskCtx, task, input)
			return nil
		}); err != nil {
			wg.Done()
			return err
		}
		wg.Wait()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.mu.Lock()
		state := d.rp.Tasks[task].State
		d.mu.Unlock()
		if state == schema.TaskStateFailed {
			return nil
		}
		if state != schema.TaskStateCompleted {
			// Outcome append failed; a later drive redelivers the task.
			return schema.NewErrorf(schema.ErrCodeStore, "task %s outcome not recorded", task)
		}
	}
	return nil
}

// chainInput builds the input of a chain step from recorded results.
func (d *driver) chainInput(name string) (json.RawMessage, error) {
	switch name {
	case schema.ActivityGenerateReport:
		return d.reportInput()
	case schema.ActivityStoreReport:
		out, ok := d.results[schema.ActivityGenerateReport]
		if !ok {
			return nil, schema.NewError(schema.ErrCodeInternal, "store_report input missing generate_report result")
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "unknown chain activity %q", name)
	}
}

// reportInput merges the document reference with the four recorded fan-out
// results into the report builder's input.
func (d *driver) reportInput() (json.RawMessage, error) {
	in := struct {
		Container     string          `json:"container"`
		BlobName      string          `json:"blob_name"`
		ExtractText   json.RawMessage `json:"extract_text"`
		Metadata      json.RawMessage `json:"extract_metadata"`
		Statistics    json.RawMessage `json:"analyze_statistics"`
		SensitiveData json.RawMessage `json:"detect_sensitive_data"`
	}{
		Container:     d.inst.Container,
		BlobName:      d.inst.BlobName,
		ExtractText:   d.results[schema.ActivityExtractText],
		Metadata:      d.results[schema.ActivityExtractMetadata],
		Statistics:    d.results[schema.ActivityAnalyzeStatistics],
		SensitiveData: d.results[schema.ActivityDetectSensitiveData],
	}
	return json.Marshal(in)
}

// scheduleTask appends a task_scheduled event. The event carries no
// payload: activity inputs are reconstructed from the instance row and
// recorded results on every drive.
func (d *driver) scheduleTask(ctx context.Context, name string) error {
	ev := &store.Event{InstanceID: d.inst.ID, TaskID: name, Type: schema.EventTaskScheduled}
	if err := d.engine.eventLog.AppendEvent(ctx, ev); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "schedule task %s", name).WithCause(err)
	}
	d.mu.Lock()
	d.rp.Tasks[name] = &store.TaskRecord{
		InstanceID: d.inst.ID,
		TaskID:     name,
		State:      schema.TaskStateScheduled,
	}
	d.mu.Unlock()
	d.engine.publish(ctx, streaming.StreamEvent{
		InstanceID: d.inst.ID,
		TaskID:     name,
		EventType:  streaming.EventTaskScheduled,
	})
	return nil
}

// executeTask dispatches one task and records its outcome. Results arriving
// after the context expired are discarded; the task stays scheduled and a
// later drive re-dispatches it.
func (d *driver) executeTask(ctx context.Context, name string, input json.RawMessage) {
	start := time.Now()
	out, err := d.engine.dispatcher.Dispatch(ctx, d.inst.ID, dispatch.Task{
		TaskID:   name,
		Activity: name,
		Input:    input,
	})
	d.engine.metrics.ObserveTask(name, start, err)

	if ctx.Err() != nil {
		d.log.Warn("task result discarded", "task_id", name, "cause", ctx.Err())
		return
	}
	if err != nil {
		d.recordFailure(ctx, name, schema.FailureFromError(err))
		return
	}
	d.recordCompletion(ctx, name, out)
}

func (d *driver) recordCompletion(ctx context.Context, name string, payload json.RawMessage) {
	ev := &store.Event{InstanceID: d.inst.ID, TaskID: name, Type: schema.EventTaskCompleted, Payload: payload}
	if err := d.engine.eventLog.AppendEvent(ctx, ev); err != nil {
		// Unrecorded means unfinished: redelivery re-runs the idempotent activity.
		d.log.Error("record task completion", "task_id", name, "error", err)
		return
	}
	now := time.Now().UTC()
	d.mu.Lock()
	rec := d.rp.Tasks[name]
	rec.State = schema.TaskStateCompleted
	rec.Result = payload
	rec.CompletedAt = &now
	d.results[name] = payload
	d.mu.Unlock()

	d.engine.publish(ctx, streaming.StreamEvent{
		InstanceID: d.inst.ID,
		TaskID:     name,
		EventType:  streaming.EventTaskCompleted,
		Payload:    payload,
	})
	d.log.Info("task completed", "task_id", name)
}

func (d *driver) recordFailure(ctx context.Context, name string, failure schema.TaskFailure) {
	payload, _ := json.Marshal(failure)
	ev := &store.Event{InstanceID: d.inst.ID, TaskID: name, Type: schema.EventTaskFailed, Payload: payload}
	if err := d.engine.eventLog.AppendEvent(ctx, ev); err != nil {
		d.log.Error("record task failure", "task_id", name, "error", err)
		return
	}
	now := time.Now().UTC()
	d.mu.Lock()
	rec := d.rp.Tasks[name]
	rec.State = schema.TaskStateFailed
	rec.Failure = payload
	rec.CompletedAt = &now
	d.mu.Unlock()

	d.engine.publish(ctx, streaming.StreamEvent{
		InstanceID: d.inst.ID,
		TaskID:     name,
		EventType:  streaming.EventTaskFailed,
		Payload:    failure,
	})
	d.log.Warn("task failed", "task_id", name, "code", failure.Code, "reason", failure.Message)
}

// firstFailure returns the instance-level failure derived from the first
// failed task in scheduling order, or nil.
func (d *driver) firstFailure() *schema.TaskFailure {
	for _, name := range taskOrder() {
		rec, ok := d.rp.Tasks[name]
		if !ok || rec.State != schema.TaskStateFailed {
			continue
		}
		var f schema.TaskFailure
		if len(rec.Failure) == 0 || json.Unmarshal(rec.Failure, &f) != nil || f.Message == "" {
			f = schema.TaskFailure{Code: schema.ErrCodeInternal, Message: "task failed"}
		}
		f.Message = fmt.Sprintf("task %s failed: %s", name, f.Message)
		return &f
	}
	return nil
}

// complete appends the terminal event and marks the instance completed with
// the store result as output.
func (d *driver) complete(ctx context.Context) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	term := schema.TerminalEvent{Status: schema.InstanceStatusCompleted}
	payload, _ := json.Marshal(term)
	if err := d.engine.eventLog.AppendEvent(ctx, &store.Event{
		InstanceID: d.inst.ID,
		Type:       schema.EventOrchestratorCompleted,
		Payload:    payload,
	}); err != nil {
		d.log.Error("terminal append failed", "error", err)
		return
	}

	now := time.Now().UTC()
	completed := schema.InstanceStatusCompleted
	phase := schema.PhaseCompleted
	output := d.results[schema.ActivityStoreReport]
	if err := d.engine.store.MarkTerminal(ctx, d.inst.ID, store.InstanceUpdate{
		Status:      &completed,
		Phase:       &phase,
		Output:      output,
		CompletedAt: &now,
	}); err != nil {
		// The log already holds the truth; reconciliation catches the row up.
		d.log.Warn("terminal status update failed", "error", err)
	}

	d.engine.metrics.InstanceFinished(string(completed))
	d.engine.metrics.ReportStored()
	d.engine.publish(ctx, streaming.StreamEvent{
		InstanceID: d.inst.ID,
		EventType:  streaming.EventReportStored,
		Payload:    output,
	})
	d.engine.publish(ctx, streaming.StreamEvent{
		InstanceID: d.inst.ID,
		EventType:  streaming.EventInstanceCompleted,
		Payload:    output,
	})
	d.log.Info("instance completed")
}

// fail appends the terminal event with a failure and marks the instance
// failed. Uses a fresh context when the drive context is already dead so
// the terminal write still lands.
func (d *driver) fail(ctx context.Context, failure schema.TaskFailure) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	term := schema.TerminalEvent{Status: schema.InstanceStatusFailed, Error: failure.Message}
	payload, _ := json.Marshal(term)
	if err := d.engine.eventLog.AppendEvent(ctx, &store.Event{
		InstanceID: d.inst.ID,
		Type:       schema.EventOrchestratorCompleted,
		Payload:    payload,
	}); err != nil {
		d.log.Error("terminal append failed", "error", err)
		return
	}

	now := time.Now().UTC()
	failed := schema.InstanceStatusFailed
	phase := schema.PhaseFailed
	errJSON, _ := json.Marshal(failure)
	if err := d.engine.store.MarkTerminal(ctx, d.inst.ID, store.InstanceUpdate{
		Status:      &failed,
		Phase:       &phase,
		Error:       errJSON,
		CompletedAt: &now,
	}); err != nil {
		d.log.Warn("terminal status update failed", "error", err)
	}

	d.engine.metrics.InstanceFinished(string(failed))
	d.engine.publish(ctx, streaming.StreamEvent{
		InstanceID: d.inst.ID,
		EventType:  streaming.EventInstanceFailed,
		Payload:    failure,
	})
	d.log.Warn("instance failed", "code", failure.Code, "reason", failure.Message)
}

// setPhase advances the persisted phase when the transition table allows
// it. A resumed driver re-walks decisions it already recorded; re-derived
// phases behind the persisted one are silently skipped.
func (d *driver) setPhase(ctx context.Context, to schema.InstancePhase) {
	if d.phase == to || !isValidPhaseTransition(d.phase, to) {
		return
	}
	if err := d.engine.phases.Advance(ctx, d.inst.ID, d.phase, to); err != nil {
		d.log.Warn("phase update failed", "from", string(d.phase), "to", string(to), "error", err)
		return
	}
	d.phase = to
}
