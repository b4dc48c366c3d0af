// Package engine drives orchestration instances. Every run is a replay: the
// driver folds the instance's history log into task records, re-dispatches
// whatever was scheduled but never finished, and appends only the decisions
// the log does not already carry. Crash recovery and first execution are
// the same code path.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/logging"
	"github.com/rendis/docket/internal/metrics"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/internal/streaming"
	"github.com/rendis/docket/internal/validation"
	"github.com/rendis/docket/pkg/schema"
)

// DefaultPoolSize is the default task dispatch concurrency.
const DefaultPoolSize = 10

// DefaultInstanceTimeout bounds a single drive of an instance. Activity
// results arriving after the deadline are discarded; the terminal timeout
// failure wins.
const DefaultInstanceTimeout = 5 * time.Minute

// maxDriveAttempts bounds in-process re-drives after an interrupted drive,
// typically a failed history append. An instance still running after the
// last attempt is picked up by Recover on the next boot.
const maxDriveAttempts = 3

// redriveDelay spaces in-process re-drive attempts.
const redriveDelay = 250 * time.Millisecond

// Config holds engine tuning knobs.
type Config struct {
	PoolSize        int
	InstanceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.InstanceTimeout <= 0 {
		c.InstanceTimeout = DefaultInstanceTimeout
	}
	return c
}

// EventLogger abstracts the event log operations the engine needs.
// Satisfied by *store.EventLog.
type EventLogger interface {
	AppendEvent(ctx context.Context, event *store.Event) error
	GetEvents(ctx context.Context, instanceID string, since int64) ([]*store.Event, error)
	ReplayEvents(ctx context.Context, instanceID string) (*store.Replay, error)
}

// Deps are the engine's collaborators. Hub, Metrics, and Logger are
// optional.
type Deps struct {
	Store      store.Store
	EventLog   EventLogger
	Dispatcher *dispatch.Dispatcher
	Validator  *validation.Validator
	Hub        streaming.EventHub
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Engine starts, resumes, and tracks orchestration instances.
type Engine struct {
	store      store.Store
	eventLog   EventLogger
	dispatcher *dispatch.Dispatcher
	validator  *validation.Validator
	phases     *PhaseTracker
	pool       *WorkerPool
	hub        streaming.EventHub
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config

	// mu guards running and closed.
	mu      sync.Mutex
	running map[string]*instanceRun
	wg      sync.WaitGroup
	closed  bool
}

// instanceRun tracks one in-flight driver.
type instanceRun struct {
	instanceID string
	cancel     context.CancelFunc
}

// New creates an Engine.
func New(deps Deps, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      deps.Store,
		eventLog:   deps.EventLog,
		dispatcher: deps.Dispatcher,
		validator:  deps.Validator,
		phases:     NewPhaseTracker(deps.Store),
		pool:       NewWorkerPool(cfg.PoolSize),
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		logger:     logger,
		cfg:        cfg,
		running:    make(map[string]*instanceRun),
	}
}

// Start validates a start request, persists a new instance, and launches
// its driver. It returns as soon as the instance exists; execution is
// asynchronous. A request that fails validation still produces a persisted
// instance, already failed and with an empty history log, so every trigger
// leaves a queryable record.
func (e *Engine) Start(ctx context.Context, body json.RawMessage, trigger string) (*store.Instance, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "engine is shut down")
	}
	e.mu.Unlock()

	id := uuid.New().String()
	now := time.Now().UTC()

	req, verr := e.validator.ValidateStartRequest(body)
	if verr != nil {
		failure := schema.FailureFromError(verr)
		errJSON, _ := json.Marshal(failure)
		inst := &store.Instance{
			ID:          id,
			Status:      schema.InstanceStatusFailed,
			Phase:       schema.PhaseFailed,
			Error:       errJSON,
			CompletedAt: &now,
		}
		if err := e.store.CreateInstance(ctx, inst); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "persist rejected instance").WithCause(err)
		}
		e.publish(ctx, streaming.StreamEvent{
			InstanceID: id,
			EventType:  streaming.EventInstanceFailed,
			Payload:    failure,
		})
		e.metrics.InstanceFinished(string(schema.InstanceStatusFailed))
		return inst, verr
	}

	ref := req.Resolve()
	inst := &store.Instance{
		ID:        id,
		Container: ref.Container,
		BlobName:  ref.BlobName,
		Status:    schema.InstanceStatusRunning,
		Phase:     schema.PhaseCreated,
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "persist instance").WithCause(err)
	}

	e.publish(ctx, streaming.StreamEvent{
		InstanceID: id,
		EventType:  streaming.EventInstanceStarted,
		Payload:    ref,
	})
	if err := e.launch(inst, trigger); err != nil {
		return inst, err
	}
	return inst, nil
}

// Recover re-launches a driver for every instance the store still marks
// running. Called once at boot; replay makes re-driving idempotent.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	running := schema.InstanceStatusRunning
	insts, err := e.store.ListInstances(ctx, store.InstanceFilter{Status: &running})
	if err != nil {
		return 0, schema.NewError(schema.ErrCodeStore, "list running instances").WithCause(err)
	}

	n := 0
	for _, inst := range insts {
		if err := e.launch(inst, "recovery"); err != nil {
			e.logger.Warn("recovery launch failed", "instance_id", inst.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// launch registers a driver goroutine for the instance.
func (e *Engine) launch(inst *store.Instance, trigger string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "engine is shut down")
	}
	if _, ok := e.running[inst.ID]; ok {
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %s already driving", inst.ID)
	}
	driveCtx, cancel := context.WithCancel(context.Background())
	e.running[inst.ID] = &instanceRun{instanceID: inst.ID, cancel: cancel}
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.InstanceStarted(trigger)

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.running, inst.ID)
			e.mu.Unlock()
			e.metrics.InstanceDone()
			e.wg.Done()
		}()

		execCtx, execCancel := context.WithTimeout(driveCtx, e.cfg.InstanceTimeout)
		defer execCancel()
		for attempt := 1; ; attempt++ {
			if !e.drive(execCtx, inst) {
				return
			}
			if attempt >= maxDriveAttempts {
				e.logger.Warn("drive attempts exhausted, instance stays running for recovery",
					"instance_id", inst.ID, "attempts", attempt)
				return
			}
			select {
			case <-execCtx.Done():
				if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
					e.failTimeout(inst)
				}
				return
			case <-time.After(redriveDelay):
			}
		}
	}()

	return nil
}

// drive replays the instance's history and walks the orchestration forward
// to a terminal event. It returns true when the drive was interrupted by a
// transient fault and an immediate re-drive may finish the job.
func (e *Engine) drive(ctx context.Context, inst *store.Instance) bool {
	ctx = logging.WithInstanceID(ctx, inst.ID)
	log := logging.LogWith(ctx, e.logger)

	rp, err := e.eventLog.ReplayEvents(ctx, inst.ID)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("drive interrupted before replay")
			return false
		}
		// A log that cannot be replayed must not be appended to.
		log.Error("history replay failed", "error", err)
		e.markFailed(ctx, inst, schema.FailureFromError(err))
		return false
	}

	if rp.Terminal != nil {
		e.reconcileTerminal(ctx, inst, rp)
		return false
	}

	d := &driver{
		engine:  e,
		inst:    inst,
		rp:      rp,
		phase:   DerivePhase(rp),
		results: make(map[string]json.RawMessage),
		log:     log,
	}
	for name, rec := range rp.Tasks {
		if rec.State == schema.TaskStateCompleted {
			d.results[name] = rec.Result
		}
	}

	err = d.run(ctx)
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		d.fail(ctx, timeoutFailure(e.cfg.InstanceTimeout))
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, ErrPoolShutdown):
		log.Info("drive interrupted, instance stays running")
		return false
	default:
		log.Warn("drive aborted, retrying", "error", err)
		return true
	}
}

// failTimeout terminal-fails an instance whose deadline expired between
// drive attempts.
func (e *Engine) failTimeout(inst *store.Instance) {
	d := &driver{engine: e, inst: inst, log: e.logger}
	d.fail(context.Background(), timeoutFailure(e.cfg.InstanceTimeout))
}

func timeoutFailure(limit time.Duration) schema.TaskFailure {
	return schema.TaskFailure{
		Code:    schema.ErrCodeTimeout,
		Message: "instance timed out after " + limit.String(),
	}
}

// reconcileTerminal realigns the instance row with a history log that
// already carries the terminal event. Covers a crash between the terminal
// append and the status update.
func (e *Engine) reconcileTerminal(ctx context.Context, inst *store.Instance, rp *store.Replay) {
	if inst.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	update := store.InstanceUpdate{Status: &rp.Terminal.Status, CompletedAt: &now}
	phase := schema.PhaseFailed
	if rp.Terminal.Status == schema.InstanceStatusCompleted {
		phase = schema.PhaseCompleted
		if rec, ok := rp.Tasks[schema.ActivityStoreReport]; ok {
			update.Output = rec.Result
		}
	} else if rp.Terminal.Error != "" {
		errJSON, _ := json.Marshal(schema.TaskFailure{Code: schema.ErrCodeInternal, Message: rp.Terminal.Error})
		update.Error = errJSON
	}
	update.Phase = &phase
	if err := e.store.MarkTerminal(ctx, inst.ID, update); err != nil {
		e.logger.Warn("terminal reconciliation failed", "instance_id", inst.ID, "error", err)
		return
	}
	e.metrics.InstanceFinished(string(rp.Terminal.Status))
}

// markFailed force-fails an instance without touching its history log.
func (e *Engine) markFailed(ctx context.Context, inst *store.Instance, failure schema.TaskFailure) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()
	failed := schema.InstanceStatusFailed
	phase := schema.PhaseFailed
	errJSON, _ := json.Marshal(failure)
	if err := e.store.MarkTerminal(ctx, inst.ID, store.InstanceUpdate{
		Status:      &failed,
		Phase:       &phase,
		Error:       errJSON,
		CompletedAt: &now,
	}); err != nil {
		e.logger.Warn("mark failed", "instance_id", inst.ID, "error", err)
		return
	}
	e.metrics.InstanceFinished(string(failed))
	e.publish(ctx, streaming.StreamEvent{
		InstanceID: inst.ID,
		EventType:  streaming.EventInstanceFailed,
		Payload:    failure,
	})
}

// Shutdown stops accepting new instances and waits for in-flight drivers.
// When the context expires first, remaining drivers are cancelled; their
// instances stay running in the store and Recover picks them up next boot.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	runs := make([]*instanceRun, 0, len(e.running))
	for _, r := range e.running {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		for _, r := range runs {
			r.cancel()
		}
		e.wg.Wait()
	}

	e.pool.Shutdown()
	return nil
}

// Drain waits for every in-flight driver to finish. Test hook; production
// callers use Shutdown.
func (e *Engine) Drain() {
	e.wg.Wait()
}

// InstanceStatus is the query view of one instance: the persisted row plus
// the task records replayed from its history.
type InstanceStatus struct {
	Instance *store.Instance `json:"instance"`
	Tasks    []*TaskView     `json:"tasks"`
}

// TaskView is the externally visible projection of a replayed task record.
type TaskView struct {
	TaskID      string           `json:"task_id"`
	State       schema.TaskState `json:"state"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Failure     json.RawMessage  `json:"failure,omitempty"`
	ScheduledAt *time.Time       `json:"scheduled_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Status returns the current state of an instance.
func (e *Engine) Status(ctx context.Context, instanceID string) (*InstanceStatus, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	rp, err := e.eventLog.ReplayEvents(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	status := &InstanceStatus{Instance: inst, Tasks: make([]*TaskView, 0, len(rp.Tasks))}
	for _, name := range taskOrder() {
		rec, ok := rp.Tasks[name]
		if !ok {
			continue
		}
		status.Tasks = append(status.Tasks, &TaskView{
			TaskID:      rec.TaskID,
			State:       rec.State,
			Result:      rec.Result,
			Failure:     rec.Failure,
			ScheduledAt: rec.ScheduledAt,
			CompletedAt: rec.CompletedAt,
		})
	}
	return status, nil
}

// History returns the raw event log of an instance.
func (e *Engine) History(ctx context.Context, instanceID string) ([]*store.Event, error) {
	if _, err := e.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return e.eventLog.GetEvents(ctx, instanceID, 0)
}

// IsDriving reports whether this process currently drives the instance.
func (e *Engine) IsDriving(instanceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[instanceID]
	return ok
}

// PoolMetricsSnapshot exposes worker pool counters for diagnostics.
func (e *Engine) PoolMetricsSnapshot() PoolMetrics {
	return e.pool.Metrics()
}

func (e *Engine) publish(ctx context.Context, ev streaming.StreamEvent) {
	if e.hub == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	_ = e.hub.Publish(ctx, ev)
}

// taskOrder is the deterministic task ordering: fan-out first, then chain.
func taskOrder() []string {
	order := make([]string, 0, len(schema.FanOutActivities)+len(schema.ChainActivities))
	order = append(order, schema.FanOutActivities...)
	order = append(order, schema.ChainActivities...)
	return order
}
