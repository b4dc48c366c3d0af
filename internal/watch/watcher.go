// Package watch turns new documents into orchestrations. The watcher polls
// the document source on a cron schedule, starts an instance for every
// document that has no stored report yet, and runs the nightly history
// vacuum. Duplicate starts are harmless: activities are idempotent and the
// report merge-upsert converges on re-runs.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/internal/metrics"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/pkg/schema"
)

// tickInterval is the resolution of the polling loop; cron schedules finer
// than one minute fire on the next tick after they become due.
const tickInterval = 60 * time.Second

// DefaultSchedule scans the container every five minutes.
const DefaultSchedule = "*/5 * * * *"

// DefaultVacuumSchedule compacts the history log nightly.
const DefaultVacuumSchedule = "0 3 * * *"

// Starter is the slice of the engine the watcher needs.
type Starter interface {
	Start(ctx context.Context, body json.RawMessage, trigger string) (*store.Instance, error)
}

// Config tunes the watcher. Empty schedules fall back to the defaults.
type Config struct {
	Container      string
	Schedule       string
	VacuumSchedule string
}

// Watcher polls a document container and triggers orchestrations for
// documents that have not been reported on.
type Watcher struct {
	store   store.Store
	source  document.Source
	starter Starter
	metrics *metrics.Metrics
	logger  *slog.Logger

	container    string
	scanSched    cron.Schedule
	vacuumSched  cron.Schedule
	nextScanAt   time.Time
	nextVacuumAt time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // document keys currently being started
}

// New creates a Watcher. Both cron expressions are validated up front.
func New(s store.Store, src document.Source, starter Starter, m *metrics.Metrics, logger *slog.Logger, cfg Config) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Container == "" {
		cfg.Container = schema.DefaultContainer
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.VacuumSchedule == "" {
		cfg.VacuumSchedule = DefaultVacuumSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	scanSched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse watch schedule %q: %w", cfg.Schedule, err)
	}
	vacuumSched, err := parser.Parse(cfg.VacuumSchedule)
	if err != nil {
		return nil, fmt.Errorf("parse vacuum schedule %q: %w", cfg.VacuumSchedule, err)
	}

	now := time.Now().UTC()
	return &Watcher{
		store:        s,
		source:       src,
		starter:      starter,
		metrics:      m,
		logger:       logger,
		container:    cfg.Container,
		scanSched:    scanSched,
		vacuumSched:  vacuumSched,
		nextScanAt:   scanSched.Next(now),
		nextVacuumAt: vacuumSched.Next(now),
		inflight:     make(map[string]struct{}),
	}, nil
}

// Start launches the background polling loop. An initial scan runs
// immediately so documents uploaded while the process was down are picked
// up without waiting for the first cron slot.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(watchCtx)
	w.logger.Info("watcher started",
		slog.String("container", w.container),
		slog.Time("next_scan", w.nextScanAt))
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	w.Scan(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick fires whichever built-in jobs are due and advances their schedules.
func (w *Watcher) tick(ctx context.Context) {
	now := time.Now().UTC()
	if !w.nextScanAt.After(now) {
		w.Scan(ctx)
		w.nextScanAt = w.scanSched.Next(now)
	}
	if !w.nextVacuumAt.After(now) {
		if err := w.store.Vacuum(ctx); err != nil {
			w.logger.Error("history vacuum failed", slog.String("error", err.Error()))
		} else {
			w.logger.Info("history vacuum completed")
		}
		w.nextVacuumAt = w.vacuumSched.Next(now)
	}
}

// Scan lists the container and starts an orchestration for every PDF that
// has no stored report and no running instance. It returns the number of
// orchestrations started.
func (w *Watcher) Scan(ctx context.Context) int {
	names, err := w.source.List(ctx, w.container)
	if err != nil {
		w.logger.Error("container scan failed",
			slog.String("container", w.container),
			slog.String("error", err.Error()))
		return 0
	}
	w.metrics.WatcherScan()

	started := 0
	for _, name := range names {
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			continue
		}
		if !w.needsReport(ctx, name) {
			continue
		}
		key := w.container + "/" + name
		if !w.tryAcquire(key) {
			continue // a concurrent scan is already starting it
		}
		if w.startInstance(ctx, name) {
			started++
		}
		w.release(key)
	}

	if started > 0 {
		w.logger.Info("watcher triggered orchestrations",
			slog.String("container", w.container),
			slog.Int("count", started))
	}
	return started
}

// needsReport reports whether the document has neither a stored report nor
// a running instance. Store errors are logged and the document skipped; the
// next scan retries.
func (w *Watcher) needsReport(ctx context.Context, name string) bool {
	_, err := w.store.GetReport(ctx, w.container, name)
	if err == nil {
		return false
	}
	if !schema.IsCode(err, schema.ErrCodeNotFound) {
		w.logger.Warn("report lookup failed",
			slog.String("blob_name", name),
			slog.String("error", err.Error()))
		return false
	}

	running := schema.InstanceStatusRunning
	insts, err := w.store.ListInstances(ctx, store.InstanceFilter{
		Status:    &running,
		Container: w.container,
		BlobName:  name,
		Limit:     1,
	})
	if err != nil {
		w.logger.Warn("instance lookup failed",
			slog.String("blob_name", name),
			slog.String("error", err.Error()))
		return false
	}
	return len(insts) == 0
}

// startInstance triggers one orchestration for the document.
func (w *Watcher) startInstance(ctx context.Context, name string) bool {
	body, err := json.Marshal(schema.StartRequest{Container: w.container, BlobName: name})
	if err != nil {
		return false
	}
	inst, err := w.starter.Start(ctx, body, "watcher")
	if err != nil {
		w.logger.Error("watcher start failed",
			slog.String("blob_name", name),
			slog.String("error", err.Error()))
		return false
	}
	w.metrics.WatcherTrigger()
	w.logger.Info("watcher started orchestration",
		slog.String("instance_id", inst.ID),
		slog.String("blob_name", name))
	return true
}

// tryAcquire marks a document key in-flight; false when already held.
func (w *Watcher) tryAcquire(key string) bool {
	w.inflightMu.Lock()
	defer w.inflightMu.Unlock()
	if _, ok := w.inflight[key]; ok {
		return false
	}
	w.inflight[key] = struct{}{}
	return true
}

func (w *Watcher) release(key string) {
	w.inflightMu.Lock()
	defer w.inflightMu.Unlock()
	delete(w.inflight, key)
}

// Stop shuts the polling loop down and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	w.done = nil

	w.logger.Info("watcher stopped")
	return nil
}
