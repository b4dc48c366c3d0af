package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/docket/internal/analysis"
	"github.com/rendis/docket/internal/api"
	"github.com/rendis/docket/internal/dispatch"
	"github.com/rendis/docket/internal/document"
	"github.com/rendis/docket/internal/engine"
	"github.com/rendis/docket/internal/expressions"
	"github.com/rendis/docket/internal/logging"
	"github.com/rendis/docket/internal/metrics"
	"github.com/rendis/docket/internal/report"
	"github.com/rendis/docket/internal/store"
	"github.com/rendis/docket/internal/streaming"
	"github.com/rendis/docket/internal/validation"
	"github.com/rendis/docket/internal/watch"
)

// app bundles the wired components of one docket process.
type app struct {
	cfg     Config
	logger  *slog.Logger
	store   *store.LibSQLStore
	source  document.Source
	hub     *streaming.MemoryHub
	metrics *metrics.Metrics
	engine  *engine.Engine
	api     *api.Server
	watcher *watch.Watcher
}

// buildApp wires the store, document source, activities, dispatcher, and
// engine from cfg. The watcher is only built for the serve command; the MCP
// command runs without background scans.
func buildApp(ctx context.Context, cfg Config, logger *slog.Logger, withWatcher bool) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	source, err := newSource(cfg.Storage, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := source.Ensure(ctx, cfg.Storage.Container); err != nil {
		logger.Warn("container ensure failed", "container", cfg.Storage.Container, "error", err)
	}

	eval, err := newClassifyEngine(cfg.Classify.Engine)
	if err != nil {
		st.Close()
		return nil, err
	}
	classifier := report.NewClassifier(eval, cfg.Classify.Rule, logger)

	registry := dispatch.NewRegistry()
	activities := []dispatch.Activity{
		analysis.NewTextActivity(source),
		analysis.NewMetadataActivity(source),
		analysis.NewStatisticsActivity(source),
		analysis.NewSensitiveActivity(source),
		report.NewBuilderActivity(),
		report.NewStoreActivity(st, classifier),
	}
	for _, act := range activities {
		if err := registry.Register(act); err != nil {
			st.Close()
			return nil, fmt.Errorf("register activity: %w", err)
		}
	}

	validator, err := validation.NewValidator()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}

	retry := cfg.Retry
	dispatcher := dispatch.NewDispatcher(registry, validator, &retry, logger)

	hub := streaming.NewMemoryHub()
	m := metrics.New()

	eng := engine.New(engine.Deps{
		Store:      st,
		EventLog:   store.NewEventLog(st),
		Dispatcher: dispatcher,
		Validator:  validator,
		Hub:        hub,
		Metrics:    m,
		Logger:     logger,
	}, engine.Config{
		PoolSize:        cfg.PoolSize,
		InstanceTimeout: cfg.instanceTimeout(),
	})

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		source:  source,
		hub:     hub,
		metrics: m,
		engine:  eng,
		api: api.NewServer(api.Deps{
			Store:   st,
			Engine:  eng,
			Hub:     hub,
			Metrics: m,
			Logger:  logger,
		}),
	}

	if withWatcher && cfg.Watch.Enabled {
		w, err := watch.New(st, source, eng, m, logger, watch.Config{
			Container:      cfg.Storage.Container,
			Schedule:       cfg.Watch.Schedule,
			VacuumSchedule: cfg.Watch.VacuumSchedule,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("configure watcher: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

func runServe() {
	cfg := loadConfig()

	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(levelVar)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger, true)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	writePidFile(logger)
	defer os.Remove(pidPath())

	// Resume whatever the last process left unfinished before accepting
	// new work.
	if n, err := a.engine.Recover(ctx); err != nil {
		logger.Error("instance recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("instances recovered", "count", n)
	}

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			logger.Error("watcher start failed", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("docket serving", "addr", cfg.ListenAddr, "db", cfg.DBPath, "storage", cfg.Storage.Kind)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
			}
			a.stop(nil)
			os.Remove(pidPath())
			os.Exit(1)
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				a.reload(ctx, levelVar)
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			a.stop(srv)
			return
		}
	}
}

// stop drains the process in dependency order: HTTP first so no new starts
// arrive, then the watcher, then the engine, then the store.
func (a *app) stop(srv *http.Server) {
	shCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shCtx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if err := a.engine.Shutdown(shCtx); err != nil {
		a.logger.Warn("engine shutdown", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", "error", err)
	}
}

// reload re-reads the config and applies what can change live: the log level
// and the watcher. Everything else needs a restart.
func (a *app) reload(ctx context.Context, levelVar *slog.LevelVar) {
	newCfg := loadConfig()
	d := diffConfigs(a.cfg, newCfg)

	if d.LogLevelChanged {
		levelVar.Set(parseLogLevel(newCfg.LogLevel))
		a.cfg.LogLevel = newCfg.LogLevel
		a.logger.Info("log level updated", "level", newCfg.LogLevel)
	}
	if d.WatchChanged {
		if a.watcher != nil {
			a.watcher.Stop()
			a.watcher = nil
		}
		if newCfg.Watch.Enabled {
			w, err := watch.New(a.store, a.source, a.engine, a.metrics, a.logger, watch.Config{
				Container:      a.cfg.Storage.Container,
				Schedule:       newCfg.Watch.Schedule,
				VacuumSchedule: newCfg.Watch.VacuumSchedule,
			})
			if err != nil {
				a.logger.Error("watcher rebuild failed", "error", err)
			} else if err := w.Start(ctx); err != nil {
				a.logger.Error("watcher restart failed", "error", err)
			} else {
				a.watcher = w
			}
		}
		a.cfg.Watch = newCfg.Watch
		a.logger.Info("watcher configuration reloaded", "enabled", newCfg.Watch.Enabled)
	}
	if len(d.RestartNeeded) > 0 {
		a.logger.Warn("config changes require restart", "fields", strings.Join(d.RestartNeeded, ", "))
	}
}

func newSource(cfg StorageConfig, logger *slog.Logger) (document.Source, error) {
	switch cfg.Kind {
	case "azure":
		src, err := document.NewAzureSource(cfg.ConnectionString, logger)
		if err != nil {
			return nil, fmt.Errorf("azure source: %w", err)
		}
		return src, nil
	case "", "memory":
		return document.NewMemorySource(), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}

func newClassifyEngine(kind string) (expressions.Evaluator, error) {
	switch kind {
	case "cel":
		return expressions.NewCELEngine()
	case "", "expr":
		return expressions.NewExprEngine(), nil
	default:
		return nil, fmt.Errorf("unknown classification engine %q", kind)
	}
}

// newLogger builds the process logger: JSON to stderr wrapped in the
// correlation handler so instance and task IDs ride along automatically.
func newLogger(levelVar *slog.LevelVar) *slog.Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	return slog.New(logging.NewCorrelationHandler(h))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writePidFile(logger *slog.Logger) {
	if err := os.MkdirAll(docketDir(), 0o700); err != nil {
		logger.Warn("cannot create state directory", "error", err)
		return
	}
	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Warn("cannot write pidfile", "error", err)
	}
}
