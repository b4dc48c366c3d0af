package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/docket/pkg/mcp"
)

// runMCP serves the docket tools over stdio. Logs go to stderr only; stdout
// belongs to the MCP transport. The container watcher stays off so the
// process does nothing the client did not ask for.
func runMCP() {
	cfg := loadConfig()

	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	if n, err := a.engine.Recover(ctx); err != nil {
		logger.Error("instance recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("instances recovered", "count", n)
	}

	srv := mcp.NewDocketServer(mcp.DocketServerDeps{
		Engine: a.engine,
		Store:  a.store,
		Hub:    a.hub,
		Logger: logger,
	})

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp server failed", "error", err)
	}

	a.stop(nil)
}
