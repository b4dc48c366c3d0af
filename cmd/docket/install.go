package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

func runInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", ":4200", "TCP listen address")
	dbPath := fs.String("db-path", "", "database path (default: ~/.docket/docket.db)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	poolSize := fs.Int("pool-size", 10, "task dispatch concurrency")
	instanceTimeout := fs.String("instance-timeout", "5m", "per-instance execution deadline")
	storageKind := fs.String("storage", "memory", "document backend: memory or azure")
	container := fs.String("container", "pdfs", "document container to watch and analyze")
	connString := fs.String("connection-string", "", "azure storage connection string (or set AZURE_STORAGE_CONNECTION_STRING)")
	watchEnabled := fs.Bool("watch", true, "scan the container for unanalyzed documents")
	watchSchedule := fs.String("watch-schedule", "", "cron schedule for container scans (default: */5 * * * *)")
	classifyEngine := fs.String("classify-engine", "expr", "classification rule engine: expr or cel")
	classifyRule := fs.String("classify-rule", "", "classification rule (default: built-in sensitivity rule)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := docketDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	cfg := defaultConfig()
	cfg.ListenAddr = *listenAddr
	cfg.LogLevel = *logLevel
	cfg.PoolSize = *poolSize
	cfg.InstanceTimeout = *instanceTimeout
	cfg.Storage.Kind = *storageKind
	cfg.Storage.Container = *container
	cfg.Storage.ConnectionString = *connString
	cfg.Watch.Enabled = *watchEnabled
	cfg.Watch.Schedule = *watchSchedule
	cfg.Classify.Engine = *classifyEngine
	cfg.Classify.Rule = *classifyRule
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)

	// Signal running server to reload, or start a new one.
	if signalRunningServer() {
		return
	}
	runServe()
}

// signalRunningServer sends SIGHUP to a running docket server (via pidfile).
// Returns true if the server was signaled (caller should NOT start a new one).
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
