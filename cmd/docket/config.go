package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/docket/pkg/schema"
)

// Config holds all docket server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string             `json:"listen_addr"`
	DBPath          string             `json:"db_path"`
	LogLevel        string             `json:"log_level"`
	PoolSize        int                `json:"pool_size"`
	InstanceTimeout string             `json:"instance_timeout"`
	Storage         StorageConfig      `json:"storage"`
	Watch           WatchConfig        `json:"watch"`
	Classify        ClassifyConfig     `json:"classify"`
	Retry           schema.RetryPolicy `json:"retry"`
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	Kind             string `json:"kind"` // memory | azure
	Container        string `json:"container"`
	ConnectionString string `json:"connection_string,omitempty"`
}

// WatchConfig tunes the document watcher.
type WatchConfig struct {
	Enabled        bool   `json:"enabled"`
	Schedule       string `json:"schedule,omitempty"`
	VacuumSchedule string `json:"vacuum_schedule,omitempty"`
}

// ClassifyConfig selects the report classification rule and its engine.
type ClassifyConfig struct {
	Engine string `json:"engine"` // expr | cel
	Rule   string `json:"rule,omitempty"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:      ":4200",
		DBPath:          filepath.Join(docketDir(), "docket.db"),
		LogLevel:        "info",
		PoolSize:        10,
		InstanceTimeout: "5m",
		Storage:         StorageConfig{Kind: "memory", Container: schema.DefaultContainer},
		Watch:           WatchConfig{Enabled: true},
		Classify:        ClassifyConfig{Engine: "expr"},
		Retry:           schema.RetryPolicy{Max: 2, Backoff: "exponential", Delay: "200ms", MaxDelay: "5s"},
	}
}

func docketDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docket"
	}
	return filepath.Join(home, ".docket")
}

func settingsPath() string {
	return filepath.Join(docketDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(docketDir(), "docket.pid")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DOCKET_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DOCKET_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DOCKET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DOCKET_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("DOCKET_INSTANCE_TIMEOUT"); v != "" {
		cfg.InstanceTimeout = v
	}
	if v := os.Getenv("DOCKET_STORAGE_KIND"); v != "" {
		cfg.Storage.Kind = v
	}
	if v := os.Getenv("DOCKET_STORAGE_CONTAINER"); v != "" {
		cfg.Storage.Container = v
	}
	if v := os.Getenv("DOCKET_STORAGE_CONNECTION_STRING"); v != "" {
		cfg.Storage.ConnectionString = v
	} else if v := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); v != "" && cfg.Storage.ConnectionString == "" {
		cfg.Storage.ConnectionString = v
	}
	if v := os.Getenv("DOCKET_WATCH_ENABLED"); v != "" {
		cfg.Watch.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DOCKET_WATCH_SCHEDULE"); v != "" {
		cfg.Watch.Schedule = v
	}
	if v := os.Getenv("DOCKET_WATCH_VACUUM_SCHEDULE"); v != "" {
		cfg.Watch.VacuumSchedule = v
	}
	if v := os.Getenv("DOCKET_CLASSIFY_ENGINE"); v != "" {
		cfg.Classify.Engine = v
	}
	if v := os.Getenv("DOCKET_CLASSIFY_RULE"); v != "" {
		cfg.Classify.Rule = v
	}
	if v := os.Getenv("DOCKET_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Max = n
		}
	}

	return cfg
}

// instanceTimeout parses the configured timeout; malformed values fall back
// to the engine default.
func (c Config) instanceTimeout() time.Duration {
	d, err := time.ParseDuration(c.InstanceTimeout)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	WatchChanged    bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.Watch != new.Watch {
		d.WatchChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.InstanceTimeout != new.InstanceTimeout {
		d.RestartNeeded = append(d.RestartNeeded, "instance_timeout")
	}
	if old.Storage != new.Storage {
		d.RestartNeeded = append(d.RestartNeeded, "storage")
	}
	if old.Classify != new.Classify {
		d.RestartNeeded = append(d.RestartNeeded, "classify")
	}
	if old.Retry != new.Retry {
		d.RestartNeeded = append(d.RestartNeeded, "retry")
	}
	return d
}
