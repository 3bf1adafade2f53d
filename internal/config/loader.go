package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardises comments and trailing commas away, unmarshals it into
// Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before standardising, since
	// templates live inside strings)
	expanded := expandEnvTemplates(string(data))

	standardised, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardised, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, used when no
// config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Scheduler.SchedulingInterval == 0 {
		cfg.Scheduler.SchedulingInterval = Duration(5 * time.Second)
	}
	if cfg.Scheduler.MaxConcurrentTasks == 0 {
		cfg.Scheduler.MaxConcurrentTasks = 5
	}
	if cfg.Scheduler.DefaultPriority == 0 {
		cfg.Scheduler.DefaultPriority = 5
	}
	if cfg.Scheduler.PriorityThreshold == 0 {
		cfg.Scheduler.PriorityThreshold = 7
	}
	if cfg.Scheduler.ShutdownGrace == 0 {
		cfg.Scheduler.ShutdownGrace = Duration(30 * time.Second)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "tempus_tasks"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = filepath.Join(TempusPath(), "tasks.db")
	}
	if cfg.Storage.Qdrant.URL == "" {
		cfg.Storage.Qdrant.URL = "http://127.0.0.1:6333"
	}

	if cfg.Cache.EntitySize == 0 {
		cfg.Cache.EntitySize = 500
	}
	if cfg.Cache.EntityTTL == 0 {
		cfg.Cache.EntityTTL = Duration(60 * time.Second)
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = 50
	}
	if cfg.Cache.QueryTTL == 0 {
		cfg.Cache.QueryTTL = Duration(30 * time.Second)
	}

	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(TempusPath(), "history.jsonl")
	}
}
