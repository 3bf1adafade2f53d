package config

import "time"

// Config is the root configuration for tempus.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Cache     CacheConfig     `json:"cache"`
	Gateway   GatewayConfig   `json:"gateway"`
	Events    EventsConfig    `json:"events"`
	History   HistoryConfig   `json:"history"`
}

// SchedulerConfig tunes the polling loop and the executor.
type SchedulerConfig struct {
	Enabled              *bool    `json:"enabled,omitempty"`   // master switch (default true)
	EnableAutoScheduling bool     `json:"auto_scheduling"`     // start the ticker on init
	SchedulingInterval   Duration `json:"scheduling_interval"` // tick period
	MaxConcurrentTasks   int      `json:"max_concurrent_tasks"`
	DefaultPriority      int      `json:"default_priority"`    // 0-10
	PriorityThreshold    int      `json:"priority_threshold"`  // priority-strategy floor
	ShutdownGrace        Duration `json:"shutdown_grace"`
	HandlerTimeout       Duration `json:"handler_timeout,omitempty"` // zero = unbounded
}

// IsEnabled reports the master switch, defaulting to true.
func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StorageConfig selects and configures the task store backend.
type StorageConfig struct {
	Driver     string       `json:"driver"` // "memory", "sqlite", "qdrant"
	Collection string       `json:"collection"`
	SQLite     SQLiteConfig `json:"sqlite"`
	Qdrant     QdrantConfig `json:"qdrant"`
}

// SQLiteConfig configures the embedded sqlite backend.
type SQLiteConfig struct {
	Path string `json:"path"` // default: $TEMPUS_PATH/tasks.db
}

// QdrantConfig configures the Qdrant REST backend.
type QdrantConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key,omitempty"` // direct key or ${{ .Env.VAR }} template
}

// CacheConfig tunes the registry's entity and query LRUs.
type CacheConfig struct {
	EntitySize int      `json:"entity_size"`
	EntityTTL  Duration `json:"entity_ttl"`
	QuerySize  int      `json:"query_size"`
	QueryTTL   Duration `json:"query_ttl"`
}

// GatewayConfig holds the HTTP gateway settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// HistoryConfig configures the execution history log.
type HistoryConfig struct {
	Path string `json:"path"` // default: $TEMPUS_PATH/history.jsonl
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
