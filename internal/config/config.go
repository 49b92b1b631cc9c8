// Package config provides configuration types, defaults, loading and
// persistence for textflow.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/zjrosen/textflow/internal/log"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/client"
	"github.com/zjrosen/textflow/internal/orchestration/pool"
	"github.com/zjrosen/textflow/internal/orchestration/tracing"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageBadger = "badger"
	StorageMemory = "memory"
)

// Config holds all configuration options for textflow.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Pool     PoolConfig     `mapstructure:"pool" yaml:"pool"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer" yaml:"analyzer"`
	Tracing  tracing.Config `mapstructure:"tracing" yaml:"tracing"`
	Client   client.Config  `mapstructure:"client" yaml:"client"`
}

// LogConfig controls the log sink.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error". Reloaded live by the daemon.
	Level string `mapstructure:"level" yaml:"level"`
	// File appends logs to a file; empty logs to stderr.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// ServerConfig configures the daemon's HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	AuthToken    string        `mapstructure:"auth_token" yaml:"auth_token,omitempty"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	Heartbeat    time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	// ShutdownTimeout bounds graceful shutdown of the server and engine.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	CoolDown        time.Duration `mapstructure:"cool_down" yaml:"cool_down"`
	MailboxSize     int           `mapstructure:"mailbox_size" yaml:"mailbox_size"`
	PersistAttempts int           `mapstructure:"persist_attempts" yaml:"persist_attempts"`
	RecoveryWorkers int           `mapstructure:"recovery_workers" yaml:"recovery_workers"`
	// CacheTTL keeps terminal snapshots cached; negative disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// RecoverOnStart resumes unfinished instances when the daemon starts.
	RecoverOnStart bool `mapstructure:"recover_on_start" yaml:"recover_on_start"`
}

// PoolConfig configures the shared worker pool.
type PoolConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers" yaml:"max_workers"`
	QueueCapacity int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	// Tasks holds per-kind overrides keyed by "sentiment", "summary" or "topics".
	Tasks map[string]pool.KindPolicy `mapstructure:"tasks" yaml:"tasks,omitempty"`
}

// StorageConfig selects where instance history is persisted.
type StorageConfig struct {
	// Backend is "sqlite" (default), "badger" or "memory".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is the SQLite file or Badger directory.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// AnalyzerConfig tunes the offline analyzers.
type AnalyzerConfig struct {
	Latency   time.Duration `mapstructure:"latency" yaml:"latency"`
	MaxTopics int           `mapstructure:"max_topics" yaml:"max_topics"`
}

// PoolOptions converts the pool section into pool.Config.
func (p PoolConfig) PoolOptions() pool.Config {
	return pool.Config{
		MaxWorkers:    p.MaxWorkers,
		QueueCapacity: p.QueueCapacity,
		Timeout:       p.TaskTimeout,
		Policies:      p.Tasks,
	}
}

// ResolvedPath returns Path, or the backend's default location under the
// user's data directory.
func (s StorageConfig) ResolvedPath() string {
	if s.Path != "" {
		return s.Path
	}
	switch s.Backend {
	case StorageBadger:
		return filepath.Join(DefaultDataDir(), "badger")
	default:
		return filepath.Join(DefaultDataDir(), "textflow.db")
	}
}

// DefaultDataDir returns ~/.textflow, or ".textflow" when the home directory
// is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".textflow"
	}
	return filepath.Join(home, ".textflow")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	return filepath.Join(DefaultDataDir(), "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	traces := tracing.DefaultConfig()
	traces.FilePath = DefaultTracesFilePath()

	return Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            "localhost:3000",
			ReadTimeout:     30 * time.Second,
			Heartbeat:       30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			CoolDown:        workflow.DefaultCoolDown,
			MailboxSize:     64,
			PersistAttempts: 5,
			RecoveryWorkers: 8,
			CacheTTL:        10 * time.Minute,
			RecoverOnStart:  true,
		},
		Pool: PoolConfig{
			MaxWorkers:    pool.DefaultMaxWorkers,
			QueueCapacity: 256,
			TaskTimeout:   time.Minute,
		},
		Storage: StorageConfig{Backend: StorageSQLite},
		Analyzer: AnalyzerConfig{
			MaxTopics: 5,
		},
		Tracing: traces,
		Client:  client.DefaultConfig(),
	}
}

// Validate checks the whole configuration and joins every problem found.
func (c Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if err := ValidateEngine(c.Engine); err != nil {
		errs = append(errs, err)
	}
	if err := ValidatePool(c.Pool); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateStorage(c.Storage); err != nil {
		errs = append(errs, err)
	}
	if c.Analyzer.Latency < 0 {
		errs = append(errs, errors.New("analyzer.latency must not be negative"))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := c.Client.WithDefaults().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateEngine checks engine tuning for impossible values.
func ValidateEngine(e EngineConfig) error {
	switch {
	case e.CoolDown < 0:
		return fmt.Errorf("engine.cool_down must not be negative, got %s", e.CoolDown)
	case e.MailboxSize < 0:
		return fmt.Errorf("engine.mailbox_size must not be negative, got %d", e.MailboxSize)
	case e.PersistAttempts < 0:
		return fmt.Errorf("engine.persist_attempts must not be negative, got %d", e.PersistAttempts)
	case e.RecoveryWorkers < 0:
		return fmt.Errorf("engine.recovery_workers must not be negative, got %d", e.RecoveryWorkers)
	}
	return nil
}

// ValidatePool checks pool sizing and per-task policies.
func ValidatePool(p PoolConfig) error {
	if p.MaxWorkers != 0 && p.MaxWorkers < pool.MinWorkers {
		return fmt.Errorf("pool.max_workers must be at least %d, got %d", pool.MinWorkers, p.MaxWorkers)
	}
	if p.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must not be negative, got %d", p.QueueCapacity)
	}
	if p.TaskTimeout < 0 {
		return fmt.Errorf("pool.task_timeout must not be negative, got %s", p.TaskTimeout)
	}
	for name, policy := range p.Tasks {
		if !slices.Contains(analysis.Kinds, analysis.Kind(name)) {
			return fmt.Errorf("pool.tasks: unknown task %q (want sentiment, summary or topics)", name)
		}
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("pool.tasks.%s: %w", name, err)
		}
	}
	return nil
}

// ValidateStorage checks the storage backend selection.
func ValidateStorage(s StorageConfig) error {
	switch s.Backend {
	case StorageSQLite, StorageBadger, StorageMemory:
		return nil
	default:
		return fmt.Errorf("storage.backend must be %q, %q or %q, got %q",
			StorageSQLite, StorageBadger, StorageMemory, s.Backend)
	}
}
