package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/textflow/internal/log"
)

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# textflow configuration

# Logging
log:
  level: info        # debug, info, warn or error (reloaded while the daemon runs)
  # file: ~/.textflow/textflow.log

# HTTP API served by 'textflow daemon'
server:
  addr: localhost:3000
  # auth_token: change-me   # Require "Authorization: Bearer <token>" on every route but /health
  read_timeout: 30s
  heartbeat: 30s            # Keep-alive interval for the /events stream
  shutdown_timeout: 30s

# Execution engine
engine:
  cool_down: 10s            # Pause between the three analyses finishing and the result
  mailbox_size: 64
  persist_attempts: 5       # Retries before a history append is treated as a fault
  recovery_workers: 8
  cache_ttl: 10m            # How long finished snapshots stay cached (negative disables)
  recover_on_start: true

# Worker pool shared by every instance
pool:
  max_workers: 8            # At least 3 so one instance's analyses run in parallel
  queue_capacity: 256
  task_timeout: 1m
  # Per-task overrides:
  # tasks:
  #   summary:
  #     timeout: 2m
  #     retry:
  #       max_attempts: 3
  #       initial_interval: 1s
  #       max_interval: 10s
  #     rate_limit: 5       # Executions per second
  #     burst: 5

# Where instance history is stored
storage:
  backend: sqlite           # sqlite, badger or memory
  # path: ~/.textflow/textflow.db

# Offline analyzers
analyzer:
  latency: 0s               # Artificial per-task delay
  max_topics: 5

# Distributed tracing
# tracing:
#   enabled: false
#   exporter: file                 # none, file, stdout or otlp
#   file_path: ~/.textflow/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

# Settings used by the analyze, start, status and cancel commands
client:
  endpoint: http://localhost:3000
  namespace: default
  # credentials: change-me
  poll_interval: 500ms
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
