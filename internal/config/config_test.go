package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/textflow/internal/orchestration/pool"
	"github.com/zjrosen/textflow/internal/orchestration/tracing"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "localhost:3000", cfg.Server.Addr)
	require.Equal(t, workflow.DefaultCoolDown, cfg.Engine.CoolDown)
	require.True(t, cfg.Engine.RecoverOnStart)
	require.Equal(t, pool.DefaultMaxWorkers, cfg.Pool.MaxWorkers)
	require.Equal(t, StorageSQLite, cfg.Storage.Backend)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, DefaultTracesFilePath(), cfg.Tracing.FilePath)
	require.Equal(t, "http://localhost:3000", cfg.Client.Endpoint)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "log.level",
		},
		{
			name:    "missing server addr",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "server.addr is required",
		},
		{
			name:    "negative cool-down",
			mutate:  func(c *Config) { c.Engine.CoolDown = -time.Second },
			wantErr: "engine.cool_down",
		},
		{
			name:    "too few workers",
			mutate:  func(c *Config) { c.Pool.MaxWorkers = 2 },
			wantErr: "pool.max_workers must be at least 3",
		},
		{
			name: "unknown task policy",
			mutate: func(c *Config) {
				c.Pool.Tasks = map[string]pool.KindPolicy{"translate": {}}
			},
			wantErr: `unknown task "translate"`,
		},
		{
			name: "bad task policy",
			mutate: func(c *Config) {
				c.Pool.Tasks = map[string]pool.KindPolicy{"summary": {Timeout: -time.Second}}
			},
			wantErr: "pool.tasks.summary",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: "storage.backend",
		},
		{
			name: "tracing sample rate",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 2
			},
			wantErr: "sample_rate",
		},
		{
			name: "tracing file path",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = tracing.ExporterFile
				c.Tracing.FilePath = ""
			},
			wantErr: "file_path",
		},
		{
			name:    "client endpoint",
			mutate:  func(c *Config) { c.Client.Endpoint = "ftp://example.com" },
			wantErr: "http or https",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = ""
	cfg.Storage.Backend = "postgres"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "server.addr")
	require.Contains(t, err.Error(), "storage.backend")
}

func TestValidatePool_ZeroWorkersMeansDefault(t *testing.T) {
	require.NoError(t, ValidatePool(PoolConfig{}))
}

func TestPoolOptions(t *testing.T) {
	policies := map[string]pool.KindPolicy{"topics": {Timeout: 5 * time.Second}}
	opts := PoolConfig{MaxWorkers: 4, QueueCapacity: 10, TaskTimeout: time.Second, Tasks: policies}.PoolOptions()

	require.Equal(t, 4, opts.MaxWorkers)
	require.Equal(t, 10, opts.QueueCapacity)
	require.Equal(t, time.Second, opts.Timeout)
	require.Equal(t, policies, opts.Policies)
}

func TestStorageResolvedPath(t *testing.T) {
	require.Equal(t, "/tmp/x.db", StorageConfig{Backend: StorageSQLite, Path: "/tmp/x.db"}.ResolvedPath())
	require.Contains(t, StorageConfig{Backend: StorageSQLite}.ResolvedPath(), "textflow.db")
	require.Contains(t, StorageConfig{Backend: StorageBadger}.ResolvedPath(), "badger")
}
