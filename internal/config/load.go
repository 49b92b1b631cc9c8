package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/zjrosen/textflow/internal/log"
)

// EnvPrefix namespaces environment overrides, e.g. TEXTFLOW_SERVER_ADDR.
const EnvPrefix = "TEXTFLOW"

// LocalConfigPath is checked before the user config directory.
const LocalConfigPath = ".textflow/config.yaml"

// DefaultConfigPath returns ~/.config/textflow/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return LocalConfigPath
	}
	return filepath.Join(home, ".config", "textflow", "config.yaml")
}

// SetDefaults registers every default on v so environment variables bind to
// keys that are absent from the file.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.auth_token", d.Server.AuthToken)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.heartbeat", d.Server.Heartbeat)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("engine.cool_down", d.Engine.CoolDown)
	v.SetDefault("engine.mailbox_size", d.Engine.MailboxSize)
	v.SetDefault("engine.persist_attempts", d.Engine.PersistAttempts)
	v.SetDefault("engine.recovery_workers", d.Engine.RecoveryWorkers)
	v.SetDefault("engine.cache_ttl", d.Engine.CacheTTL)
	v.SetDefault("engine.recover_on_start", d.Engine.RecoverOnStart)

	v.SetDefault("pool.max_workers", d.Pool.MaxWorkers)
	v.SetDefault("pool.queue_capacity", d.Pool.QueueCapacity)
	v.SetDefault("pool.task_timeout", d.Pool.TaskTimeout)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("analyzer.latency", d.Analyzer.Latency)
	v.SetDefault("analyzer.max_topics", d.Analyzer.MaxTopics)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("client.endpoint", d.Client.Endpoint)
	v.SetDefault("client.namespace", d.Client.Namespace)
	v.SetDefault("client.credentials", d.Client.Credentials)
	v.SetDefault("client.poll_interval", d.Client.PollInterval)
	v.SetDefault("client.start_timeout", d.Client.StartTimeout)
	v.SetDefault("client.cancel_timeout", d.Client.CancelTimeout)
}

// Prepare points v at its config file and environment. An explicit path is
// used as-is; otherwise LocalConfigPath is preferred over DefaultConfigPath,
// which is created from the template when neither exists.
func Prepare(v *viper.Viper, path string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return nil
	}
	if _, err := os.Stat(LocalConfigPath); err == nil {
		v.SetConfigFile(LocalConfigPath)
		return nil
	}
	path = DefaultConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefaultConfig(path); err != nil {
			return err
		}
	}
	v.SetConfigFile(path)
	return nil
}

// Load reads the file v was prepared with, decodes it and validates the result.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config %s: %w", v.ConfigFileUsed(), err)
		}
		log.Debug(log.CatConfig, "No config file, using defaults", "path", v.ConfigFileUsed())
	}
	return Decode(v)
}

// Decode unmarshals v's current settings and validates them.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch re-decodes the config whenever its file changes and hands valid
// results to onChange. Invalid edits are logged and skipped.
func Watch(v *viper.Viper, onChange func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			log.ErrorErr(log.CatConfig, "Ignoring config change", err, "path", e.Name)
			return
		}
		log.Info(log.CatConfig, "Config reloaded", "path", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}

// ApplyLogLevel switches the global log level to cfg.Log.Level.
func ApplyLogLevel(cfg Config) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return
	}
	log.SetMinLevel(level)
}
