package cmd

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/textflow/internal/config"
	"github.com/zjrosen/textflow/internal/infrastructure/badger"
	"github.com/zjrosen/textflow/internal/infrastructure/sqlite"
	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/instances/memory"
	"github.com/zjrosen/textflow/internal/log"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
)

// openRepository opens the configured storage backend. Closing the
// repository releases the backend.
func openRepository(sc config.StorageConfig) (domain.InstanceRepository, error) {
	switch sc.Backend {
	case config.StorageMemory:
		log.Warn(log.CatStore, "Using in-memory storage; instances are lost on exit")
		return memory.New(), nil
	case config.StorageBadger:
		store, err := badger.Open(badger.Config{Path: sc.ResolvedPath()})
		if err != nil {
			return nil, fmt.Errorf("opening badger store: %w", err)
		}
		return store.InstanceRepository(), nil
	case config.StorageSQLite, "":
		db, err := sqlite.NewDB(sc.ResolvedPath())
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		return db.InstanceRepository(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

// engineConfig maps the loaded config onto the engine's options.
func engineConfig(c config.Config, repo domain.InstanceRepository, clock clockwork.Clock, tracer trace.Tracer) controlplane.Config {
	return controlplane.Config{
		Repository: repo,
		Analyzers: analysis.Offline{
			Clock:     clock,
			Latency:   c.Analyzer.Latency,
			MaxTopics: c.Analyzer.MaxTopics,
		}.Analyzers(),
		PoolConfig:      c.Pool.PoolOptions(),
		Clock:           clock,
		Tracer:          tracer,
		CoolDown:        c.Engine.CoolDown,
		MailboxSize:     c.Engine.MailboxSize,
		PersistAttempts: c.Engine.PersistAttempts,
		RecoveryWorkers: c.Engine.RecoveryWorkers,
		CacheTTL:        c.Engine.CacheTTL,
	}
}
