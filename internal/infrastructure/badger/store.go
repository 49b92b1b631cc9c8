// Package badger implements the instance repository on Badger through badgerhold.
package badger

import (
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/log"
)

// Config configures the Badger store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string `mapstructure:"path" yaml:"path"`

	// InMemory keeps all data in memory; used by tests and throwaway daemons.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`
}

// Store manages the Badger database connection.
type Store struct {
	store *badgerhold.Store
	cfg   Config
}

// Open creates or opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil // badger's own logger is noisy; lifecycle goes through internal/log

	if cfg.InMemory {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		options.Dir = cfg.Path
		options.ValueDir = cfg.Path
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	log.Info(log.CatStore, "Opened badger store", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{store: store, cfg: cfg}, nil
}

// Hold returns the underlying badgerhold store.
func (s *Store) Hold() *badgerhold.Store {
	return s.store
}

// InstanceRepository returns a repository backed by this store.
// Closing the repository closes the store.
func (s *Store) InstanceRepository() domain.InstanceRepository {
	return newInstanceRepository(s)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
