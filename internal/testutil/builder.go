// Package testutil provides builders and shared tests for instance repositories.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

// Builder accumulates test instances and inserts them through a repository.
type Builder struct {
	t         *testing.T
	repo      domain.InstanceRepository
	instances []instanceData
}

// NewBuilder creates a builder for the given repository.
func NewBuilder(t *testing.T, repo domain.InstanceRepository) *Builder {
	t.Helper()
	return &Builder{t: t, repo: repo}
}

// WithInstance adds an instance with optional configuration.
func (b *Builder) WithInstance(id string, opts ...InstanceOption) *Builder {
	d := defaultInstance(id)
	for _, opt := range opts {
		opt(&d)
	}
	b.instances = append(b.instances, d)
	return b
}

// Build inserts all accumulated instances and returns them in insertion order.
func (b *Builder) Build() []*domain.Instance {
	b.t.Helper()
	out := make([]*domain.Instance, 0, len(b.instances))
	for _, d := range b.instances {
		events := NewEvents(d.inst.ID, 1, d.events)
		d.inst.LastSeq = int64(len(events))
		require.NoError(b.t, b.repo.Create(context.Background(), d.inst, events))
		out = append(out, d.inst.Clone())
	}
	return out
}
