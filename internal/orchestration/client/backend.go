package client

import (
	"context"

	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

// Backend is the transport a Client drives. Implementations scope calls to
// the namespace carried by ctx (see controlplane.WithNamespace).
type Backend interface {
	// Create persists a new instance awaiting its start signal.
	Create(ctx context.Context, req controlplane.CreateRequest) (controlplane.InstanceID, error)
	// Signal delivers a signal; terminal instances ignore it.
	Signal(ctx context.Context, id controlplane.InstanceID, sig workflow.Signal) error
	// Describe returns the current snapshot.
	Describe(ctx context.Context, id controlplane.InstanceID) (*controlplane.Snapshot, error)
	// Wait blocks until the instance is terminal or ctx is done.
	Wait(ctx context.Context, id controlplane.InstanceID) (*controlplane.Snapshot, error)
}

// EngineBackend runs calls against an in-process engine.
type EngineBackend struct {
	engine controlplane.Engine
}

var _ Backend = (*EngineBackend)(nil)

// NewEngineBackend wraps engine.
func NewEngineBackend(engine controlplane.Engine) *EngineBackend {
	return &EngineBackend{engine: engine}
}

func (b *EngineBackend) Create(ctx context.Context, req controlplane.CreateRequest) (controlplane.InstanceID, error) {
	return b.engine.Create(ctx, req)
}

func (b *EngineBackend) Signal(ctx context.Context, id controlplane.InstanceID, sig workflow.Signal) error {
	return b.engine.Signal(ctx, id, sig)
}

func (b *EngineBackend) Describe(ctx context.Context, id controlplane.InstanceID) (*controlplane.Snapshot, error) {
	return b.engine.Describe(ctx, id)
}

func (b *EngineBackend) Wait(ctx context.Context, id controlplane.InstanceID) (*controlplane.Snapshot, error) {
	return b.engine.Wait(ctx, id)
}
