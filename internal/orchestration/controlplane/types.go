// Package controlplane runs analysis instances: it persists their history,
// owns one actor goroutine per live instance, dispatches tasks to the worker
// pool, and fires cool-down timers.
package controlplane

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
)

// IDPrefix starts every generated instance ID.
const IDPrefix = "text-analysis-"

// InstanceID identifies an instance within its namespace.
type InstanceID string

// NewInstanceID generates text-analysis-<unix-millis>-<8 hex chars>.
func NewInstanceID(clock clockwork.Clock) InstanceID {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return InstanceID(fmt.Sprintf("%s%d-%s", IDPrefix, clock.Now().UnixMilli(), suffix))
}

// String returns the string representation of the InstanceID.
func (id InstanceID) String() string {
	return string(id)
}

// Validate rejects IDs that cannot be used in URLs or storage keys.
func (id InstanceID) Validate() error {
	s := string(id)
	if s == "" {
		return fmt.Errorf("instance id is empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("instance id longer than 128 characters")
	}
	if strings.ContainsAny(s, "/# \t\r\n?") {
		return fmt.Errorf("instance id %q contains reserved characters", s)
	}
	return nil
}

type namespaceKey struct{}

// WithNamespace returns a context whose engine calls operate in ns.
func WithNamespace(ctx context.Context, ns string) context.Context {
	if ns == "" {
		return ctx
	}
	return context.WithValue(ctx, namespaceKey{}, ns)
}

// NamespaceFromContext returns the namespace stored in ctx, or the default.
func NamespaceFromContext(ctx context.Context) string {
	if ns, ok := ctx.Value(namespaceKey{}).(string); ok && ns != "" {
		return ns
	}
	return domain.DefaultNamespace
}

// CreateRequest describes a new instance.
type CreateRequest struct {
	// ID is optional; one is generated when empty.
	ID   InstanceID
	Text string
}

// Validate checks the request before anything is persisted.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text must not be empty")
	}
	if r.ID != "" {
		if err := r.ID.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ListQuery filters List results.
type ListQuery struct {
	// Namespace limits results to one namespace. Empty uses the context namespace;
	// AllNamespaces lists every namespace.
	Namespace     string
	AllNamespaces bool
	States        []workflow.State
	Limit         int
}

// Snapshot is a point-in-time view of an instance.
type Snapshot struct {
	ID             InstanceID
	Namespace      string
	State          workflow.State
	Text           string
	StartReceived  bool
	CancelReceived bool
	Tasks          map[analysis.Kind]workflow.TaskOutcome
	Result         *analysis.AnalysisResult
	Failure        *workflow.Failure
	TimerFireAt    *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
	LastSeq        int64
}

// Status maps the state onto the caller-facing status.
func (s *Snapshot) Status() workflow.Status {
	return s.State.Status()
}

// Terminal reports whether the instance can no longer change.
func (s *Snapshot) Terminal() bool {
	return s.State.IsTerminal()
}

// Err returns the terminal error of a FAILED or CANCELLED instance: an
// *EngineError wrapping the *task.TaskError for task failures, and
// workflow.ErrUserCancelled for cancellations. Nil otherwise.
func (s *Snapshot) Err() error {
	if s.Failure == nil {
		return nil
	}
	switch s.Failure.Kind {
	case workflow.FailureUserCancelled:
		return workflow.ErrUserCancelled
	case workflow.FailureTask:
		return taskError(s.ID, s.Failure)
	default:
		return &EngineError{Kind: KindInternalFault, InstanceID: s.ID, Err: s.Failure.Err()}
	}
}
