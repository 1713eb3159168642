package route

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"routechat/internal/models"
)

// ErrUnroutableTarget marks a configuration gap: a classified target with no
// registered specialist. Distinct from any runtime failure.
var ErrUnroutableTarget = errors.New("unroutable target")

// Invocation carries everything a specialist needs for one exchange: the
// serialized prior history, the new parts, and the session's model
// preference.
type Invocation struct {
	History    []models.Turn
	Parts      []models.ContentPart
	Preference string
}

// Capability turns a session context plus new input into a chunk stream.
// The returned channel is closed after its terminal chunk. Implementations
// must stop producing promptly when ctx is cancelled.
type Capability interface {
	Invoke(ctx context.Context, inv Invocation) (<-chan models.StreamChunk, error)
}

// Registry binds targets to specialist capabilities. At most one capability
// per target; registering again replaces the prior binding. Adding a
// specialist touches only the registry and, if needed, the classifier rule
// table, never the coordinator.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Target]Capability
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[Target]Capability)}
}

// Register binds a capability to a target, replacing any prior binding.
func (r *Registry) Register(target Target, cap Capability) {
	r.mu.Lock()
	r.bindings[target] = cap
	r.mu.Unlock()
}

// Resolve returns the capability bound to target.
func (r *Registry) Resolve(target Target) (Capability, error) {
	r.mu.RLock()
	cap, ok := r.bindings[target]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnroutableTarget, target)
	}
	return cap, nil
}
