// Package session implements the per-client session registry (spec.md
// §4.4): lazily-constructed, per-clientID state that survives across a
// single client's disconnect/reconnect cycles by design, and is only
// dropped when the server explicitly evicts it.
package session

import (
	"context"
	"sync"
)

// Registry holds one value per clientID, created on first access via a
// caller-supplied factory. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]any
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byKey: make(map[string]any)}
}

// Get returns the existing session value for clientID, or calls factory
// to create and store one if none exists yet. factory runs under the
// registry's lock, so it must not call back into this Registry.
func (r *Registry) Get(clientID string, factory func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.byKey[clientID]; ok {
		return v
	}
	v := factory()
	r.byKey[clientID] = v
	return v
}

// Peek returns the existing session value for clientID without creating
// one, reporting whether it existed.
func (r *Registry) Peek(clientID string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byKey[clientID]
	return v, ok
}

// Delete evicts clientID's session, if any. Sessions are not evicted
// automatically on disconnect (spec.md §4.4's persistence invariant);
// callers that want eviction-on-disconnect must call this explicitly
// from their own disconnect handler.
func (r *Registry) Delete(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, clientID)
}

// Len reports how many sessions are currently stored.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// GetTyped is the generic counterpart to Registry.Get: it returns the
// session value already type-asserted to T, constructing it with
// factory on first access. Handlers written against a concrete session
// type should use this instead of performing the type assertion
// themselves at every call site.
func GetTyped[T any](r *Registry, clientID string, factory func() T) T {
	v := r.Get(clientID, func() any { return factory() })
	return v.(T)
}

type ctxKey struct{}

type ambient struct {
	registry *Registry
	clientID string
}

// NewContext attaches registry and clientID to ctx so that handler code
// deep in a call stack can reach its own session via Get without having
// either value threaded through explicitly (spec.md §9's ambient-context
// substitution: explicit context.Context in place of task-local storage).
func NewContext(ctx context.Context, clientID string, registry *Registry) context.Context {
	return context.WithValue(ctx, ctxKey{}, ambient{registry: registry, clientID: clientID})
}

// Get returns the calling client's session, type-asserted to T and
// constructed via factory on first access. It panics if ctx was not
// derived from NewContext — a handler invoked outside the RPC core never
// has a session to read.
func Get[T any](ctx context.Context, factory func() T) T {
	a, ok := ctx.Value(ctxKey{}).(ambient)
	if !ok {
		panic("session: Get called on a context with no session registry attached")
	}
	return GetTyped(a.registry, a.clientID, factory)
}
