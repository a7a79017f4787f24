// Package router implements the Endpoint Router (spec.md §4.3): a
// name → (handler, kind, transformArgs) registry with duplicate-name
// rejection and automatic unary-vs-stream kind detection.
package router

import (
	"fmt"
	"reflect"
)

// Kind classifies an endpoint's call shape.
type Kind int

const (
	// Unary endpoints return a single result (or error).
	Unary Kind = iota
	// Stream endpoints push zero or more items followed by a terminal
	// frame. Go has no generator functions, so a stream handler is
	// detected by its Go shape: it implements StreamHandler, or it
	// returns a <-chan Item alongside a <-chan error (spec.md §9's
	// "expose a typed chain instead" guidance, applied to kind
	// detection too).
	Stream
)

// Item is one value yielded by a stream endpoint before its terminal
// frame.
type Item = any

// StreamHandler is implemented by handlers that produce a push-style
// sequence of results. InvokeStream must send zero or more items on the
// returned channel, close it on completion, and send at most one error
// (nil on success) on the error channel before closing it.
type StreamHandler interface {
	InvokeStream(args []any) (<-chan Item, <-chan error)
}

// Endpoint is one registered (name, handler, kind, transformArgs) tuple.
type Endpoint struct {
	Name          string
	Handler       any
	Kind          Kind
	TransformArgs bool
}

// KeyExistsError is returned by Add when publicName is already registered
// in this router (spec.md §3's uniqueness invariant, §7's DuplicateEndpoint).
type KeyExistsError struct {
	Name string
}

func (e *KeyExistsError) Error() string {
	return fmt.Sprintf("%s is already registered", e.Name)
}

// NotFoundError is returned by Lookup for an unregistered name (spec.md
// §7's EndpointNotFound).
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s is not a registered RPC", e.Name)
}

// Router is an ordered endpoint registry. The zero value is not usable;
// construct with New.
type Router struct {
	order []string
	byName map[string]*Endpoint
}

// New creates an empty Router.
func New() *Router {
	return &Router{byName: make(map[string]*Endpoint)}
}

// Add registers handler under publicName. Duplicate registration within
// this router fails with *KeyExistsError, matching spec.md §3.
func (r *Router) Add(publicName string, handler any, transformArgs bool) error {
	if _, exists := r.byName[publicName]; exists {
		return &KeyExistsError{Name: publicName}
	}

	ep := &Endpoint{
		Name:          publicName,
		Handler:       handler,
		Kind:          detectKind(handler),
		TransformArgs: transformArgs,
	}
	r.byName[publicName] = ep
	r.order = append(r.order, publicName)
	return nil
}

// Lookup returns the endpoint registered under name, or *NotFoundError.
func (r *Router) Lookup(name string) (*Endpoint, error) {
	ep, ok := r.byName[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return ep, nil
}

// Endpoints returns all registered endpoints in insertion order.
func (r *Router) Endpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func detectKind(handler any) Kind {
	if _, ok := handler.(StreamHandler); ok {
		return Stream
	}

	// Also recognize a plain function shaped like
	// func(args...) (<-chan Item, <-chan error) without requiring the
	// caller to wrap it in a named type.
	v := reflect.ValueOf(handler)
	if v.Kind() == reflect.Func {
		t := v.Type()
		if t.NumOut() == 2 &&
			t.Out(0).Kind() == reflect.Chan &&
			t.Out(1).String() == "<-chan error" {
			return Stream
		}
	}
	return Unary
}

// Chain scans a list of routers in order and returns the first endpoint
// matching name, matching spec.md §4.7's "first match wins" facade lookup
// semantics.
func Chain(routers []*Router, name string) (*Endpoint, error) {
	for _, r := range routers {
		if ep, err := r.Lookup(name); err == nil {
			return ep, nil
		}
	}
	return nil, &NotFoundError{Name: name}
}
