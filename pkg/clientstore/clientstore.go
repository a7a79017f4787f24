// Package clientstore implements the Client-Store Proxy (spec.md §4.5): a
// lazy, chainable descriptor that materializes into a server→client RPC
// only when awaited. Go has no dynamic attribute access, so the proxy is
// expressed as an explicit typed path-builder rather than attribute
// interception (spec.md §9).
package clientstore

import "context"

// Caller issues a server→client RPC and waits for its result. Package rpc
// supplies one through Server.Store (a thin adapter over
// Server.CallClient), so Descriptor never imports package rpc directly and
// rpc can depend on clientstore instead of the reverse.
type Caller interface {
	CallClient(ctx context.Context, name string, args []any) (any, error)
}

// Descriptor is one node of a lazy property-chain rooted at a named
// client-side store. Prop/Index append a path segment; Call produces a
// method invocation; intermediate chaining performs no I/O, matching the
// "materializes only on await" contract. Path segments are string or int,
// matching spec.md §6.4's propChain (the original's PropKey = Union[int,
// str]), so a chain can express both property access and array indexing
// (e.g. store.images[0].getName).
type Descriptor struct {
	caller    Caller
	storeID   string
	propChain []any
}

// Store begins a new descriptor chain rooted at the named client-side
// store, using caller to issue the eventual round trip.
func Store(caller Caller, name string) *Descriptor {
	return &Descriptor{caller: caller, storeID: name}
}

// Prop returns a new descriptor with key appended to the property chain.
// It allocates only; it never talks to the client.
func (d *Descriptor) Prop(key string) *Descriptor {
	return d.appendSegment(key)
}

// Index returns a new descriptor with an integer array-index segment
// appended to the property chain. It allocates only; it never talks to
// the client.
func (d *Descriptor) Index(i int) *Descriptor {
	return d.appendSegment(i)
}

func (d *Descriptor) appendSegment(segment any) *Descriptor {
	chain := make([]any, len(d.propChain)+1)
	copy(chain, d.propChain)
	chain[len(d.propChain)] = segment
	return &Descriptor{caller: d.caller, storeID: d.storeID, propChain: chain}
}

// Await materializes this descriptor as a property read: it issues
// getStoreProperty(storeId, propChain) to the client and blocks for the
// reply.
func (d *Descriptor) Await(ctx context.Context) (any, error) {
	return d.caller.CallClient(ctx, "getStoreProperty", []any{d.storeID, d.propChain})
}

// MethodCall is a descriptor chain plus a concrete argument list,
// produced by Descriptor.Call. It materializes into callStoreMethod.
type MethodCall struct {
	caller    Caller
	storeID   string
	propChain []any
	args      []any
}

// Call binds args to this descriptor's path, producing a MethodCall that
// materializes on Await.
func (d *Descriptor) Call(args ...any) *MethodCall {
	return &MethodCall{
		caller:    d.caller,
		storeID:   d.storeID,
		propChain: d.propChain,
		args:      args,
	}
}

// Await materializes this method call: it issues
// callStoreMethod(storeId, propChain, args) to the client and blocks for
// the reply.
func (m *MethodCall) Await(ctx context.Context) (any, error) {
	return m.caller.CallClient(ctx, "callStoreMethod", []any{m.storeID, m.propChain, m.args})
}
