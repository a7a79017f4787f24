package rpc

import (
	"context"

	"github.com/kitware/volview-rpc/pkg/router"
)

// UnaryHandler is an endpoint that returns a single result, the Go
// equivalent of spec.md §4.3's "unary" handler kind. Converting a plain
// func literal to UnaryHandler before passing it to Expose follows the
// same idiom as net/http.HandlerFunc.
type UnaryHandler func(ctx context.Context, args []any) (any, error)

// StreamFunc is an endpoint that pushes zero or more items followed by a
// terminal frame, the Go equivalent of spec.md §4.3's "stream" handler
// kind (a generator, which Go has no direct equivalent of). The returned
// error channel carries at most one value — nil on clean exhaustion,
// non-nil on failure — before the handler is done.
type StreamFunc func(ctx context.Context, args []any) (<-chan router.Item, <-chan error)
