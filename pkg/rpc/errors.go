package rpc

import "fmt"

// HandlerError wraps an error raised inside a handler, a transform step,
// or surfaced by a remote client's rpc:result — spec.md §7's
// HandlerException / TransformError, both of which cross the socket
// boundary as a plain {ok:false, error} string and never as a native
// exception.
type HandlerError struct {
	Message string
}

func (e *HandlerError) Error() string { return e.Message }

// FutureTimeoutError is returned to a CallClient caller whose
// server→client call was reaped after cfg.FutureTimeout elapsed without
// a reply (spec.md §7, resolving the open question in §9: the reaper
// rejects rather than silently dropping).
type FutureTimeoutError struct {
	RPCID string
}

func (e *FutureTimeoutError) Error() string {
	return fmt.Sprintf("server-to-client call %s timed out", e.RPCID)
}

// ProtocolError marks a malformed inbound frame at the RPC layer
// (invalid envelope, invalid call/result shape). Per spec.md §7 these
// are logged and the frame is dropped; they do not force-close the
// connection the way a pkg/chunk.ProtocolError does.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "rpc: protocol error: " + e.Reason }
