package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kitware/volview-rpc/pkg/transform"
	"github.com/kitware/volview-rpc/pkg/wire"
)

// pendingFuture is the Go realization of spec.md §3's "pending future":
// (rpcId, future, creationTimestamp, transformArgs).
type pendingFuture struct {
	rpcID         string
	resultCh      chan callResult
	created       time.Time
	transformArgs bool
}

type callResult struct {
	data any
	err  error
}

// futureTable is the pending-future table, guarded by a single mutex per
// spec.md §5's "mutated only on the event loop" rule collapsed onto Go's
// preemptive scheduler: the shortest possible critical section, instead
// of a dedicated dispatcher goroutine.
type futureTable struct {
	mu      sync.Mutex
	pending map[string]*pendingFuture
}

func newFutureTable() *futureTable {
	return &futureTable{pending: make(map[string]*pendingFuture)}
}

func (t *futureTable) add(pf *pendingFuture) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[pf.rpcID] = pf
}

func (t *futureTable) pop(rpcID string) (*pendingFuture, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pf, ok := t.pending[rpcID]
	if ok {
		delete(t.pending, rpcID)
	}
	return pf, ok
}

func (t *futureTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// expireOlderThan removes and returns every pending future whose
// creation time is at least maxAge in the past.
func (t *futureTable) expireOlderThan(maxAge time.Duration) []*pendingFuture {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*pendingFuture
	for id, pf := range t.pending {
		if pf.created.Before(cutoff) || pf.created.Equal(cutoff) {
			expired = append(expired, pf)
			delete(t.pending, id)
		}
	}
	return expired
}

// rejectAll drains every pending future, resolving each with the error
// errFor produces for its rpcId. Used at teardown.
func (t *futureTable) rejectAll(errFor func(rpcID string) error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*pendingFuture)
	t.mu.Unlock()

	for id, pf := range pending {
		select {
		case pf.resultCh <- callResult{err: errFor(id)}:
		default:
		}
	}
}

// CallOption configures a single CallClient invocation.
type CallOption func(*callConfig)

type callConfig struct {
	clientID      string
	transformArgs bool
}

// WithTargetClient directs the call at a specific clientId instead of the
// ambient current client (spec.md §4.6's "default: currentClientId").
func WithTargetClient(clientID string) CallOption {
	return func(c *callConfig) { c.clientID = clientID }
}

// WithoutTransform skips the serializer/deserializer pipeline for this
// call's arguments and result.
func WithoutTransform() CallOption {
	return func(c *callConfig) { c.transformArgs = false }
}

// CallClient issues a server→client RPC (spec.md §4.6's callClient) and
// blocks until the client replies, ctx is cancelled, or the future
// reaper rejects it after cfg.FutureTimeout.
func (s *Server) CallClient(ctx context.Context, name string, args []any, opts ...CallOption) (any, error) {
	cfg := callConfig{transformArgs: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientID := cfg.clientID
	if clientID == "" {
		id, ok := ClientIDFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("rpc: CallClient requires a target clientId (none given and none ambient in ctx)")
		}
		clientID = id
	}

	rpcID := uuid.NewString()
	pf := &pendingFuture{
		rpcID:         rpcID,
		resultCh:      make(chan callResult, 1),
		created:       time.Now(),
		transformArgs: cfg.transformArgs,
	}
	s.futures.add(pf)
	s.metrics.PendingFutures.Inc()
	defer s.metrics.PendingFutures.Dec()

	sendArgs := args
	if cfg.transformArgs {
		sendArgs = transform.ApplyAll(args, s.serializers...)
	}
	s.emit(clientID, wire.EventRPCCall, wire.Call{RPCID: rpcID, Name: name, Args: sendArgs})

	select {
	case res := <-pf.resultCh:
		return res.data, res.err
	case <-ctx.Done():
		s.futures.pop(rpcID)
		return nil, ctx.Err()
	}
}

// runReaper periodically scans the pending-future table and rejects any
// future older than cfg.FutureTimeout, resolving spec.md §9's open
// question in favor of waking the awaiter with an error rather than
// leaving it suspended forever.
func (s *Server) runReaper() {
	interval := s.cfg.FutureTimeout / 5
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.reaperStop:
			return
		case <-ticker.C:
			expired := s.futures.expireOlderThan(s.cfg.FutureTimeout)
			for _, pf := range expired {
				s.metrics.ReaperEvictions.Inc()
				select {
				case pf.resultCh <- callResult{err: &FutureTimeoutError{RPCID: pf.rpcID}}:
				default:
				}
			}
		}
	}
}
