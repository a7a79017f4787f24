// Package rpc implements the RPC Server Core (spec.md §4.6) and Public
// API Facade (spec.md §4.7): wire-event handling, call dispatch over a
// worker pool, server→client calls with pending-future tracking and a
// timeout reaper, and endpoint registration.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitware/volview-rpc/pkg/chunk"
	"github.com/kitware/volview-rpc/pkg/clientstore"
	"github.com/kitware/volview-rpc/pkg/config"
	"github.com/kitware/volview-rpc/pkg/logging"
	"github.com/kitware/volview-rpc/pkg/metrics"
	"github.com/kitware/volview-rpc/pkg/router"
	"github.com/kitware/volview-rpc/pkg/session"
	"github.com/kitware/volview-rpc/pkg/transform"
	"github.com/kitware/volview-rpc/pkg/transport"
	"github.com/kitware/volview-rpc/pkg/wire"
)

// Server is the RPC core: one per process, bound to one transport.Room.
// It implements transport.Handler so it can be handed directly to
// transport.NewServer.
type Server struct {
	cfg config.Config

	defaultRouter *router.Router
	extraRouters  []*router.Router

	sessions *session.Registry

	room      *transport.Room
	transport *transport.Server

	serializers   []transform.Func
	deserializers []transform.Func

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	workSem chan struct{}

	futures    *futureTable
	reaperStop chan struct{}
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithSerializers sets the result-side transform pipeline applied when an
// endpoint or CallClient invocation requests transformArgs.
func WithSerializers(fns ...transform.Func) Option {
	return func(s *Server) { s.serializers = fns }
}

// WithDeserializers sets the argument-side transform pipeline.
func WithDeserializers(fns ...transform.Func) Option {
	return func(s *Server) { s.deserializers = fns }
}

// WithMetricsRegistry registers this server's metrics against reg instead
// of a private registry. Useful for processes that already expose a
// shared /metrics endpoint.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// NewServer constructs a Server from cfg, applies opts, and starts its
// background future reaper. Call Teardown to stop it cleanly.
func NewServer(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:           cfg,
		defaultRouter: router.New(),
		sessions:      session.New(),
		room:          transport.NewRoom(),
		workSem:       make(chan struct{}, cfg.WorkerPool),
		futures:       newFutureTable(),
		reaperStop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = metrics.New(s.registry)
	s.transport = transport.NewServer(s, s.room, cfg.ChunkSize, cfg.MaxMessageSize)

	go s.runReaper()
	return s
}

// Expose registers handler under publicName on this server's default
// router (spec.md §4.7). handler must be an rpc.UnaryHandler or
// rpc.StreamFunc — or a plain func literal of one of those two shapes,
// converted the same way net/http.HandlerFunc converts a plain function.
func (s *Server) Expose(publicName string, handler any, transformArgs bool) error {
	switch h := handler.(type) {
	case UnaryHandler:
		return s.defaultRouter.Add(publicName, h, transformArgs)
	case func(context.Context, []any) (any, error):
		return s.defaultRouter.Add(publicName, UnaryHandler(h), transformArgs)
	case StreamFunc:
		return s.defaultRouter.Add(publicName, h, transformArgs)
	case func(context.Context, []any) (<-chan router.Item, <-chan error):
		return s.defaultRouter.Add(publicName, StreamFunc(h), transformArgs)
	default:
		return fmt.Errorf("rpc: handler for %q must be an rpc.UnaryHandler or rpc.StreamFunc, got %T", publicName, handler)
	}
}

// AddRouter appends an externally constructed router to this server's
// lookup chain (spec.md §4.7). Lookup scans routers in the order they
// were added, default router first; first match wins.
func (s *Server) AddRouter(r *router.Router) error {
	if r == nil {
		return fmt.Errorf("rpc: AddRouter requires a non-nil router")
	}
	s.extraRouters = append(s.extraRouters, r)
	return nil
}

func (s *Server) allRouters() []*router.Router {
	all := make([]*router.Router, 0, len(s.extraRouters)+1)
	all = append(all, s.defaultRouter)
	all = append(all, s.extraRouters...)
	return all
}

// Handler returns the mountable HTTP surface: the WebSocket upgrade
// endpoint at /ws and a Prometheus scrape endpoint at /metrics, routed
// through gorilla/mux.
func (s *Server) Handler() http.Handler {
	m := mux.NewRouter()
	m.Handle("/ws", s.transport)
	m.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return m
}

// Store returns a client-store descriptor rooted at name, wired to this
// server's CallClient so Await issues a real round trip (spec.md §4.5).
func (s *Server) Store(name string) *clientstore.Descriptor {
	return clientstore.Store(serverCaller{s}, name)
}

// serverCaller adapts Server.CallClient's variadic-options signature to
// the fixed clientstore.Caller shape.
type serverCaller struct{ s *Server }

func (c serverCaller) CallClient(ctx context.Context, name string, args []any) (any, error) {
	return c.s.CallClient(ctx, name, args)
}

// Teardown stops the reaper, rejects every still-pending server→client
// future, and closes every live connection concurrently via errgroup
// (spec.md §4.6's "teardown" lifecycle step).
func (s *Server) Teardown(ctx context.Context) error {
	close(s.reaperStop)
	s.futures.rejectAll(func(rpcID string) error { return &FutureTimeoutError{RPCID: rpcID} })

	g, _ := errgroup.WithContext(ctx)
	for _, conn := range s.room.AllConnections() {
		conn := conn
		g.Go(func() error { return conn.Close() })
	}
	return g.Wait()
}

// ambientContext attaches the current server, clientId, and session
// registry to ctx, matching spec.md §5's task-local ambient context.
func (s *Server) ambientContext(ctx context.Context, clientID string) context.Context {
	ctx = withServer(ctx, s)
	ctx = withClientID(ctx, clientID)
	ctx = session.NewContext(ctx, clientID, s.sessions)
	return ctx
}

// submitWork runs fn on the bounded worker pool, blocking until a slot is
// free (spec.md §5's "synchronous handlers run on a fixed-size worker
// pool" model).
func (s *Server) submitWork(fn func()) {
	s.workSem <- struct{}{}
	go func() {
		defer func() { <-s.workSem }()
		fn()
	}()
}

// --- transport.Handler ---

// OnConnect implements transport.Handler.
func (s *Server) OnConnect(conn *transport.Connection) {
	s.metrics.ConnectedSessions.Inc()
}

// OnDisconnect implements transport.Handler. Sessions are intentionally
// preserved (spec.md §4.4, §9's "sessions outliving disconnect").
func (s *Server) OnDisconnect(conn *transport.Connection) {
	s.metrics.ConnectedSessions.Dec()
}

// OnChunkError implements transport.Handler: a framing violation (an
// oversize raw message or a malformed chunk sequence) counts against
// ChunkErrors before the connection is torn down.
func (s *Server) OnChunkError(conn *transport.Connection, err error) {
	s.metrics.ChunkErrors.Inc()
	logging.Warn("chunk framing error", zap.String("clientID", conn.ClientID), zap.Error(err))
}

// OnFrame implements transport.Handler: it decodes the event envelope
// and dispatches to the matching wire-event handler.
func (s *Server) OnFrame(conn *transport.Connection, f chunk.Frame) {
	if !f.IsText {
		logging.Warn("dropping unexpected binary frame at the RPC layer",
			zap.String("clientID", conn.ClientID))
		return
	}

	env, err := wire.DecodeEnvelope([]byte(f.Text))
	if err != nil {
		logging.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case wire.EventRPCCall:
		s.handleCall(conn, env, false)
	case wire.EventStreamCall:
		s.handleCall(conn, env, true)
	case wire.EventRPCResult:
		s.handleResult(conn, env)
	default:
		logging.Warn("dropping frame with unrecognized event", zap.String("event", env.Event))
	}
}

func (s *Server) handleCall(conn *transport.Connection, env wire.Envelope, stream bool) {
	raw, err := wire.DecodePayloadMap(env)
	if err != nil {
		logging.Warn("dropping malformed call payload", zap.Error(err))
		return
	}
	call, err := wire.DecodeCall(raw)
	if err != nil {
		logging.Warn("dropping malformed call payload", zap.Error(err))
		return
	}

	ctx := s.ambientContext(context.Background(), conn.ClientID)

	ep, err := router.Chain(s.allRouters(), call.Name)
	if err != nil {
		s.replyNotFound(call.Name, call.RPCID, conn.ClientID, stream)
		return
	}

	if stream {
		s.dispatchStream(ctx, conn.ClientID, ep, call)
	} else {
		s.dispatchUnary(ctx, conn.ClientID, ep, call)
	}
}

func (s *Server) replyNotFound(name, rpcID, clientID string, stream bool) {
	msg := (&router.NotFoundError{Name: name}).Error()
	if stream {
		s.emitStreamResult(clientID, rpcID, false, nil, false, msg)
	} else {
		s.emitRPCResult(clientID, rpcID, false, nil, msg)
	}
	s.metrics.CallsTotal.WithLabelValues(name, "not_found").Inc()
}

func (s *Server) dispatchUnary(ctx context.Context, clientID string, ep *router.Endpoint, call wire.Call) {
	s.submitWork(func() {
		start := time.Now()
		result, err := s.invokeUnary(ctx, ep, call.Args)
		s.metrics.HandlerLatency.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

		if err != nil {
			s.emitRPCResult(clientID, call.RPCID, false, nil, err.Error())
			s.metrics.CallsTotal.WithLabelValues(call.Name, "error").Inc()
			return
		}
		s.emitRPCResult(clientID, call.RPCID, true, result, "")
		s.metrics.CallsTotal.WithLabelValues(call.Name, "ok").Inc()
	})
}

// invokeUnary is InvokeRPC (spec.md §4.7): lookup has already happened,
// so this just runs the deserialize → handler → serialize chain,
// recovering a handler panic into a HandlerError the same way spec.md §7
// treats any thrown exception.
func (s *Server) invokeUnary(ctx context.Context, ep *router.Endpoint, args []any) (result any, err error) {
	handler, ok := ep.Handler.(UnaryHandler)
	if !ok {
		return nil, &HandlerError{Message: fmt.Sprintf("%s is not a unary endpoint", ep.Name)}
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("handler panicked", zap.String("endpoint", ep.Name), zap.Any("recover", r))
			result, err = nil, &HandlerError{Message: fmt.Sprintf("%v", r)}
		}
	}()

	if ep.TransformArgs {
		args = transform.ApplyAll(args, s.deserializers...)
	}

	result, err = handler(ctx, args)
	if err != nil {
		return nil, &HandlerError{Message: err.Error()}
	}

	if ep.TransformArgs {
		result = transform.ApplyPipeline(result, s.serializers...)
	}
	return result, nil
}

func (s *Server) dispatchStream(ctx context.Context, clientID string, ep *router.Endpoint, call wire.Call) {
	s.submitWork(func() {
		items, errs, err := s.invokeStream(ctx, ep, call.Args)
		if err != nil {
			s.emitStreamResult(clientID, call.RPCID, false, nil, false, err.Error())
			s.metrics.CallsTotal.WithLabelValues(call.Name, "error").Inc()
			return
		}

		for item := range items {
			s.emitStreamResult(clientID, call.RPCID, true, item, false, "")
			s.metrics.StreamFrames.WithLabelValues(call.Name).Inc()
		}

		if streamErr := <-errs; streamErr != nil {
			s.emitStreamResult(clientID, call.RPCID, false, nil, false, streamErr.Error())
			s.metrics.CallsTotal.WithLabelValues(call.Name, "error").Inc()
			return
		}

		s.emitStreamResult(clientID, call.RPCID, true, nil, true, "")
		s.metrics.CallsTotal.WithLabelValues(call.Name, "ok").Inc()
	})
}

// invokeStream is InvokeStream (spec.md §4.7), recovering a handler panic
// into a HandlerError the same way invokeUnary does, so a panicking stream
// setup terminates just this call with a {ok:false,error} frame instead of
// crashing the process.
func (s *Server) invokeStream(ctx context.Context, ep *router.Endpoint, args []any) (items <-chan router.Item, errs <-chan error, err error) {
	fn, ok := ep.Handler.(StreamFunc)
	if !ok {
		return nil, nil, &HandlerError{Message: fmt.Sprintf("%s is not a stream endpoint", ep.Name)}
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("handler panicked", zap.String("endpoint", ep.Name), zap.Any("recover", r))
			items, errs, err = nil, nil, &HandlerError{Message: fmt.Sprintf("%v", r)}
		}
	}()

	if ep.TransformArgs {
		args = transform.ApplyAll(args, s.deserializers...)
	}

	rawItems, rawErrs := fn(ctx, args)
	if !ep.TransformArgs {
		return rawItems, rawErrs, nil
	}

	out := make(chan router.Item)
	go func() {
		defer close(out)
		for item := range rawItems {
			out <- transform.ApplyPipeline(item, s.serializers...)
		}
	}()
	return out, rawErrs, nil
}

func (s *Server) handleResult(conn *transport.Connection, env wire.Envelope) {
	raw, err := wire.DecodePayloadMap(env)
	if err != nil {
		logging.Warn("dropping malformed result payload", zap.Error(err))
		return
	}
	res, err := wire.DecodeResult(raw)
	if err != nil {
		logging.Warn("dropping malformed result payload", zap.Error(err))
		return
	}

	pf, ok := s.futures.pop(res.RPCID)
	if !ok {
		logging.Debug("dropping result for unknown or already-resolved rpcId", zap.String("rpcId", res.RPCID))
		return
	}

	if !res.Ok {
		pf.resultCh <- callResult{err: &HandlerError{Message: res.Error}}
		return
	}

	data := res.Data
	if pf.transformArgs {
		data = transform.ApplyPipeline(data, s.deserializers...)
	}
	pf.resultCh <- callResult{data: data}
}

func (s *Server) emitRPCResult(clientID, rpcID string, ok bool, data any, errMsg string) {
	s.emit(clientID, wire.EventRPCResult, wire.Result{RPCID: rpcID, Ok: ok, Data: data, Error: errMsg})
}

func (s *Server) emitStreamResult(clientID, rpcID string, ok bool, data any, done bool, errMsg string) {
	s.emit(clientID, wire.EventStreamResult, wire.StreamResult{RPCID: rpcID, Ok: ok, Data: data, Done: done, Error: errMsg})
}

func (s *Server) emit(clientID, event string, payload any) {
	data, err := wire.EncodeEnvelope(event, payload)
	if err != nil {
		logging.Error("failed to encode outbound frame", zap.Error(err))
		return
	}
	if err := s.room.Broadcast(clientID, chunk.TextFrame(string(data))); err != nil {
		logging.Warn("failed to broadcast frame to client",
			zap.String("clientID", clientID), zap.Error(err))
	}
}
