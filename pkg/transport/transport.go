// Package transport binds the chunked-frame protocol (pkg/chunk) to real
// WebSocket connections via gorilla/websocket, and keeps the
// clientId → live-connections room registry (spec.md §3, §4.8).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kitware/volview-rpc/pkg/chunk"
	"github.com/kitware/volview-rpc/pkg/logging"
	"go.uber.org/zap"
)

// Handler receives fully reassembled logical frames from a connection and
// the connection's disconnect notification. It owns nothing about the
// wire format beyond chunk.Frame.
type Handler interface {
	OnConnect(conn *Connection)
	OnFrame(conn *Connection, f chunk.Frame)
	OnDisconnect(conn *Connection)

	// OnChunkError reports a fatal per-connection framing violation: a
	// raw message larger than the configured MaxMessageSize, or a
	// chunk.ProtocolError from the reassembler. The connection is closed
	// immediately after this call.
	OnChunkError(conn *Connection, err error)
}

// Connection is one physical WebSocket connection: a generated sessionID
// distinct from the client-supplied clientID (spec.md §3's
// transport-session-id → clientId map), a private Reassembler, and a
// write mutex that serializes all outbound frames.
type Connection struct {
	SessionID string
	ClientID  string

	ws          *websocket.Conn
	reassembler *chunk.Reassembler
	chunkSize   int

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Send writes f to the wire, chunking it first if it exceeds the
// connection's configured chunk size. Safe for concurrent use; writes are
// serialized internally, matching gorilla/websocket's single-writer
// requirement.
func (c *Connection) Send(f chunk.Frame) error {
	frames, err := chunk.Encode([]chunk.Frame{f}, c.chunkSize)
	if err != nil {
		return err
	}
	return c.sendFrames(frames)
}

func (c *Connection) sendFrames(frames []chunk.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, f := range frames {
		var err error
		if f.IsText {
			err = c.ws.WriteMessage(websocket.TextMessage, []byte(f.Text))
		} else {
			err = c.ws.WriteMessage(websocket.BinaryMessage, f.Binary)
		}
		if err != nil {
			return fmt.Errorf("transport: write: %w", err)
		}
	}
	return nil
}

// Close closes the underlying WebSocket connection. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// Done is closed once this connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Room is the clientID → live-connections registry (spec.md §3): a client
// may hold multiple simultaneous connections (reconnecting tabs), and all
// of them receive broadcasts to that clientID.
type Room struct {
	mu      sync.RWMutex
	byClient map[string][]*Connection
}

// NewRoom creates an empty Room.
func NewRoom() *Room {
	return &Room{byClient: make(map[string][]*Connection)}
}

func (r *Room) add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClient[conn.ClientID] = append(r.byClient[conn.ClientID], conn)
}

func (r *Room) remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.byClient[conn.ClientID]
	for i, c := range conns {
		if c == conn {
			r.byClient[conn.ClientID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(r.byClient[conn.ClientID]) == 0 {
		delete(r.byClient, conn.ClientID)
	}
}

// Connections returns the live connections for clientID, if any.
func (r *Room) Connections(clientID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, len(r.byClient[clientID]))
	copy(out, r.byClient[clientID])
	return out
}

// Broadcast sends f to every live connection for clientID.
func (r *Room) Broadcast(clientID string, f chunk.Frame) error {
	var firstErr error
	for _, conn := range r.Connections(clientID) {
		if err := conn.Send(f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AllConnections returns every live connection across all clients, for
// callers that need to fan out over the whole room (teardown).
func (r *Room) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, conns := range r.byClient {
		out = append(out, conns...)
	}
	return out
}

// Count reports the total number of live connections across all clients.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.byClient {
		n += len(conns)
	}
	return n
}

// Server upgrades incoming HTTP requests to WebSocket connections,
// enforces the clientId handshake requirement, and dispatches reassembled
// frames to a Handler.
type Server struct {
	upgrader       websocket.Upgrader
	handler        Handler
	room           *Room
	chunkSize      int
	maxMessageSize int
}

// NewServer creates a transport Server. chunkSize is the outbound chunking
// threshold in bytes (spec.md §6.3); maxMessageSize caps each raw inbound
// WebSocket message (0 means unlimited, spec.md §6.5's MaxMessageSize);
// handler receives connect, frame, disconnect, and chunk-error
// notifications.
func NewServer(handler Handler, room *Room, chunkSize int, maxMessageSize int) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		handler:        handler,
		room:           room,
		chunkSize:      chunkSize,
		maxMessageSize: maxMessageSize,
	}
}

// ErrNoClientID describes a handshake that is missing the clientId query
// parameter. ServeHTTP does not return it; it answers that case with
// HTTP 400 directly.
var ErrNoClientID = errors.New("transport: no clientId provided")

// ServeHTTP implements the WebSocket upgrade handshake (spec.md §6.1):
// missing or empty clientId refuses the upgrade with HTTP 400 and a JSON
// error body, matching the refusal semantics available at Go's transport
// boundary.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "No clientId provided"})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Connection{
		SessionID:   uuid.NewString(),
		ClientID:    clientID,
		ws:          ws,
		reassembler: chunk.NewReassembler(),
		chunkSize:   s.chunkSize,
		closed:      make(chan struct{}),
	}

	s.room.add(conn)
	s.handler.OnConnect(conn)

	s.readLoop(conn)
}

func (s *Server) readLoop(conn *Connection) {
	defer func() {
		s.room.remove(conn)
		_ = conn.Close()
		s.handler.OnDisconnect(conn)
	}()

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		if s.maxMessageSize > 0 && len(data) > s.maxMessageSize {
			err := fmt.Errorf("transport: message of %d bytes exceeds maxMessageSize %d", len(data), s.maxMessageSize)
			logging.Warn("message too large, closing connection",
				zap.String("sessionID", conn.SessionID), zap.Error(err))
			s.handler.OnChunkError(conn, err)
			return
		}

		var f chunk.Frame
		switch msgType {
		case websocket.TextMessage:
			f = chunk.TextFrame(string(data))
		case websocket.BinaryMessage:
			f = chunk.BinaryFrame(data)
		default:
			continue
		}

		reassembled, ok, err := conn.reassembler.Feed(f)
		if err != nil {
			logging.Warn("chunk protocol violation, closing connection",
				zap.String("sessionID", conn.SessionID), zap.Error(err))
			s.handler.OnChunkError(conn, err)
			return
		}
		if !ok {
			continue
		}

		s.handler.OnFrame(conn, reassembled)
	}
}

// Shutdown closes every live connection. ctx is accepted for symmetry
// with net/http.Server.Shutdown but closing a websocket.Conn is
// synchronous, so it is not otherwise consulted.
func (s *Server) Shutdown(ctx context.Context, room *Room) error {
	var firstErr error
	for _, c := range room.AllConnections() {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
