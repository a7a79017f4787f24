package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitware/volview-rpc/pkg/chunk"
)

type recordingHandler struct {
	mu          sync.Mutex
	connected   []*Connection
	frames      []chunk.Frame
	gotFrame    chan struct{}
	chunkErrs   []error
	gotChunkErr chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{gotFrame: make(chan struct{}, 16), gotChunkErr: make(chan struct{}, 16)}
}

func (h *recordingHandler) OnConnect(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, conn)
}

func (h *recordingHandler) OnFrame(conn *Connection, f chunk.Frame) {
	h.mu.Lock()
	h.frames = append(h.frames, f)
	h.mu.Unlock()
	h.gotFrame <- struct{}{}
}

func (h *recordingHandler) OnDisconnect(conn *Connection) {}

func (h *recordingHandler) OnChunkError(conn *Connection, err error) {
	h.mu.Lock()
	h.chunkErrs = append(h.chunkErrs, err)
	h.mu.Unlock()
	h.gotChunkErr <- struct{}{}
}

func TestHandshakeRejectsMissingClientID(t *testing.T) {
	handler := newRecordingHandler()
	room := NewRoom()
	srv := NewServer(handler, room, 1<<20, 0)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func wsURL(ts *httptest.Server, clientID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "?clientId=" + clientID
}

func TestHandshakeAcceptsWithClientID(t *testing.T) {
	handler := newRecordingHandler()
	room := NewRoom()
	srv := NewServer(handler, room, 1<<20, 0)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "alice"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.connected) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "alice", handler.connected[0].ClientID)
	assert.Equal(t, 1, room.Count())
}

func TestFrameRoundTripTextMessage(t *testing.T) {
	handler := newRecordingHandler()
	room := NewRoom()
	srv := NewServer(handler, room, 1<<20, 0)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "bob"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))

	select {
	case <-handler.gotFrame:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.frames, 1)
	assert.True(t, handler.frames[0].IsText)
	assert.Equal(t, `{"hello":"world"}`, handler.frames[0].Text)
}

func TestFrameRoundTripChunkedOversizeBinary(t *testing.T) {
	handler := newRecordingHandler()
	room := NewRoom()
	srv := NewServer(handler, room, 4, 0)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "carol"), nil)
	require.NoError(t, err)
	defer ws.Close()

	data := []byte("0123456789")
	frames, err := chunk.Encode([]chunk.Frame{chunk.BinaryFrame(data)}, 4)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	for _, f := range frames {
		if f.IsText {
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(f.Text)))
		} else {
			require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, f.Binary))
		}
	}

	select {
	case <-handler.gotFrame:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reassembled frame")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.frames, 1)
	assert.False(t, handler.frames[0].IsText)
	assert.Equal(t, data, handler.frames[0].Binary)
}

func TestOversizeMessageReportsChunkErrorAndCloses(t *testing.T) {
	handler := newRecordingHandler()
	room := NewRoom()
	srv := NewServer(handler, room, 1<<20, 8)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "frank"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("this message is far larger than 8 bytes")))

	select {
	case <-handler.gotChunkErr:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk error")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	require.Len(t, handler.chunkErrs, 1)

	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "connection should be closed after an oversize message")
}

func TestBroadcastReachesAllConnectionsForClient(t *testing.T) {
	handler := newRecordingHandler()
	room := NewRoom()
	srv := NewServer(handler, room, 1<<20, 0)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	ws1, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "dave"), nil)
	require.NoError(t, err)
	defer ws1.Close()
	ws2, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "dave"), nil)
	require.NoError(t, err)
	defer ws2.Close()

	require.Eventually(t, func() bool { return room.Count() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, room.Broadcast("dave", chunk.TextFrame("ping")))

	_, msg1, err := ws1.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg1))

	_, msg2, err := ws2.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg2))
}

func TestShutdownClosesAllConnections(t *testing.T) {
	handler := newRecordingHandler()
	room := NewRoom()
	srv := NewServer(handler, room, 1<<20, 0)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "erin"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool { return room.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background(), room))

	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}
