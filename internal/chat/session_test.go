package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamkit/mixer-go/internal/logger"
	"github.com/beamkit/mixer-go/internal/model"
)

const testTimeout = 2 * time.Second

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.Setup(logger.Config{Level: slog.LevelError + 4, Colored: false})
	require.NoError(t, err)
	return log
}

// newChatServer runs handler against every accepted chat connection and
// returns the ws:// endpoint.
func newChatServer(t *testing.T, handler func(ctx context.Context, c *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"chat", "http-only"},
		})
		if err != nil {
			return
		}
		defer c.CloseNow()
		handler(r.Context(), c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type fakeResolver struct {
	details *model.ChatDetails
	err     error
}

func (f *fakeResolver) ChatDetails(ctx context.Context, channelID int) (*model.ChatDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.details, nil
}

func identity(userID int) Identity {
	return func() (int, bool) { return userID, true }
}

type recorder struct {
	connected    chan struct{}
	disconnected chan error
	packets      chan Packet
}

func newRecorder() *recorder {
	return &recorder{
		connected:    make(chan struct{}, 4),
		disconnected: make(chan error, 4),
		packets:      make(chan Packet, 16),
	}
}

func (r *recorder) ChatConnected()             { r.connected <- struct{}{} }
func (r *recorder) ChatDisconnected(err error) { r.disconnected <- err }
func (r *recorder) ChatPacket(p Packet)        { r.packets <- p }

func (r *recorder) nextPacket(t *testing.T) Packet {
	t.Helper()
	select {
	case p := <-r.packets:
		return p
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

type wireFrame struct {
	Type      string `json:"type"`
	Method    string `json:"method"`
	Arguments []any  `json:"arguments"`
	ID        int    `json:"id"`
}

func readFrame(t *testing.T, frames <-chan []byte) wireFrame {
	t.Helper()
	select {
	case data := <-frames:
		var frame wireFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for frame")
		return wireFrame{}
	}
}

func TestSessionJoinAuthenticated(t *testing.T) {
	frames := make(chan []byte, 16)
	endpoint := newChatServer(t, func(ctx context.Context, c *websocket.Conn) {
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			frames <- data
		}
	})

	resolver := &fakeResolver{details: &model.ChatDetails{
		Endpoints: []string{endpoint},
		AuthKey:   "secret-key",
	}}
	s := NewSession(resolver, identity(42), testLogger(t))
	obs := newRecorder()
	require.NoError(t, s.Join(context.Background(), 3181, obs))

	select {
	case <-obs.connected:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for connect callback")
	}

	// The first packet is the auth call, carrying id 1.
	frame := readFrame(t, frames)
	assert.Equal(t, "method", frame.Type)
	assert.Equal(t, "auth", frame.Method)
	assert.Equal(t, 1, frame.ID)
	assert.Equal(t, []any{float64(3181), float64(42), "secret-key"}, frame.Arguments)

	s.Send(Message("hello"))
	frame = readFrame(t, frames)
	assert.Equal(t, "msg", frame.Method)
	assert.Equal(t, 2, frame.ID)
	assert.Equal(t, []any{"hello"}, frame.Arguments)

	s.Disconnect()
	select {
	case err := <-obs.disconnected:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for disconnect callback")
	}
}

func TestSessionJoinAnonymous(t *testing.T) {
	frames := make(chan []byte, 16)
	endpoint := newChatServer(t, func(ctx context.Context, c *websocket.Conn) {
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			frames <- data
		}
	})

	t.Run("no identity", func(t *testing.T) {
		resolver := &fakeResolver{details: &model.ChatDetails{
			Endpoints: []string{endpoint},
			AuthKey:   "secret-key",
		}}
		s := NewSession(resolver, Anonymous, testLogger(t))
		require.NoError(t, s.Join(context.Background(), 3181, newRecorder()))

		frame := readFrame(t, frames)
		assert.Equal(t, "auth", frame.Method)
		assert.Equal(t, []any{float64(3181)}, frame.Arguments)
		s.Disconnect()
	})

	t.Run("identity without auth key", func(t *testing.T) {
		resolver := &fakeResolver{details: &model.ChatDetails{
			Endpoints: []string{endpoint},
		}}
		s := NewSession(resolver, identity(42), testLogger(t))
		require.NoError(t, s.Join(context.Background(), 3181, newRecorder()))

		frame := readFrame(t, frames)
		assert.Equal(t, []any{float64(3181)}, frame.Arguments)
		s.Disconnect()
	})
}

func TestSessionJoinResolverFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("channel lookup failed")}
	s := NewSession(resolver, Anonymous, testLogger(t))

	err := s.Join(context.Background(), 3181, newRecorder())
	assert.ErrorContains(t, err, "channel lookup failed")
}

func TestSessionJoinNoEndpoints(t *testing.T) {
	resolver := &fakeResolver{details: &model.ChatDetails{AuthKey: "key"}}
	s := NewSession(resolver, Anonymous, testLogger(t))

	err := s.Join(context.Background(), 3181, newRecorder())
	assert.ErrorContains(t, err, "no chat endpoints")
}

func TestSessionInboundPackets(t *testing.T) {
	endpoint := newChatServer(t, func(ctx context.Context, c *websocket.Conn) {
		if _, _, err := c.Read(ctx); err != nil { // auth call
			return
		}
		c.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"reply","error":null,"id":1,"data":{"authenticated":true}}`))
		c.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"event","event":"ChatMessage","data":{"user_name":"someone"}}`))
		c.Read(ctx) // hold the connection open until the client leaves
	})

	resolver := &fakeResolver{details: &model.ChatDetails{
		Endpoints: []string{endpoint},
		AuthKey:   "key",
	}}
	s := NewSession(resolver, identity(42), testLogger(t))
	obs := newRecorder()
	require.NoError(t, s.Join(context.Background(), 3181, obs))

	reply := obs.nextPacket(t)
	require.IsType(t, ReplyPacket{}, reply)
	assert.Equal(t, 1, reply.(ReplyPacket).ID)

	event := obs.nextPacket(t)
	require.IsType(t, EventPacket{}, event)
	assert.Equal(t, "ChatMessage", event.(EventPacket).Event)

	s.Disconnect()
}

func TestSessionServerDisconnect(t *testing.T) {
	endpoint := newChatServer(t, func(ctx context.Context, c *websocket.Conn) {
		if _, _, err := c.Read(ctx); err != nil { // auth call
			return
		}
		c.Close(websocket.StatusGoingAway, "server shutdown")
	})

	resolver := &fakeResolver{details: &model.ChatDetails{Endpoints: []string{endpoint}}}
	s := NewSession(resolver, Anonymous, testLogger(t))
	obs := newRecorder()
	require.NoError(t, s.Join(context.Background(), 3181, obs))

	select {
	case err := <-obs.disconnected:
		assert.Error(t, err)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for disconnect callback")
	}

	// Sends after the connection is gone are dropped without panicking.
	s.Send(Message("into the void"))
}

func TestSessionSendWithoutConnection(t *testing.T) {
	s := NewSession(&fakeResolver{}, Anonymous, testLogger(t))
	s.Send(Message("nobody listening"))
}
