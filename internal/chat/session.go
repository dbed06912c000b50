package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/beamkit/mixer-go/internal/logger"
	"github.com/beamkit/mixer-go/internal/model"
)

const writeTimeout = 10 * time.Second

// Resolver looks up the chat connection endpoints and auth key for a
// channel. The API chat service satisfies this interface.
type Resolver interface {
	ChatDetails(ctx context.Context, channelID int) (*model.ChatDetails, error)
}

// Identity reports the end-user id when an authenticated session exists.
// It returns ok=false for anonymous use.
type Identity func() (userID int, ok bool)

// Anonymous is the Identity for connections with no end-user session.
func Anonymous() (int, bool) { return 0, false }

// Observer receives connection lifecycle callbacks and every decoded inbound
// packet, strictly in arrival order.
type Observer interface {
	ChatConnected()
	// ChatDisconnected is called with the transport error, or nil for an
	// intentional disconnect. The session never reconnects by itself.
	ChatDisconnected(err error)
	ChatPacket(p Packet)
}

// Session owns one WebSocket connection to a channel's chat server. Several
// sessions can be open at once against different channels.
type Session struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	seq     int
	closing bool

	resolver Resolver
	identity Identity
	log      *logger.Logger
}

// NewSession creates a disconnected chat session. identity may be
// Anonymous.
func NewSession(resolver Resolver, identity Identity, log *logger.Logger) *Session {
	if identity == nil {
		identity = Anonymous
	}
	return &Session{
		resolver: resolver,
		identity: identity,
		log:      log,
	}
}

// Join resolves the channel's chat endpoints and auth key, connects to the
// first endpoint, and sends the authenticate packet. Authentication is
// fire-and-forget: the observer is signalled connected without waiting for
// the server's reply.
func (s *Session) Join(ctx context.Context, channelID int, obs Observer) error {
	details, err := s.resolver.ChatDetails(ctx, channelID)
	if err != nil {
		return fmt.Errorf("resolving chat details for channel %d: %w", channelID, err)
	}
	if len(details.Endpoints) == 0 {
		return fmt.Errorf("channel %d returned no chat endpoints", channelID)
	}

	conn, _, err := websocket.Dial(ctx, details.Endpoints[0], &websocket.DialOptions{
		Subprotocols: []string{"chat", "http-only"},
	})
	if err != nil {
		return fmt.Errorf("dialing chat server: %w", err)
	}
	conn.SetReadLimit(128 << 10) // 128 KB

	s.mu.Lock()
	s.conn = conn
	s.closing = false
	s.seq = 0
	s.mu.Unlock()

	s.log.Debug("Connected to chat", "channel", channelID, "endpoint", details.Endpoints[0])

	if userID, ok := s.identity(); ok && details.AuthKey != "" {
		s.Send(AuthenticatePacket{ChannelID: channelID, UserID: userID, AuthKey: details.AuthKey})
	} else {
		s.Send(AuthenticatePacket{ChannelID: channelID})
	}

	obs.ChatConnected()
	go s.readLoop(conn, obs)
	return nil
}

// Disconnect closes the connection. The observer receives a disconnect
// callback with a nil error.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	if conn != nil {
		s.closing = true
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// Send assigns the next sequence number, encodes the packet, and writes it.
// The counter starts at 0 and is incremented before first use, so the first
// packet carries id 1. If the socket is absent the send is silently dropped.
func (s *Session) Send(p Sendable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if s.conn == nil {
		return
	}

	data, err := Encode(p, s.seq)
	if err != nil {
		s.log.Error("Failed to encode chat packet", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Error("Chat write failed", "error", err)
	}
}

func (s *Session) readLoop(conn *websocket.Conn, obs Observer) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			s.mu.Lock()
			intentional := s.closing
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()

			if intentional {
				obs.ChatDisconnected(nil)
			} else {
				s.log.Warn("Chat connection lost", "error", err)
				obs.ChatDisconnected(err)
			}
			return
		}

		if pkt := Decode(data); pkt != nil {
			obs.ChatPacket(pkt)
		}
	}
}
