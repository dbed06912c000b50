package constellation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/beamkit/mixer-go/internal/logger"
	"github.com/beamkit/mixer-go/internal/rest"
)

// Endpoint is the fixed constellation WebSocket endpoint.
const Endpoint = "wss://constellation.mixer.com"

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// Observer receives connection lifecycle callbacks and every decoded inbound
// packet, strictly in arrival order. One observer is registered per session
// at connect time.
type Observer interface {
	ConstellationConnected()
	// ConstellationDisconnected is called with the transport error, or nil
	// for an intentional disconnect. The session never reconnects by
	// itself.
	ConstellationDisconnected(err error)
	ConstellationPacket(p Packet)
}

// Session owns one WebSocket connection to constellation: it runs the
// connect sequence, assigns outbound sequence numbers, tracks the set of
// subscribed events, and dispatches inbound packets to its observer.
//
// The subscription set is updated optimistically before the server
// acknowledges; subscribe and unsubscribe are idempotent at the server. It
// is NOT replayed on reconnect — callers track and resubscribe themselves.
type Session struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	events   []Event
	seq      int
	closing  bool
	observer Observer

	endpoint string
	log      *logger.Logger
}

// NewSession creates a disconnected session against the default endpoint.
func NewSession(log *logger.Logger) *Session {
	return &Session{
		endpoint: Endpoint,
		log:      log,
	}
}

// SetEndpoint overrides the constellation endpoint. Must be called before
// Connect.
func (s *Session) SetEndpoint(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = url
}

// Connect dials constellation with a capped timeout and registers the
// observer. The server's hello packet arrives through the observer; the
// session does not wait for it before accepting subscribe calls.
func (s *Session) Connect(ctx context.Context, obs Observer) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	s.mu.Lock()
	endpoint := s.endpoint
	s.mu.Unlock()

	conn, _, err := websocket.Dial(dialCtx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"User-Agent":         {rest.UserAgent()},
			"X-Protocol-Version": {"2"},
		},
	})
	if err != nil {
		return fmt.Errorf("dialing constellation: %w", err)
	}
	conn.SetReadLimit(128 << 10) // 128 KB

	s.mu.Lock()
	s.conn = conn
	s.observer = obs
	s.closing = false
	s.seq = 0
	s.mu.Unlock()

	s.log.Debug("Connected to constellation", "endpoint", endpoint)
	obs.ConstellationConnected()

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

// Send assigns the next sequence number, encodes the packet, and writes it
// to the socket. If the socket is absent the send is silently dropped;
// callers may legitimately race a disconnect.
func (s *Session) Send(p Sendable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send(p)
}

// Subscribe adds events to the local subscription set and sends one
// subscribe packet for the full batch.
func (s *Session) Subscribe(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if !s.hasEvent(e) {
			s.events = append(s.events, e)
		}
	}
	s.send(SubscribePacket{Events: events})
}

// Unsubscribe removes matching events from the local set by canonical string
// equality and sends one unsubscribe packet for the batch.
func (s *Session) Unsubscribe(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.removeEvent(e)
	}
	s.send(UnsubscribePacket{Events: events})
}

// UnsubscribeAll sends a single unsubscribe packet for the current full set,
// then clears it.
func (s *Session) UnsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make([]Event, len(s.events))
	copy(current, s.events)
	s.send(UnsubscribePacket{Events: current})
	s.events = nil
}

// Subscriptions returns a copy of the currently subscribed events.
func (s *Session) Subscriptions() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// send encodes and writes one packet. Callers must hold mu; holding it for
// the write serializes the write path per socket.
func (s *Session) send(p Sendable) {
	if s.conn == nil {
		return
	}

	id := s.seq
	s.seq++

	data, err := Encode(p, id)
	if err != nil {
		s.log.Error("Failed to encode constellation packet", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Error("Constellation write failed", "error", err)
	}
}

// readLoop delivers every decoded inbound packet to the observer in arrival
// order. It exits on the first read error, reporting the disconnect.
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
				obs.ConstellationDisconnected(nil)
			} else {
				s.log.Warn("Constellation connection lost", "error", err)
				obs.ConstellationDisconnected(err)
			}
			return
		}

		if pkt := Decode(data); pkt != nil {
			obs.ConstellationPacket(pkt)
		}
	}
}

// hasEvent and removeEvent compare by canonical string form. Callers must
// hold mu.
func (s *Session) hasEvent(e Event) bool {
	for _, cur := range s.events {
		if cur == e {
			return true
		}
	}
	return false
}

func (s *Session) removeEvent(e Event) {
	for i, cur := range s.events {
		if cur == e {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return
		}
	}
}
