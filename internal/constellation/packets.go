// Package constellation implements the client for Mixer's constellation
// liveloading service: a WebSocket protocol of JSON packets with a type
// discriminator, used to subscribe to server-pushed events.
package constellation

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators and well-known event/method names.
const (
	typeMethod = "method"
	typeReply  = "reply"
	typeEvent  = "event"

	eventHello = "hello"
	eventLive  = "live"

	methodLiveSubscribe   = "livesubscribe"
	methodLiveUnsubscribe = "liveunsubscribe"
)

// Event is an opaque subscribable topic identifier. Equality is by this
// canonical string form.
type Event string

// ChannelUpdate is the event fired when a channel's attributes change.
func ChannelUpdate(channelID int) Event {
	return Event(fmt.Sprintf("channel:%d:update", channelID))
}

// ChannelStatus is the event fired when a channel's viewer/follower counts change.
func ChannelStatus(channelID int) Event {
	return Event(fmt.Sprintf("channel:%d:status", channelID))
}

// Packet is an inbound constellation packet.
type Packet interface {
	packet()
}

// HelloPacket is the server's handshake, sent once after connecting.
type HelloPacket struct {
	// Authenticated reports whether the server recognized the connection's
	// credentials.
	Authenticated bool
}

// ReplyPacket is the server's response to a method packet, correlated by the
// echoed sequence number.
type ReplyPacket struct {
	ID     int
	Result json.RawMessage
	Error  json.RawMessage
}

// LiveEventPacket is a pushed notification for a subscribed event.
type LiveEventPacket struct {
	Channel string
	Payload json.RawMessage
}

func (HelloPacket) packet()     {}
func (ReplyPacket) packet()     {}
func (LiveEventPacket) packet() {}

// Sendable is an outbound constellation packet.
type Sendable interface {
	method() string
	params() any
}

// SubscribePacket subscribes to a batch of events.
type SubscribePacket struct {
	Events []Event
}

func (SubscribePacket) method() string { return methodLiveSubscribe }
func (p SubscribePacket) params() any  { return eventParams{Events: eventStrings(p.Events)} }

// UnsubscribePacket unsubscribes from a batch of events.
type UnsubscribePacket struct {
	Events []Event
}

func (UnsubscribePacket) method() string { return methodLiveUnsubscribe }
func (p UnsubscribePacket) params() any  { return eventParams{Events: eventStrings(p.Events)} }

// MethodPacket is a generic constellation method call.
type MethodPacket struct {
	Method string
	Params map[string]any
}

func (p MethodPacket) method() string { return p.Method }
func (p MethodPacket) params() any    { return p.Params }

type eventParams struct {
	Events []string `json:"events"`
}

func eventStrings(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

type methodFrame struct {
	Type   string `json:"type"`
	Method string `json:"method"`
	Params any    `json:"params"`
	ID     int    `json:"id"`
}

type inboundFrame struct {
	Type   string          `json:"type"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	ID     *int            `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

type helloData struct {
	Authenticated bool `json:"authenticated"`
}

type liveData struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes an outbound packet to a wire frame with the assigned
// sequence number.
func Encode(p Sendable, id int) ([]byte, error) {
	frame := methodFrame{
		Type:   typeMethod,
		Method: p.method(),
		Params: p.params(),
		ID:     id,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding %s packet: %w", p.method(), err)
	}
	return data, nil
}

// Decode parses an inbound wire frame into a typed packet. Unknown or
// malformed frames decode to nil and are dropped; the protocol is
// best-effort and tolerates forward-incompatible server additions.
func Decode(data []byte) Packet {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil
	}

	switch frame.Type {
	case typeReply:
		if frame.ID == nil {
			return nil
		}
		return ReplyPacket{
			ID:     *frame.ID,
			Result: nullToNil(frame.Result),
			Error:  nullToNil(frame.Error),
		}

	case typeEvent:
		switch frame.Event {
		case eventHello:
			var hello helloData
			if err := json.Unmarshal(frame.Data, &hello); err != nil {
				return nil
			}
			return HelloPacket{Authenticated: hello.Authenticated}
		case eventLive:
			var live liveData
			if err := json.Unmarshal(frame.Data, &live); err != nil {
				return nil
			}
			return LiveEventPacket{Channel: live.Channel, Payload: live.Payload}
		}
	}
	return nil
}

// nullToNil folds a JSON null into a nil RawMessage so callers can test
// reply results and errors with a plain nil check.
func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
