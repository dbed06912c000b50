// Package chat implements the client for Mixer's per-channel chat servers:
// a WebSocket protocol of JSON packets with a type discriminator and a
// client-assigned sequence number echoed in replies.
package chat

import (
	"encoding/json"
	"fmt"
)

const (
	typeMethod = "method"
	typeReply  = "reply"
	typeEvent  = "event"

	methodAuth = "auth"
	methodMsg  = "msg"
)

// Packet is an inbound chat packet.
type Packet interface {
	packet()
}

// ReplyPacket is the server's response to a method packet, correlated by the
// echoed sequence number.
type ReplyPacket struct {
	ID    int
	Data  json.RawMessage
	Error json.RawMessage
}

// EventPacket is a server-pushed chat event, e.g. "ChatMessage" or
// "UserJoin".
type EventPacket struct {
	Event string
	Data  json.RawMessage
}

func (ReplyPacket) packet() {}
func (EventPacket) packet() {}

// Sendable is an outbound chat packet.
type Sendable interface {
	method() string
	arguments() []any
}

// AuthenticatePacket authenticates the connection against a channel. With an
// empty AuthKey it joins anonymously.
type AuthenticatePacket struct {
	ChannelID int
	UserID    int
	AuthKey   string
}

func (AuthenticatePacket) method() string { return methodAuth }

func (p AuthenticatePacket) arguments() []any {
	if p.AuthKey == "" {
		return []any{p.ChannelID}
	}
	return []any{p.ChannelID, p.UserID, p.AuthKey}
}

// MethodPacket is a generic chat method call with positional arguments.
type MethodPacket struct {
	Method string
	Args   []any
}

func (p MethodPacket) method() string   { return p.Method }
func (p MethodPacket) arguments() []any { return p.Args }

// Message builds the method packet that sends a chat message.
func Message(text string) MethodPacket {
	return MethodPacket{Method: methodMsg, Args: []any{text}}
}

type methodFrame struct {
	Type      string `json:"type"`
	Method    string `json:"method"`
	Arguments []any  `json:"arguments"`
	ID        int    `json:"id"`
}

type inboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    *int            `json:"id,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

// Encode serializes an outbound packet to a wire frame with the assigned
// sequence number.
func Encode(p Sendable, id int) ([]byte, error) {
	frame := methodFrame{
		Type:      typeMethod,
		Method:    p.method(),
		Arguments: p.arguments(),
		ID:        id,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding %s packet: %w", p.method(), err)
	}
	return data, nil
}

// Decode parses an inbound wire frame into a typed packet. Unknown or
// malformed frames decode to nil and are dropped.
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
			ID:    *frame.ID,
			Data:  nullToNil(frame.Data),
			Error: nullToNil(frame.Error),
		}

	case typeEvent:
		if frame.Event == "" {
			return nil
		}
		return EventPacket{Event: frame.Event, Data: frame.Data}
	}
	return nil
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
