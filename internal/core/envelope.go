package core

import (
	"encoding/json"
	"fmt"

	"github.com/avekern/seminar/internal/domain"
)

// Kind tags a wire envelope. Client-originated kinds are join, leave,
// signal, presence, chat and heartbeat; the rest are server-emitted.
type Kind string

const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindSignal    Kind = "signal"
	KindPresence  Kind = "presence"
	KindChat      Kind = "chat"
	KindHeartbeat Kind = "heartbeat"
	KindAck       Kind = "ack"
	KindError     Kind = "error"
	KindRoomState Kind = "room_state"
	KindActivity  Kind = "activity"
)

// SignalKind classifies a relayed connection-setup message. The engine
// validates the kind but never parses the payload it carries.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalBye       SignalKind = "bye"
)

// Envelope is the typed wire unit exchanged over a client transport.
type Envelope struct {
	Type    Kind            `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	From    domain.PeerID   `json:"from,omitempty"`
	To      domain.PeerID   `json:"to,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SignalPayload is the one level of structure the engine reads out of a
// signal envelope. Data stays opaque.
type SignalPayload struct {
	Kind SignalKind      `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinPayload carries what a client declares on join. LastSeq is the
// highest chat seq the client has observed; a reconnecting client sets
// it so the room replays everything after it.
type JoinPayload struct {
	Name         string              `json:"name,omitempty"`
	Color        string              `json:"color,omitempty"`
	Avatar       string              `json:"avatar,omitempty"`
	Capabilities domain.Capabilities `json:"capabilities"`
	LastSeq      uint64              `json:"last_seq,omitempty"`
}

// PresencePayload is a single capability toggle.
type PresencePayload struct {
	Field domain.Capability `json:"field"`
	Value bool              `json:"value"`
}

var clientKinds = map[Kind]bool{
	KindJoin:      true,
	KindLeave:     true,
	KindSignal:    true,
	KindPresence:  true,
	KindChat:      true,
	KindHeartbeat: true,
}

var signalKinds = map[SignalKind]bool{
	SignalOffer:     true,
	SignalAnswer:    true,
	SignalCandidate: true,
	SignalBye:       true,
}

// DecodeEnvelope parses and validates a client frame. Any failure maps
// to ErrMalformedEnvelope so the transport can apply its abuse guard
// uniformly.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !clientKinds[env.Type] {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
	if env.Type == KindSignal {
		if env.To == "" {
			return nil, fmt.Errorf("%w: signal without target", ErrMalformedEnvelope)
		}
		var sp SignalPayload
		if err := json.Unmarshal(env.Payload, &sp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if !signalKinds[sp.Kind] {
			return nil, fmt.Errorf("%w: unknown signal kind %q", ErrMalformedEnvelope, sp.Kind)
		}
	}
	if len(env.Room) > domain.MaxRoomIDLen {
		return nil, fmt.Errorf("%w: room id too long", ErrMalformedEnvelope)
	}
	return &env, nil
}

// Encode marshals an envelope into a transport frame.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorEnvelope builds the non-fatal error frame surfaced to a client.
func ErrorEnvelope(room domain.RoomID, reason string) *Envelope {
	p, _ := json.Marshal(map[string]string{"error": reason})
	return &Envelope{Type: KindError, Room: room, Payload: p}
}
