package core

import (
	"time"

	"github.com/avekern/seminar/internal/domain"
)

// Frame is an encoded envelope ready for the wire.
type Frame []byte

// Conn abstracts a peer's signaling transport. Owned by the adapter;
// the adapter must Close() it. TrySend never blocks.
type Conn interface {
	TrySend(Frame) error
	Close()
}

// Channel separates the lossless chat stream from best-effort
// activity/metric updates.
type Channel string

const (
	ChannelChat     Channel = "chat"
	ChannelActivity Channel = "activity"
)

// Event is a chat message or activity record retained in a room's
// replay buffer. Seq is monotonic per room for the chat channel.
type Event struct {
	ID      string        `json:"id"`
	Seq     uint64        `json:"seq,omitempty"`
	Room    domain.RoomID `json:"room"`
	Author  domain.PeerID `json:"author"`
	Channel Channel       `json:"channel"`
	Payload []byte        `json:"payload"`
	At      time.Time     `json:"at"`
}

// MemberDTO is a read-only member view for APIs (no transport fields).
type MemberDTO struct {
	Peer         domain.Peer         `json:"peer"`
	State        string              `json:"state"`
	Capabilities domain.Capabilities `json:"capabilities"`
	JoinedAt     time.Time           `json:"joined_at"`
}

// RoomSnapshot is handed to late-joining UIs: current members plus the
// last few activity events.
type RoomSnapshot struct {
	Room     domain.RoomID `json:"room"`
	Members  []MemberDTO   `json:"members"`
	Activity []Event       `json:"activity"`
	LastSeq  uint64        `json:"last_seq"`
}

// EventSink receives room lifecycle events. The surrounding
// admin/analytics layer subscribes here for audit logging.
type EventSink interface {
	PeerJoined(room domain.RoomID, peer domain.Peer)
	PeerLeft(room domain.RoomID, peer domain.Peer)
	RoomDestroyed(room domain.RoomID)
}

// NopSink is the default when no audit layer is attached.
type NopSink struct{}

func (NopSink) PeerJoined(domain.RoomID, domain.Peer) {}
func (NopSink) PeerLeft(domain.RoomID, domain.Peer)   {}
func (NopSink) RoomDestroyed(domain.RoomID)           {}
