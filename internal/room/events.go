package room

import (
	"github.com/rs/zerolog/log"

	"github.com/avekern/seminar/internal/domain"
)

// AuditSink logs lifecycle events for the surrounding admin/analytics
// layer. A real deployment may swap in a sink that forwards to its
// record store; the engine only promises the callbacks.
type AuditSink struct{}

func (AuditSink) PeerJoined(room domain.RoomID, peer domain.Peer) {
	log.Info().Str("module", "audit").Str("room", string(room)).Str("peer", string(peer.ID)).Str("name", peer.Name).Msg("peer-joined")
}

func (AuditSink) PeerLeft(room domain.RoomID, peer domain.Peer) {
	log.Info().Str("module", "audit").Str("room", string(room)).Str("peer", string(peer.ID)).Str("name", peer.Name).Msg("peer-left")
}

func (AuditSink) RoomDestroyed(room domain.RoomID) {
	log.Info().Str("module", "audit").Str("room", string(room)).Msg("room-destroyed")
}
