package room

import (
	"time"

	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
	"github.com/rs/zerolog/log"
)

// tick runs the room's centralized timeout checks: heartbeat windows,
// duplicate-identity probes, typing expiry, and the empty-room grace.
// One periodic sweep bounds timer overhead regardless of member count,
// and guarantees a session passes through every lifecycle state in
// order (at most one transition per sweep).
func (r *Room) tick(now time.Time) {
	for _, s := range r.members {
		silence := now.Sub(s.lastBeat)
		switch s.state {
		case core.StateConnecting:
			// The handshake never produced a heartbeat; there is no
			// logical session worth a reconnect grace yet.
			if silence >= r.cfg.ReconnectingAfter {
				r.closeSession(s, "handshake timeout")
			}
		case core.StateConnected:
			if silence >= r.cfg.DegradedAfter {
				r.transition(s, core.StateDegraded, "missed heartbeats")
			}
		case core.StateDegraded:
			if silence >= r.cfg.ReconnectingAfter {
				s.detach(now)
				r.transition(s, core.StateReconnecting, "silence window elapsed")
			}
		case core.StateReconnecting:
			if now.Sub(s.detachedAt) >= r.cfg.ReconnectGrace {
				r.closeSession(s, "reconnect grace expired")
			}
		}
	}

	for id, c := range r.claims {
		if now.Sub(c.at) >= r.cfg.ClaimProbeGrace {
			r.resolveClaim(id, c, now)
		}
	}

	r.expireTyping(now)

	if len(r.members) == 0 && len(r.claims) == 0 && !r.emptySince.IsZero() &&
		now.Sub(r.emptySince) >= r.cfg.RoomIdleGrace {
		log.Info().Str("module", "room").Str("room", string(r.id)).Msg("idle grace elapsed, destroying")
		if r.onIdle != nil {
			r.onIdle(r.id)
		}
	}
}

// expireTyping self-heals the typing indicator: it clears after the
// configured quiet period even if the explicit stopped-typing update
// was lost.
func (r *Room) expireTyping(now time.Time) {
	for id, s := range r.members {
		if s.caps.Typing && now.Sub(s.lastTyping) >= r.cfg.TypingExpiry {
			s.caps.Typing = false
			r.pres.add(id, domain.CapTyping, false, r.cfg.PresenceDebounce)
		}
	}
}
