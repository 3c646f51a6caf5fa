package room

import (
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
)

// presenceBuffer coalesces rapid capability toggles into one delta per
// peer per debounce window. Last write wins per field, so a flood of
// typing chatter collapses into whatever the flags were when the
// window fires. Owned by the room actor.
type presenceBuffer struct {
	pending map[domain.PeerID]map[domain.Capability]bool
	timer   *clock.Timer
	armed   bool
}

func newPresenceBuffer(clk clock.Clock) *presenceBuffer {
	t := clk.Timer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &presenceBuffer{
		pending: make(map[domain.PeerID]map[domain.Capability]bool),
		timer:   t,
	}
}

func (p *presenceBuffer) add(id domain.PeerID, field domain.Capability, value bool, debounce time.Duration) {
	m, ok := p.pending[id]
	if !ok {
		m = make(map[domain.Capability]bool)
		p.pending[id] = m
	}
	m[field] = value
	if !p.armed {
		p.timer.Reset(debounce)
		p.armed = true
	}
}

// flushPresence broadcasts every coalesced delta to the peer's
// roommates and disarms the window.
func (r *Room) flushPresence() {
	r.pres.armed = false
	if len(r.pres.pending) == 0 {
		return
	}
	now := r.clk.Now()
	for id, changed := range r.pres.pending {
		s, ok := r.members[id]
		if !ok {
			continue
		}
		payload, err := json.Marshal(struct {
			Changed      map[domain.Capability]bool `json:"changed"`
			Capabilities domain.Capabilities        `json:"capabilities"`
			At           time.Time                  `json:"at"`
		}{changed, s.caps, now})
		if err != nil {
			continue
		}
		env := &core.Envelope{Type: core.KindPresence, Room: r.id, From: id, Payload: payload}
		f, err := env.Encode()
		if err != nil {
			continue
		}
		for mid, m := range r.members {
			if mid == id || m.conn == nil {
				continue
			}
			_ = m.conn.TrySend(f)
		}
	}
	r.pres.pending = make(map[domain.PeerID]map[domain.Capability]bool)
}
