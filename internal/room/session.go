package room

import (
	"time"

	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
)

// session is a peer's live membership record. Owned exclusively by the
// room actor that created it; nothing outside the actor goroutine may
// touch its fields.
type session struct {
	peer  domain.Peer
	caps  domain.Capabilities
	state core.SessionState

	conn core.Conn
	sub  *Subscription

	joinedAt time.Time
	lastBeat time.Time

	detachedAt time.Time // reconnect grace anchor

	lastEnqueued uint64 // seq of the newest chat frame pushed to sub
	lastTyping   time.Time
}

// attach binds a live transport and fresh queues to the session.
func (s *session) attach(conn core.Conn, sub *Subscription, now time.Time) {
	s.conn = conn
	s.sub = sub
	s.lastBeat = now
	s.detachedAt = time.Time{}
}

// detach tears the transport down but keeps the record for the
// reconnect grace window. No delivery accounting happens here: frames
// may have left the queue and died in the transport's write buffer, so
// the replay point comes from the client's reported lastSeq on resume.
func (s *session) detach(now time.Time) {
	if s.sub != nil {
		s.sub.close()
		s.sub = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.detachedAt = now
}

func (s *session) dto() core.MemberDTO {
	return core.MemberDTO{
		Peer:         s.peer,
		State:        s.state.String(),
		Capabilities: s.caps,
		JoinedAt:     s.joinedAt,
	}
}
