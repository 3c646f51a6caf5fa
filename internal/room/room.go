// Package room implements the session-coordination core: one actor
// goroutine per room owns all membership, presence, and chat state, and
// every cross-peer mutation funnels through its inbox. No locks guard
// room state; the actor is the synchronization point.
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avekern/seminar/internal/config"
	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
	"github.com/avekern/seminar/internal/metrics"
)

// Deps are the room's external collaborators, injected by the registry.
type Deps struct {
	Clock  clock.Clock
	Sink   core.EventSink
	OnIdle func(domain.RoomID)
}

// Room is the actor owning one shared session. Public methods enqueue
// operations into the actor's inbox; none of them touch state directly.
type Room struct {
	id   domain.RoomID
	cfg  config.Engine
	clk  clock.Clock
	sink core.EventSink

	onIdle func(domain.RoomID)

	ops      chan func()
	done     chan struct{}
	stopOnce sync.Once

	// Actor-owned state below. Only the run goroutine reads or writes.
	members    map[domain.PeerID]*session
	order      []domain.PeerID
	claims     map[domain.PeerID]*claim
	seq        uint64
	hist       *history
	pres       *presenceBuffer
	createdAt  time.Time
	lastActive time.Time
	emptySince time.Time
}

// claim is a parked duplicate-identity join waiting out the probe
// grace that confirms the original transport is dead.
type claim struct {
	peer     domain.Peer
	caps     domain.Capabilities
	conn     core.Conn
	lastSeq  uint64
	at       time.Time
	beatAt   time.Time // incumbent's lastBeat when the claim was parked
	decision chan JoinResult
}

// JoinResult is what a transport adapter needs to finish wiring a
// member: its queues, any frames to replay ahead of them, and the room
// snapshot for the client. Pending results resolve on Decision after
// the duplicate-identity probe.
type JoinResult struct {
	Resumed  bool
	Pending  bool
	Decision <-chan JoinResult
	Sub      *Subscription
	Replay   []core.Frame
	Snapshot core.RoomSnapshot
	Err      error
}

func New(id domain.RoomID, cfg config.Engine, deps Deps) *Room {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Sink == nil {
		deps.Sink = core.NopSink{}
	}
	now := deps.Clock.Now()
	r := &Room{
		id:         id,
		cfg:        cfg,
		clk:        deps.Clock,
		sink:       deps.Sink,
		onIdle:     deps.OnIdle,
		ops:        make(chan func(), 64),
		done:       make(chan struct{}),
		members:    make(map[domain.PeerID]*session),
		claims:     make(map[domain.PeerID]*claim),
		hist:       newHistory(cfg.HistorySize),
		createdAt:  now,
		lastActive: now,
		emptySince: now,
	}
	r.pres = newPresenceBuffer(r.clk)
	go r.run()
	return r
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) run() {
	ticker := r.clk.Ticker(r.cfg.Tick)
	defer ticker.Stop()
	for {
		// done takes priority over buffered ops, so nothing executes
		// against a room the registry already dropped.
		select {
		case <-r.done:
			return
		default:
		}
		select {
		case op := <-r.ops:
			op()
		case now := <-ticker.C:
			r.tick(now)
		case <-r.pres.timer.C:
			r.flushPresence()
		case <-r.done:
			return
		}
	}
}

// stop halts the actor. Queued operations that never ran fail with
// ErrUnknownRoom, which callers treat as "room is gone, start over".
func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Room) do(op func()) error {
	select {
	case <-r.done:
		return core.ErrUnknownRoom
	default:
	}
	select {
	case r.ops <- op:
		return nil
	case <-r.done:
		return core.ErrUnknownRoom
	}
}

func (r *Room) doSync(op func()) error {
	ran := make(chan struct{})
	if err := r.do(func() { op(); close(ran) }); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-r.done:
		return core.ErrUnknownRoom
	}
}

// Join registers an identity, resumes its reconnecting session, or
// parks a duplicate claim. lastSeq is the highest chat seq the client
// reports having observed; a resume replays everything after it. The
// transport adapter owns conn until the result (or pending decision)
// hands back queues to pump.
func (r *Room) Join(p domain.Peer, caps domain.Capabilities, conn core.Conn, lastSeq uint64) (JoinResult, error) {
	var res JoinResult
	err := r.doSync(func() { res = r.join(p, caps, conn, lastSeq) })
	return res, err
}

func (r *Room) join(p domain.Peer, caps domain.Capabilities, conn core.Conn, lastSeq uint64) JoinResult {
	now := r.clk.Now()
	r.lastActive = now

	if s, ok := r.members[p.ID]; ok {
		if s.state == core.StateReconnecting {
			return r.resume(s, p, caps, conn, now, lastSeq)
		}
		// Identity already holds a live session. Park the claim; the
		// tick resolves it once the probe grace confirms whether the
		// incumbent transport is actually dead.
		if prev, ok := r.claims[p.ID]; ok {
			prev.decision <- JoinResult{Err: core.ErrDuplicateIdentity}
		}
		c := &claim{
			peer:     p,
			caps:     caps,
			conn:     conn,
			lastSeq:  lastSeq,
			at:       now,
			beatAt:   s.lastBeat,
			decision: make(chan JoinResult, 1),
		}
		r.claims[p.ID] = c
		log.Info().Str("module", "room").Str("room", string(r.id)).Str("peer", string(p.ID)).Msg("duplicate identity, probing incumbent")
		return JoinResult{Pending: true, Decision: c.decision}
	}

	s := &session{
		peer:     p,
		caps:     caps,
		state:    core.StateConnecting,
		joinedAt: now,
	}
	s.attach(conn, newSubscription(r.cfg.ChatQueue, r.cfg.ActivityQueue), now)
	s.lastEnqueued = r.seq
	r.members[p.ID] = s
	r.order = append(r.order, p.ID)
	r.emptySince = time.Time{}
	metrics.PeersConnected.Inc()

	r.broadcastPresenceEvent("join", s, p.ID)
	r.sink.PeerJoined(r.id, p)
	log.Info().Str("module", "room").Str("room", string(r.id)).Str("peer", string(p.ID)).Msg("member joined")

	return JoinResult{Sub: s.sub, Snapshot: r.snapshot(defaultActivityK)}
}

// resume reattaches a transport to a retained session. No join event is
// broadcast; to the rest of the room the peer never left. Replay starts
// after the client's reported lastSeq: frames buffered on the old
// transport but never read by the client count as undelivered, and only
// the client knows where delivery actually stopped. The cap at
// lastEnqueued keeps a confused client from skipping messages published
// while it was detached.
func (r *Room) resume(s *session, p domain.Peer, caps domain.Capabilities, conn core.Conn, now time.Time, lastSeq uint64) JoinResult {
	after := lastSeq
	if after > s.lastEnqueued {
		after = s.lastEnqueued
	}
	sub := newSubscription(r.cfg.ChatQueue, r.cfg.ActivityQueue)
	replay := r.replayFrames(after)
	s.peer = p
	s.caps = caps
	s.attach(conn, sub, now)
	s.lastEnqueued = r.seq
	r.transition(s, core.StateConnected, "reconnected within grace")

	return JoinResult{
		Resumed:  true,
		Sub:      sub,
		Replay:   replay,
		Snapshot: r.snapshot(defaultActivityK),
	}
}

func (r *Room) replayFrames(after uint64) []core.Frame {
	events := r.hist.ChatSince(after)
	frames := make([]core.Frame, 0, len(events))
	for _, ev := range events {
		f, err := r.chatFrame(ev)
		if err != nil {
			continue
		}
		frames = append(frames, f)
	}
	return frames
}

func (r *Room) resolveClaim(id domain.PeerID, c *claim, now time.Time) {
	delete(r.claims, id)
	s, ok := r.members[id]
	if !ok {
		// Incumbent closed during the probe; the claim is now a plain join.
		c.decision <- r.join(c.peer, c.caps, c.conn, c.lastSeq)
		return
	}
	if s.lastBeat.After(c.beatAt) {
		// Incumbent heartbeated during the grace: it is alive, the
		// claim loses.
		log.Info().Str("module", "room").Str("room", string(r.id)).Str("peer", string(id)).Msg("duplicate claim rejected, incumbent alive")
		c.decision <- JoinResult{Err: core.ErrDuplicateIdentity}
		return
	}
	// Incumbent is dead. Evict its transport and hand the session over.
	log.Info().Str("module", "room").Str("room", string(r.id)).Str("peer", string(id)).Msg("evicting dead incumbent for new claim")
	s.detach(now)
	c.decision <- r.resume(s, c.peer, c.caps, c.conn, now, c.lastSeq)
}

// AbandonClaim withdraws a parked duplicate-identity claim whose
// transport closed before the probe resolved. A no-op if the claim was
// already resolved or replaced.
func (r *Room) AbandonClaim(id domain.PeerID, conn core.Conn) error {
	return r.doSync(func() {
		c, ok := r.claims[id]
		if !ok || c.conn != conn {
			return
		}
		delete(r.claims, id)
		log.Info().Str("module", "room").Str("room", string(r.id)).Str("peer", string(id)).Msg("claim abandoned, transport closed")
		c.decision <- JoinResult{Err: core.ErrTransportClosed}
	})
}

// Leave is the graceful exit: the session closes immediately, without a
// reconnect grace.
func (r *Room) Leave(id domain.PeerID) error {
	var opErr error
	err := r.doSync(func() {
		s, ok := r.members[id]
		if !ok {
			opErr = core.ErrUnknownPeer
			return
		}
		r.closeSession(s, "leave")
	})
	if err != nil {
		return err
	}
	return opErr
}

// Detached tells the room a transport died underneath a session. Only
// acted on if conn is still the session's current transport, so a stale
// notification can never tear down a successor connection.
func (r *Room) Detached(id domain.PeerID, conn core.Conn) {
	_ = r.do(func() {
		s, ok := r.members[id]
		if !ok || s.conn != conn {
			return
		}
		if s.state == core.StateReconnecting || s.state == core.StateClosed {
			return
		}
		s.detach(r.clk.Now())
		r.transition(s, core.StateReconnecting, "transport closed")
	})
}

// Heartbeat records liveness and drives Connecting/Degraded back to
// Connected.
func (r *Room) Heartbeat(id domain.PeerID) error {
	var opErr error
	err := r.doSync(func() {
		s, ok := r.members[id]
		if !ok {
			opErr = core.ErrUnknownPeer
			return
		}
		s.lastBeat = r.clk.Now()
		switch s.state {
		case core.StateConnecting:
			r.transition(s, core.StateConnected, "first heartbeat")
		case core.StateDegraded:
			r.transition(s, core.StateConnected, "heartbeat resumed")
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Relay forwards an opaque signaling payload between two current
// members. At most once, no retry; per-pair order holds because the
// actor serializes sends into the target's FIFO queue.
func (r *Room) Relay(from, to domain.PeerID, payload json.RawMessage) error {
	var opErr error
	err := r.doSync(func() {
		if _, ok := r.members[from]; !ok {
			opErr = core.ErrUnknownPeer
			return
		}
		target, ok := r.members[to]
		if !ok {
			opErr = core.ErrUnknownPeer
			return
		}
		if target.conn == nil {
			// Member is riding out its reconnect grace; the envelope is
			// dropped within the at-most-once contract.
			log.Debug().Str("module", "room").Str("room", string(r.id)).Str("to", string(to)).Msg("relay target detached, dropped")
			return
		}
		env := &core.Envelope{Type: core.KindSignal, Room: r.id, From: from, To: to, Payload: payload}
		f, err := env.Encode()
		if err != nil {
			opErr = err
			return
		}
		if err := target.conn.TrySend(f); err != nil {
			log.Warn().Err(err).Str("module", "room").Str("room", string(r.id)).Str("to", string(to)).Msg("relay send failed")
			return
		}
		metrics.SignalsRelayed.Inc()
	})
	if err != nil {
		return err
	}
	return opErr
}

// PublishChat assigns the room's next monotonic seq and fans the event
// out to every attached member. If any chat queue lacks room the
// publish fails with ErrBusy before a seq is consumed, so all
// subscribers always observe the same gap-free total order.
func (r *Room) PublishChat(author domain.PeerID, payload json.RawMessage) (uint64, error) {
	var (
		seq   uint64
		opErr error
	)
	err := r.doSync(func() {
		if _, ok := r.members[author]; !ok {
			opErr = core.ErrUnknownPeer
			return
		}
		for _, s := range r.members {
			if s.sub != nil && !s.sub.chatHasRoom() {
				metrics.PublishBusy.Inc()
				opErr = core.ErrBusy
				return
			}
		}
		r.seq++
		r.lastActive = r.clk.Now()
		ev := core.Event{
			ID:      uuid.NewString(),
			Seq:     r.seq,
			Room:    r.id,
			Author:  author,
			Channel: core.ChannelChat,
			Payload: payload,
			At:      r.clk.Now(),
		}
		r.hist.Append(ev)
		f, err := r.chatFrame(ev)
		if err != nil {
			opErr = err
			return
		}
		for _, s := range r.members {
			if s.sub == nil {
				continue
			}
			s.sub.chat <- f
			s.lastEnqueued = ev.Seq
		}
		seq = ev.Seq
		metrics.EventsPublished.WithLabelValues(string(core.ChannelChat)).Inc()
	})
	if err != nil {
		return 0, err
	}
	return seq, opErr
}

func (r *Room) chatFrame(ev core.Event) (core.Frame, error) {
	env := &core.Envelope{
		Type:    core.KindChat,
		Room:    r.id,
		From:    ev.Author,
		Seq:     ev.Seq,
		Payload: ev.Payload,
	}
	return env.Encode()
}

// PublishActivity fans out a best-effort advisory event. Per-subscriber
// drop-oldest under pressure; never blocks and never fails the caller.
func (r *Room) PublishActivity(author domain.PeerID, payload json.RawMessage) {
	_ = r.do(func() {
		ev := core.Event{
			ID:      uuid.NewString(),
			Room:    r.id,
			Author:  author,
			Channel: core.ChannelActivity,
			Payload: payload,
			At:      r.clk.Now(),
		}
		r.hist.Append(ev)
		env := &core.Envelope{Type: core.KindActivity, Room: r.id, From: author, Payload: payload}
		f, err := env.Encode()
		if err != nil {
			return
		}
		for _, s := range r.members {
			if s.sub == nil {
				continue
			}
			if !s.sub.pushActivity(f) {
				metrics.EventsDropped.Inc()
			}
		}
		metrics.EventsPublished.WithLabelValues(string(core.ChannelActivity)).Inc()
	})
}

// UpdatePresence applies a last-write-wins capability change and queues
// a coalesced delta for the debounced broadcast.
func (r *Room) UpdatePresence(id domain.PeerID, field domain.Capability, value bool) error {
	var opErr error
	err := r.doSync(func() {
		s, ok := r.members[id]
		if !ok {
			opErr = core.ErrUnknownPeer
			return
		}
		if !s.caps.Set(field, value) {
			opErr = core.ErrMalformedEnvelope
			return
		}
		if field == domain.CapTyping && value {
			s.lastTyping = r.clk.Now()
		}
		r.pres.add(id, field, value, r.cfg.PresenceDebounce)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Members lists current members ordered by join time.
func (r *Room) Members() ([]core.MemberDTO, error) {
	var out []core.MemberDTO
	err := r.doSync(func() {
		out = r.memberList()
	})
	return out, err
}

func (r *Room) memberList() []core.MemberDTO {
	out := make([]core.MemberDTO, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.members[id]; ok {
			out = append(out, s.dto())
		}
	}
	return out
}

func (r *Room) MemberCount() int {
	n := 0
	_ = r.doSync(func() { n = len(r.members) })
	return n
}

// State reports a member's lifecycle state.
func (r *Room) State(id domain.PeerID) (core.SessionState, error) {
	var (
		st    core.SessionState
		opErr error
	)
	err := r.doSync(func() {
		s, ok := r.members[id]
		if !ok {
			opErr = core.ErrUnknownPeer
			return
		}
		st = s.state
	})
	if err != nil {
		return core.StateClosed, err
	}
	return st, opErr
}

const defaultActivityK = 20

// Snapshot returns current members plus recent activity for late
// joining UIs.
func (r *Room) Snapshot() (core.RoomSnapshot, error) {
	var snap core.RoomSnapshot
	err := r.doSync(func() { snap = r.snapshot(defaultActivityK) })
	return snap, err
}

func (r *Room) snapshot(k int) core.RoomSnapshot {
	return core.RoomSnapshot{
		Room:     r.id,
		Members:  r.memberList(),
		Activity: r.hist.Activity(k),
		LastSeq:  r.seq,
	}
}

// closeSession removes a member for good and broadcasts its leave.
func (r *Room) closeSession(s *session, reason string) {
	now := r.clk.Now()
	s.detach(now)
	r.transition(s, core.StateClosed, reason)
	delete(r.members, s.peer.ID)
	for i, id := range r.order {
		if id == s.peer.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.PeersConnected.Dec()
	r.broadcastPresenceEvent("leave", s, s.peer.ID)
	r.sink.PeerLeft(r.id, s.peer)
	if len(r.members) == 0 {
		r.emptySince = now
	}
}

// broadcastPresenceEvent pushes an immediate join/leave delta to every
// other member's control queue.
func (r *Room) broadcastPresenceEvent(event string, s *session, except domain.PeerID) {
	payload, err := json.Marshal(struct {
		Event        string              `json:"event"`
		Peer         domain.Peer         `json:"peer"`
		Capabilities domain.Capabilities `json:"capabilities"`
	}{event, s.peer, s.caps})
	if err != nil {
		return
	}
	env := &core.Envelope{Type: core.KindPresence, Room: r.id, From: s.peer.ID, Payload: payload}
	f, err := env.Encode()
	if err != nil {
		return
	}
	for id, m := range r.members {
		if id == except || m.conn == nil {
			continue
		}
		_ = m.conn.TrySend(f)
	}
}

func (r *Room) transition(s *session, to core.SessionState, reason string) {
	from := s.state
	s.state = to
	log.Info().
		Str("module", "room").
		Str("room", string(r.id)).
		Str("peer", string(s.peer.ID)).
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("lifecycle transition")
}
