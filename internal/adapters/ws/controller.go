package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avekern/seminar/internal/config"
	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
	"github.com/avekern/seminar/internal/metrics"
	"github.com/avekern/seminar/internal/room"
)

// maxMalformed is the abuse guard: this many consecutive rejected
// frames force-close the connection.
const maxMalformed = 3

type Controller struct {
	rooms   *room.Registry
	cfg     *config.Config
	limiter *JoinRateLimiter
}

func NewController(rooms *room.Registry, cfg *config.Config) *Controller {
	return &Controller{
		rooms:   rooms,
		cfg:     cfg,
		limiter: NewJoinRateLimiter(cfg.Engine.JoinRateLimit, cfg.Engine.JoinRateInterval),
	}
}

// clientSession is one websocket's view of the engine: the verified
// identity plus the room it currently occupies. The decision goroutine
// for a duplicate-identity probe may set the room concurrently with
// the read pump, hence the mutex.
type clientSession struct {
	id   domain.PeerID
	conn *wsConn

	mu        sync.Mutex
	room      *room.Room
	malformed int
}

func (cs *clientSession) current() *room.Room {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.room
}

func (cs *clientSession) setRoom(r *room.Room) {
	cs.mu.Lock()
	cs.room = r
	cs.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs its read pump. The client
// token middleware has already attached the verified identity.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	id := domain.PeerID(c.GetString("client_token"))
	log.Info().Str("module", "ws").Str("peer", string(id)).Msg("new connection")

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}
	sock.SetReadLimit(ctl.cfg.ReadLimit)

	conn := newWSConn(sock, ctl.cfg.Engine.SendBuffer, ctl.cfg.Engine.WriteTimeout)
	go conn.writePump()

	cs := &clientSession{id: id, conn: conn}
	ctl.readPump(ctx, cs)
}

func (ctl *Controller) readPump(ctx context.Context, cs *clientSession) {
	defer func() {
		if rm := cs.current(); rm != nil {
			rm.Detached(cs.id, cs.conn)
		}
		cs.conn.Close()
		log.Info().Str("module", "ws").Str("peer", string(cs.id)).Msg("readPump closing")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := cs.conn.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "ws").Str("peer", string(cs.id)).Msg("read error")
			return
		}
		ctl.dispatch(cs, data)
	}
}

func (ctl *Controller) dispatch(cs *clientSession, data []byte) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		cs.malformed++
		metrics.MalformedEnvelopes.Inc()
		log.Warn().Err(err).Str("module", "ws").Str("peer", string(cs.id)).Int("strike", cs.malformed).Msg("malformed envelope")
		ctl.sendError(cs, "", "malformed_envelope")
		if cs.malformed >= maxMalformed {
			log.Warn().Str("module", "ws").Str("peer", string(cs.id)).Msg("abuse guard tripped, closing")
			cs.conn.Close()
		}
		return
	}
	cs.malformed = 0

	switch env.Type {
	case core.KindJoin:
		ctl.handleJoin(cs, env)
	case core.KindLeave:
		ctl.handleLeave(cs)
	case core.KindHeartbeat:
		ctl.handleHeartbeat(cs)
	case core.KindSignal:
		ctl.handleSignal(cs, env)
	case core.KindPresence:
		ctl.handlePresence(cs, env)
	case core.KindChat:
		ctl.handleChat(cs, env)
	}
}

func (ctl *Controller) handleJoin(cs *clientSession, env *core.Envelope) {
	if env.Room == "" {
		ctl.sendError(cs, "", "unknown_room")
		return
	}
	if !ctl.limiter.Allow(cs.id) {
		ctl.sendError(cs, env.Room, "rate_limited")
		return
	}

	var jp core.JoinPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &jp); err != nil {
			ctl.sendError(cs, env.Room, "bad_payload")
			return
		}
	}
	if jp.Name == "" {
		jp.Name = "guest"
	}
	peer, err := domain.NewPeer(cs.id, jp.Name, jp.Color, jp.Avatar)
	if err != nil {
		ctl.sendError(cs, env.Room, "invalid_name")
		return
	}

	// Joining a new room implicitly leaves the current one.
	if rm := cs.current(); rm != nil {
		if rm.ID() == env.Room {
			// Re-join of the same room over the same live transport:
			// treat as a no-op beyond a fresh snapshot.
			if snap, err := rm.Snapshot(); err == nil {
				ctl.sendRoomState(cs, rm, snap)
			}
			return
		}
		_ = rm.Leave(cs.id)
		cs.setRoom(nil)
	}

	// A room can disappear between lookup and join if its idle grace
	// fires in the gap; retry once against a fresh instance.
	for attempt := 0; attempt < 2; attempt++ {
		rm := ctl.rooms.GetOrCreate(env.Room)
		res, err := rm.Join(peer, jp.Capabilities, cs.conn, jp.LastSeq)
		if errors.Is(err, core.ErrUnknownRoom) {
			continue
		}
		if err != nil {
			ctl.sendError(cs, env.Room, "join_failed")
			return
		}
		if res.Pending {
			go ctl.awaitDecision(cs, rm, res.Decision)
			return
		}
		ctl.finishJoin(cs, rm, res)
		return
	}
	ctl.sendError(cs, env.Room, "join_failed")
}

// awaitDecision completes a join parked behind the duplicate-identity
// probe.
func (ctl *Controller) awaitDecision(cs *clientSession, rm *room.Room, decision <-chan room.JoinResult) {
	select {
	case res := <-decision:
		if res.Err != nil {
			log.Info().Str("module", "ws").Str("peer", string(cs.id)).Msg("join rejected, identity in use")
			ctl.sendError(cs, rm.ID(), "duplicate_identity")
			cs.conn.Close()
			return
		}
		ctl.finishJoin(cs, rm, res)
	case <-cs.conn.closing:
		// The claimant died mid-probe. Withdraw the claim; if it already
		// won the race, the session resumed onto this dead transport and
		// must be detached so the room does not wedge on its queues.
		if err := rm.AbandonClaim(cs.id, cs.conn); err != nil {
			return
		}
		select {
		case res := <-decision:
			if res.Err == nil {
				rm.Detached(cs.id, cs.conn)
			}
		default:
		}
	}
}

func (ctl *Controller) finishJoin(cs *clientSession, rm *room.Room, res room.JoinResult) {
	cs.setRoom(rm)
	ctl.sendRoomState(cs, rm, res.Snapshot)
	go forward(res.Sub, cs.conn, res.Replay)
}

func (ctl *Controller) handleLeave(cs *clientSession) {
	if rm := cs.current(); rm != nil {
		if err := rm.Leave(cs.id); err != nil {
			log.Debug().Err(err).Str("module", "ws").Str("peer", string(cs.id)).Msg("leave")
		}
		cs.setRoom(nil)
	}
	ctl.sendAck(cs, "", 0)
}

func (ctl *Controller) handleHeartbeat(cs *clientSession) {
	rm := cs.current()
	if rm == nil {
		ctl.sendError(cs, "", "unknown_room")
		return
	}
	if err := rm.Heartbeat(cs.id); err != nil {
		// The session is gone: the lifecycle manager closed it or the
		// room was destroyed. An ack here would leave the client in
		// limbo; the error tells it to rejoin.
		log.Debug().Err(err).Str("module", "ws").Str("peer", string(cs.id)).Msg("heartbeat for closed session")
		cs.setRoom(nil)
		reason := "unknown_peer"
		if errors.Is(err, core.ErrUnknownRoom) {
			reason = "unknown_room"
		}
		ctl.sendError(cs, rm.ID(), reason)
		return
	}
	ctl.sendAck(cs, rm.ID(), 0)
}

func (ctl *Controller) handleSignal(cs *clientSession, env *core.Envelope) {
	rm := cs.current()
	if rm == nil {
		ctl.sendError(cs, env.Room, "unknown_room")
		return
	}
	if err := rm.Relay(cs.id, env.To, env.Payload); err != nil {
		// Surfaced to the sender as an event, never as a connection
		// failure.
		log.Debug().Err(err).Str("module", "ws").Str("peer", string(cs.id)).Str("to", string(env.To)).Msg("relay failed")
		ctl.sendError(cs, rm.ID(), "signal_failed")
	}
}

func (ctl *Controller) handlePresence(cs *clientSession, env *core.Envelope) {
	rm := cs.current()
	if rm == nil {
		ctl.sendError(cs, env.Room, "unknown_room")
		return
	}
	var pp core.PresencePayload
	if err := json.Unmarshal(env.Payload, &pp); err != nil {
		ctl.sendError(cs, rm.ID(), "bad_payload")
		return
	}
	if err := rm.UpdatePresence(cs.id, pp.Field, pp.Value); err != nil {
		ctl.sendError(cs, rm.ID(), "bad_payload")
	}
}

func (ctl *Controller) handleChat(cs *clientSession, env *core.Envelope) {
	rm := cs.current()
	if rm == nil {
		ctl.sendError(cs, env.Room, "unknown_room")
		return
	}
	seq, err := rm.PublishChat(cs.id, env.Payload)
	switch {
	case errors.Is(err, core.ErrBusy):
		ctl.sendError(cs, rm.ID(), "busy")
	case err != nil:
		ctl.sendError(cs, rm.ID(), "publish_failed")
	default:
		ctl.sendAck(cs, rm.ID(), seq)
	}
}

func (ctl *Controller) sendRoomState(cs *clientSession, rm *room.Room, snap core.RoomSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	env := &core.Envelope{Type: core.KindRoomState, Room: rm.ID(), Payload: payload}
	f, err := env.Encode()
	if err != nil {
		return
	}
	_ = cs.conn.TrySend(f)
}

func (ctl *Controller) sendAck(cs *clientSession, roomID domain.RoomID, seq uint64) {
	env := &core.Envelope{Type: core.KindAck, Room: roomID, Seq: seq}
	f, err := env.Encode()
	if err != nil {
		return
	}
	_ = cs.conn.TrySend(f)
}

func (ctl *Controller) sendError(cs *clientSession, roomID domain.RoomID, reason string) {
	f, err := core.ErrorEnvelope(roomID, reason).Encode()
	if err != nil {
		return
	}
	_ = cs.conn.TrySend(f)
}
