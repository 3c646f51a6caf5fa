// Package client is the engine's counterpart: a websocket client that
// keeps the heartbeat and reconnect contract the server assumes.
// Reconnects back off exponentially starting at 1s, capped at 15s, and
// rejoin under the same identity so the server resumes the session.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
)

type Options struct {
	URL  string // ws:// endpoint, e.g. ws://host:8080/api/ws
	Room domain.RoomID
	Name string

	// Heartbeat defaults to 5s, the server's expected interval.
	Heartbeat time.Duration

	// Token pins the identity across reconnects. Generated when empty.
	Token string

	// OnEnvelope receives every server frame, including replayed ones.
	// Delivery is at-least-once; handlers must be idempotent.
	OnEnvelope func(*core.Envelope)
}

type Client struct {
	opts Options

	// lastSeq is the highest chat seq observed; sent on every join so a
	// resumed session replays exactly what this client missed. Touched
	// only from Run's goroutine.
	lastSeq uint64

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(opts Options) *Client {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	if opts.Token == "" {
		opts.Token = uuid.NewString()
	}
	return &Client{opts: opts}
}

// Token returns the identity this client joins under.
func (c *Client) Token() string { return c.opts.Token }

// Run dials, joins, and keeps the session alive until ctx is done,
// reconnecting with backoff whenever the transport drops.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0

	for {
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > time.Minute {
			// The session held for a while; start the backoff over.
			bo.Reset()
		}
		wait := bo.NextBackOff()
		log.Warn().Err(err).Dur("retry_in", wait).Str("module", "client").Msg("session ended, reconnecting")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("Cookie", "ct="+c.opts.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if err := c.sendJoin(); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeatLoop(sessionCtx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad server frame")
			continue
		}
		if env.Type == core.KindChat && env.Seq > c.lastSeq {
			c.lastSeq = env.Seq
		}
		if c.opts.OnEnvelope != nil {
			c.opts.OnEnvelope(&env)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()
	// First beat right away: it completes the server-side handshake.
	_ = c.send(&core.Envelope{Type: core.KindHeartbeat, Room: c.opts.Room})
	for {
		select {
		case <-ticker.C:
			if err := c.send(&core.Envelope{Type: core.KindHeartbeat, Room: c.opts.Room}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendJoin() error {
	payload, err := json.Marshal(core.JoinPayload{Name: c.opts.Name, LastSeq: c.lastSeq})
	if err != nil {
		return err
	}
	return c.send(&core.Envelope{Type: core.KindJoin, Room: c.opts.Room, Payload: payload})
}

// SendChat publishes to the room's lossless chat channel. A server
// "busy" error envelope means retry.
func (c *Client) SendChat(payload json.RawMessage) error {
	return c.send(&core.Envelope{Type: core.KindChat, Room: c.opts.Room, Payload: payload})
}

// SendSignal relays an opaque connection-setup payload to one peer.
func (c *Client) SendSignal(to domain.PeerID, kind core.SignalKind, data json.RawMessage) error {
	payload, err := json.Marshal(core.SignalPayload{Kind: kind, Data: data})
	if err != nil {
		return err
	}
	return c.send(&core.Envelope{Type: core.KindSignal, Room: c.opts.Room, To: to, Payload: payload})
}

// SetCapability toggles one of the client's presence flags.
func (c *Client) SetCapability(field domain.Capability, value bool) error {
	payload, err := json.Marshal(core.PresencePayload{Field: field, Value: value})
	if err != nil {
		return err
	}
	return c.send(&core.Envelope{Type: core.KindPresence, Room: c.opts.Room, Payload: payload})
}

// Leave exits the room gracefully without tearing the transport down.
func (c *Client) Leave() error {
	return c.send(&core.Envelope{Type: core.KindLeave, Room: c.opts.Room})
}

func (c *Client) send(env *core.Envelope) error {
	f, err := env.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return core.ErrTransportClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, f)
}
