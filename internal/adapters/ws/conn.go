package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/room"
)

var errConnClosed = errors.New("connection closed")

// wsConn wraps a websocket with a buffered outbound queue. The write
// pump is the only goroutine writing to the socket.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
}

func newWSConn(conn *websocket.Conn, buf int, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		conn:         conn,
		send:         make(chan core.Frame, buf),
		writeTimeout: writeTimeout,
		closing:      make(chan struct{}),
	}
}

// TrySend enqueues without blocking. Used by the room actor for
// control traffic (presence, signal, errors); a full buffer is a
// backpressure signal, not a reason to block the actor.
func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrTransportClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Send blocks until the frame is buffered or the connection closes.
// Used by the subscription forwarder, where blocking is the chat
// channel's backpressure working as intended.
func (c *wsConn) Send(f core.Frame) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errConnClosed
	}
	c.mu.RUnlock()
	select {
	case c.send <- f:
		return nil
	case <-c.closing:
		return errConnClosed
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.closing)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// writePump drains the outbound queue onto the socket. A write error
// or deadline closes the connection, which the read pump reports to
// the lifecycle manager as a transport loss.
func (c *wsConn) writePump() {
	for {
		select {
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump write error")
				c.Close()
				return
			}
		case <-c.closing:
			return
		}
	}
}

// forward pumps a member's subscription queues into the socket, chat
// before activity so advisory updates never delay the lossless stream.
func forward(sub *room.Subscription, c *wsConn, replay []core.Frame) {
	for _, f := range replay {
		if err := c.Send(f); err != nil {
			return
		}
	}
	for {
		select {
		case f := <-sub.Chat():
			if err := c.Send(f); err != nil {
				return
			}
			continue
		case <-sub.Done():
			return
		case <-c.closing:
			return
		default:
		}
		select {
		case f := <-sub.Chat():
			if err := c.Send(f); err != nil {
				return
			}
		case f := <-sub.Activity():
			if err := c.Send(f); err != nil {
				return
			}
		case <-sub.Done():
			return
		case <-c.closing:
			return
		}
	}
}
