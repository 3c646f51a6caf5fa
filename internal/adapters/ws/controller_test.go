package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avekern/seminar/internal/config"
	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
	"github.com/avekern/seminar/internal/room"
)

func newTestServer(t *testing.T) (*httptest.Server, *room.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Mode: "release", ReadLimit: 32768, Engine: config.DefaultEngine()}
	reg := room.NewRegistry(cfg.Engine, nil, nil)
	t.Cleanup(reg.Stop)

	ctl := NewController(reg, cfg)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("token"))
		ctl.Handle(context.Background(), c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dialPeer(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env *core.Envelope) {
	t.Helper()
	f, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, f))
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, name string) {
	t.Helper()
	payload, err := json.Marshal(core.JoinPayload{Name: name})
	require.NoError(t, err)
	sendEnvelope(t, conn, &core.Envelope{Type: core.KindJoin, Room: domain.RoomID(roomID), Payload: payload})
}

// waitFor reads frames until one of the wanted kind arrives.
func waitFor(t *testing.T, conn *websocket.Conn, kind core.Kind) *core.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", kind)
		var env core.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == kind {
			return &env
		}
	}
}

func TestJoinReturnsRoomState(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialPeer(t, srv, "alice")

	joinRoom(t, conn, "r1", "Alice")
	env := waitFor(t, conn, core.KindRoomState)

	var snap core.RoomSnapshot
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	require.Len(t, snap.Members, 1)
	assert.Equal(t, domain.PeerID("alice"), snap.Members[0].Peer.ID)
	assert.Equal(t, "Alice", snap.Members[0].Peer.Name)
}

func TestHeartbeatAcked(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialPeer(t, srv, "alice")

	joinRoom(t, conn, "r1", "Alice")
	waitFor(t, conn, core.KindRoomState)

	sendEnvelope(t, conn, &core.Envelope{Type: core.KindHeartbeat, Room: "r1"})
	waitFor(t, conn, core.KindAck)
}

func TestHeartbeatWithoutRoomSurfacesError(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialPeer(t, srv, "alice")

	sendEnvelope(t, conn, &core.Envelope{Type: core.KindHeartbeat})
	env := waitFor(t, conn, core.KindError)
	assert.Contains(t, string(env.Payload), "unknown_room")
}

func TestHeartbeatAfterRoomDestroyedSurfacesError(t *testing.T) {
	srv, reg := newTestServer(t)
	conn := dialPeer(t, srv, "alice")

	joinRoom(t, conn, "r1", "Alice")
	waitFor(t, conn, core.KindRoomState)

	// The room is torn down out from under a still-live transport.
	reg.Stop()

	// The client must learn it has to rejoin, not get acked into limbo.
	sendEnvelope(t, conn, &core.Envelope{Type: core.KindHeartbeat, Room: "r1"})
	env := waitFor(t, conn, core.KindError)
	assert.Contains(t, string(env.Payload), "unknown_room")

	// A rejoin recovers into a fresh room.
	joinRoom(t, conn, "r1", "Alice")
	waitFor(t, conn, core.KindRoomState)
}

func TestChatFansOutInOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")

	joinRoom(t, alice, "r1", "Alice")
	waitFor(t, alice, core.KindRoomState)
	joinRoom(t, bob, "r1", "Bob")
	waitFor(t, bob, core.KindRoomState)

	sendEnvelope(t, alice, &core.Envelope{Type: core.KindChat, Room: "r1", Payload: []byte(`{"text":"first"}`)})
	sendEnvelope(t, alice, &core.Envelope{Type: core.KindChat, Room: "r1", Payload: []byte(`{"text":"second"}`)})

	first := waitFor(t, bob, core.KindChat)
	second := waitFor(t, bob, core.KindChat)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, domain.PeerID("alice"), first.From)

	// The author observes the same total order.
	assert.Equal(t, uint64(1), waitFor(t, alice, core.KindChat).Seq)
	assert.Equal(t, uint64(2), waitFor(t, alice, core.KindChat).Seq)
}

func TestSignalRelayBetweenPeers(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")

	joinRoom(t, alice, "r1", "Alice")
	waitFor(t, alice, core.KindRoomState)
	joinRoom(t, bob, "r1", "Bob")
	waitFor(t, bob, core.KindRoomState)

	payload, _ := json.Marshal(core.SignalPayload{Kind: core.SignalOffer, Data: []byte(`{"sdp":"v=0"}`)})
	sendEnvelope(t, alice, &core.Envelope{Type: core.KindSignal, Room: "r1", To: "bob", Payload: payload})

	env := waitFor(t, bob, core.KindSignal)
	assert.Equal(t, domain.PeerID("alice"), env.From)
	var sp core.SignalPayload
	require.NoError(t, json.Unmarshal(env.Payload, &sp))
	assert.Equal(t, core.SignalOffer, sp.Kind)
}

func TestSignalToUnknownPeerSurfacesAsEvent(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialPeer(t, srv, "alice")

	joinRoom(t, alice, "r1", "Alice")
	waitFor(t, alice, core.KindRoomState)

	payload, _ := json.Marshal(core.SignalPayload{Kind: core.SignalOffer})
	sendEnvelope(t, alice, &core.Envelope{Type: core.KindSignal, Room: "r1", To: "ghost", Payload: payload})

	env := waitFor(t, alice, core.KindError)
	assert.Contains(t, string(env.Payload), "signal_failed")
}

func TestAbuseGuardClosesConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialPeer(t, srv, "alice")

	for i := 0; i < maxMalformed; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not an envelope")))
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	sawClose := false
	for i := 0; i < maxMalformed+2; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			sawClose = true
			break
		}
	}
	assert.True(t, sawClose, "connection should be force-closed after repeated malformed frames")
}

func TestPresenceBroadcastToRoommates(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")

	joinRoom(t, alice, "r1", "Alice")
	waitFor(t, alice, core.KindRoomState)
	joinRoom(t, bob, "r1", "Bob")
	waitFor(t, bob, core.KindRoomState)

	// Alice sees bob's join delta.
	env := waitFor(t, alice, core.KindPresence)
	assert.Equal(t, domain.PeerID("bob"), env.From)

	pp, _ := json.Marshal(core.PresencePayload{Field: domain.CapMic, Value: true})
	sendEnvelope(t, bob, &core.Envelope{Type: core.KindPresence, Room: "r1", Payload: pp})

	env = waitFor(t, alice, core.KindPresence)
	assert.Equal(t, domain.PeerID("bob"), env.From)
	assert.Contains(t, string(env.Payload), "mic")
}
