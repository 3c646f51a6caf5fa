package room

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avekern/seminar/internal/core"
	"github.com/avekern/seminar/internal/domain"
)

func presenceDeltas(conn *fakeConn, peer domain.PeerID) []map[string]bool {
	var out []map[string]bool
	for _, env := range conn.envelopes() {
		if env.Type != core.KindPresence || env.From != peer {
			continue
		}
		var p struct {
			Changed map[string]bool `json:"changed"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.Changed != nil {
			out = append(out, p.Changed)
		}
	}
	return out
}

func TestPresenceDebounceCoalescesRapidToggles(t *testing.T) {
	clk := clock.NewMock()
	r := newTestRoom(t, testEngine(), clk)

	join(t, r, "alice")
	connB, _ := join(t, r, "bob")

	// A burst of toggles inside one debounce window.
	require.NoError(t, r.UpdatePresence("alice", domain.CapTyping, true))
	require.NoError(t, r.UpdatePresence("alice", domain.CapMic, true))
	require.NoError(t, r.UpdatePresence("alice", domain.CapMic, false))

	clk.Add(150 * time.Millisecond)

	require.Eventually(t, func() bool {
		return len(presenceDeltas(connB, "alice")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	deltas := presenceDeltas(connB, "alice")
	assert.Equal(t, map[string]bool{"typing": true, "mic": false}, deltas[0])
}

func TestPresenceLastWriteWins(t *testing.T) {
	clk := clock.NewMock()
	r := newTestRoom(t, testEngine(), clk)

	join(t, r, "alice")
	require.NoError(t, r.UpdatePresence("alice", domain.CapCamera, true))
	require.NoError(t, r.UpdatePresence("alice", domain.CapCamera, false))

	members, err := r.Members()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.False(t, members[0].Capabilities.Camera)
}

func TestPresenceRejectsUnknownField(t *testing.T) {
	r := newTestRoom(t, testEngine(), clock.NewMock())
	join(t, r, "alice")

	err := r.UpdatePresence("alice", domain.Capability("volume"), true)
	require.ErrorIs(t, err, core.ErrMalformedEnvelope)
}

func TestTypingAutoClears(t *testing.T) {
	clk := clock.NewMock()
	r := newTestRoom(t, testEngine(), clk)

	join(t, r, "alice")
	connB, _ := join(t, r, "bob")

	require.NoError(t, r.UpdatePresence("alice", domain.CapTyping, true))
	clk.Add(time.Second) // flush the initial delta

	// No keystrokes for the expiry window; bob needs his own beats so
	// he is not the one timing out.
	for i := 0; i < 6; i++ {
		clk.Add(time.Second)
		require.NoError(t, r.Heartbeat("bob"))
		require.NoError(t, r.Heartbeat("alice"))
	}

	require.Eventually(t, func() bool {
		members, err := r.Members()
		if err != nil || len(members) == 0 {
			return false
		}
		return !members[0].Capabilities.Typing
	}, 2*time.Second, 5*time.Millisecond)

	deltas := presenceDeltas(connB, "alice")
	require.NotEmpty(t, deltas)
	last := deltas[len(deltas)-1]
	assert.Equal(t, map[string]bool{"typing": false}, last)
}

func TestTypingTimerResetsOnKeystroke(t *testing.T) {
	clk := clock.NewMock()
	r := newTestRoom(t, testEngine(), clk)

	join(t, r, "alice")

	require.NoError(t, r.UpdatePresence("alice", domain.CapTyping, true))
	for i := 0; i < 4; i++ {
		clk.Add(time.Second)
		require.NoError(t, r.Heartbeat("alice"))
	}
	// A fresh keystroke inside the window restarts the expiry.
	require.NoError(t, r.UpdatePresence("alice", domain.CapTyping, true))
	for i := 0; i < 4; i++ {
		clk.Add(time.Second)
		require.NoError(t, r.Heartbeat("alice"))
	}

	members, err := r.Members()
	require.NoError(t, err)
	assert.True(t, members[0].Capabilities.Typing, "typing should survive while keystrokes keep coming")
}
