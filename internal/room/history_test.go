package room

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avekern/seminar/internal/core"
)

func chatEvent(seq uint64) core.Event {
	return core.Event{ID: strconv.FormatUint(seq, 10), Seq: seq, Channel: core.ChannelChat}
}

func activityEvent(id string) core.Event {
	return core.Event{ID: id, Channel: core.ChannelActivity}
}

func TestHistoryChatSince(t *testing.T) {
	h := newHistory(10)
	for seq := uint64(1); seq <= 5; seq++ {
		h.Append(chatEvent(seq))
	}

	got := h.ChatSince(2)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(5), got[2].Seq)

	assert.Empty(t, h.ChatSince(5))
}

func TestHistoryRingEvictsOldest(t *testing.T) {
	h := newHistory(3)
	for seq := uint64(1); seq <= 5; seq++ {
		h.Append(chatEvent(seq))
	}

	got := h.ChatSince(0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(4), got[1].Seq)
	assert.Equal(t, uint64(5), got[2].Seq)
}

func TestHistoryActivityLastK(t *testing.T) {
	h := newHistory(10)
	h.Append(activityEvent("a"))
	h.Append(chatEvent(1))
	h.Append(activityEvent("b"))
	h.Append(activityEvent("c"))

	got := h.Activity(2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestHistoryInterleavedChannels(t *testing.T) {
	h := newHistory(4)
	h.Append(chatEvent(1))
	h.Append(activityEvent("a"))
	h.Append(chatEvent(2))
	h.Append(activityEvent("b"))
	h.Append(chatEvent(3)) // evicts chat seq 1

	chats := h.ChatSince(0)
	require.Len(t, chats, 2)
	assert.Equal(t, uint64(2), chats[0].Seq)
	assert.Equal(t, uint64(3), chats[1].Seq)

	acts := h.Activity(10)
	require.Len(t, acts, 2)
}
