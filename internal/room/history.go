package room

import "github.com/avekern/seminar/internal/core"

// history is a bounded ring of chat and activity events kept for
// late-joiner snapshots and reconnect replay. Not durable across
// process restart. Only the room actor touches it.
type history struct {
	buf  []core.Event
	next int
	full bool
}

func newHistory(size int) *history {
	if size < 1 {
		size = 1
	}
	return &history{buf: make([]core.Event, size)}
}

func (h *history) Append(ev core.Event) {
	h.buf[h.next] = ev
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// scan visits retained events oldest first.
func (h *history) scan(visit func(core.Event)) {
	if h.full {
		for i := h.next; i < len(h.buf); i++ {
			visit(h.buf[i])
		}
	}
	for i := 0; i < h.next; i++ {
		visit(h.buf[i])
	}
}

// ChatSince returns retained chat events with seq > after, in seq order.
func (h *history) ChatSince(after uint64) []core.Event {
	var out []core.Event
	h.scan(func(ev core.Event) {
		if ev.Channel == core.ChannelChat && ev.Seq > after {
			out = append(out, ev)
		}
	})
	return out
}

// Activity returns up to k most recent activity events, oldest first.
func (h *history) Activity(k int) []core.Event {
	var all []core.Event
	h.scan(func(ev core.Event) {
		if ev.Channel == core.ChannelActivity {
			all = append(all, ev)
		}
	})
	if len(all) > k {
		all = all[len(all)-k:]
	}
	return all
}
