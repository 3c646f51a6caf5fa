package room

import "github.com/avekern/seminar/internal/core"

// Subscription is a member's bounded outbound queue pair. The chat
// queue is lossless (publishers back off with ErrBusy instead of
// overflowing it); the activity queue drops oldest under pressure.
// The room actor is the only sender; the transport adapter drains.
type Subscription struct {
	chat     chan core.Frame
	activity chan core.Frame
	done     chan struct{}
}

func newSubscription(chatCap, activityCap int) *Subscription {
	return &Subscription{
		chat:     make(chan core.Frame, chatCap),
		activity: make(chan core.Frame, activityCap),
		done:     make(chan struct{}),
	}
}

func (s *Subscription) Chat() <-chan core.Frame     { return s.chat }
func (s *Subscription) Activity() <-chan core.Frame { return s.activity }

// Done is closed when the subscription is detached from its session.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// chatHasRoom reports whether one more chat frame fits. Only the actor
// pushes, so a positive answer cannot be invalidated concurrently.
func (s *Subscription) chatHasRoom() bool {
	return len(s.chat) < cap(s.chat)
}

// pushActivity enqueues best-effort, evicting the oldest queued frame
// when full. Returns false if the new frame displaced an older one.
func (s *Subscription) pushActivity(f core.Frame) bool {
	select {
	case s.activity <- f:
		return true
	default:
	}
	select {
	case <-s.activity:
	default:
	}
	select {
	case s.activity <- f:
	default:
	}
	return false
}
