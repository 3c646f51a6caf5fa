package core

// SessionState is the lifecycle position of a peer session. A session
// is in exactly one state at a time; transitions are owned by the room
// actor.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateConnected
	StateDegraded
	StateReconnecting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
