package core

import "errors"

var (
	// ErrMalformedEnvelope is returned when an inbound frame cannot be
	// decoded into a valid envelope. Recovered locally: the frame is
	// dropped and the connection's abuse counter is incremented.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrUnknownRoom is surfaced to the originating client as a
	// non-fatal error envelope.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrUnknownPeer is returned when an operation names a peer that is
	// not a current member of the room.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrDuplicateIdentity is returned while a second join for an
	// already-registered identity waits out the dead-transport probe.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrTransportClosed drives the lifecycle state machine; it is
	// never propagated to other peers.
	ErrTransportClosed = errors.New("transport closed")

	// ErrBusy is returned by a chat publish when a subscriber queue is
	// full. The caller retries; chat is never silently dropped.
	ErrBusy = errors.New("busy")

	// ErrBackpressure is returned by a transport TrySend when the
	// outbound buffer is full.
	ErrBackpressure = errors.New("backpressure")
)
