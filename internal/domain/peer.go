// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type PeerID string

// Peer is the verified identity handed to the engine by the
// authentication layer before a join is accepted.
type Peer struct {
	ID     PeerID `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// NewPeer binds a verified identity to its declared display profile.
func NewPeer(id PeerID, name, color, avatar string) (Peer, error) {
	if len(name) == 0 {
		return Peer{}, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return Peer{}, ErrDisplayNameTooLong
	}
	return Peer{ID: id, Name: name, Color: color, Avatar: avatar}, nil
}
