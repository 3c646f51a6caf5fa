package domain

const MaxRoomIDLen = 64

type RoomID string

type Room struct {
	ID RoomID
}
