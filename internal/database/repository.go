package database

import "errors"

var ErrNotFound = errors.New("not found")

type ChatRepository interface {
	Ping() error
	Close() error
	// CreateRoom returns the room with the given name, creating it if it
	// does not exist yet. Concurrent callers observe the same record.
	CreateRoom(name string) (Room, error)
	GetRoom(name string) (Room, error)
	// ListRooms returns every room record, oldest first.
	ListRooms() ([]Room, error)
	// DeleteRoomIfEmpty deletes the room and its sessions only when the room
	// has no persisted messages. It reports whether the room was deleted.
	DeleteRoomIfEmpty(name string) (bool, error)
	CreateSession(sess Session) error
	DeleteSession(id string) error
	ClearSessions() error
	CreateMessage(msg Message) error
	GetMessages(roomName string, limit int) ([]Message, error)
}
