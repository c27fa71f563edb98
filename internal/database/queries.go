package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultMessageLimit = 50

func (db *SQLChatRepository) CreateRoom(name string) (Room, error) {
	_, err := db.conn.Exec(
		"INSERT INTO rooms (name, created_at) VALUES ($1, $2) "+
			"ON CONFLICT (name) DO NOTHING",
		name,
		time.Now().UTC(),
	)
	if err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}

	return db.GetRoom(name)
}

func (db *SQLChatRepository) GetRoom(name string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT name, created_at FROM rooms "+
			"WHERE name = $1 LIMIT 1",
		name,
	)

	var room Room
	err := row.Scan(
		&room.Name,
		&room.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}

	return room, err
}

func (db *SQLChatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query("SELECT name, created_at FROM rooms ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.Name, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}

		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *SQLChatRepository) DeleteRoomIfEmpty(name string) (deleted bool, err error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.Exec(
		"DELETE FROM rooms WHERE name = $1 "+
			"AND NOT EXISTS (SELECT 1 FROM messages WHERE room_name = $1)",
		name,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if n > 0 {
		if _, err = tx.Exec("DELETE FROM sessions WHERE room_name = $1", name); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}

	return n > 0, nil
}

func (db *SQLChatRepository) CreateSession(sess Session) error {
	_, err := db.conn.Exec(
		"INSERT INTO sessions (id, room_name, email, username, joined_at) "+
			"VALUES ($1, $2, $3, $4, $5)",
		sess.Id,
		sess.RoomName,
		sess.Email,
		sess.Username,
		sess.JoinedAt,
	)

	return err
}

func (db *SQLChatRepository) DeleteSession(id string) error {
	_, err := db.conn.Exec("DELETE FROM sessions WHERE id = $1", id)

	return err
}

func (db *SQLChatRepository) ClearSessions() error {
	_, err := db.conn.Exec("DELETE FROM sessions")

	return err
}

func (db *SQLChatRepository) CreateMessage(msg Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (id, room_name, sender_email, sender_username, text, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		msg.Id,
		msg.RoomName,
		msg.SenderEmail,
		msg.SenderUsername,
		msg.Text,
		msg.CreatedAt,
	)

	return err
}

// GetMessages returns the newest limit messages of a room in chronological
// order.
func (db *SQLChatRepository) GetMessages(roomName string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	rows, err := db.conn.Query(
		"SELECT id, room_name, sender_email, sender_username, text, created_at FROM ("+
			"SELECT id, room_name, sender_email, sender_username, text, created_at FROM messages "+
			"WHERE room_name = $1 ORDER BY created_at DESC LIMIT $2"+
			") AS recent ORDER BY created_at ASC",
		roomName,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.Id,
			&msg.RoomName,
			&msg.SenderEmail,
			&msg.SenderUsername,
			&msg.Text,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
