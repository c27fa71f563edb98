package database

import (
	"sort"
	"sync"
	"time"
)

// MemoryChatRepository keeps all records in process memory. It backs the
// "memory" driver and the server tests.
type MemoryChatRepository struct {
	mu       sync.RWMutex
	rooms    map[string]Room
	sessions map[string]Session
	messages map[string][]Message
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		rooms:    make(map[string]Room),
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryChatRepository) Ping() error  { return nil }
func (m *MemoryChatRepository) Close() error { return nil }

func (m *MemoryChatRepository) CreateRoom(name string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[name]; ok {
		return room, nil
	}

	room := Room{Name: name, CreatedAt: time.Now().UTC()}
	m.rooms[name] = room
	return room, nil
}

func (m *MemoryChatRepository) GetRoom(name string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[name]
	if !ok {
		return Room{}, ErrNotFound
	}
	return room, nil
}

func (m *MemoryChatRepository) ListRooms() ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].Name < rooms[j].Name
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (m *MemoryChatRepository) DeleteRoomIfEmpty(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[name]; !ok || len(m.messages[name]) > 0 {
		return false, nil
	}

	delete(m.rooms, name)
	for id, sess := range m.sessions {
		if sess.RoomName == name {
			delete(m.sessions, id)
		}
	}
	return true, nil
}

func (m *MemoryChatRepository) CreateSession(sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[sess.RoomName]; !ok {
		return ErrNotFound
	}
	m.sessions[sess.Id] = sess
	return nil
}

func (m *MemoryChatRepository) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *MemoryChatRepository) ClearSessions() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]Session)
	return nil
}

// Sessions returns the persisted sessions of a room.
func (m *MemoryChatRepository) Sessions(roomName string) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, sess := range m.sessions {
		if sess.RoomName == roomName {
			out = append(out, sess)
		}
	}
	return out
}

func (m *MemoryChatRepository) CreateMessage(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[msg.RoomName]; !ok {
		return ErrNotFound
	}
	m.messages[msg.RoomName] = append(m.messages[msg.RoomName], msg)
	return nil
}

// CountMessages is not part of ChatRepository; tests use it to check what
// was persisted.
func (m *MemoryChatRepository) CountMessages(roomName string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.messages[roomName]), nil
}

func (m *MemoryChatRepository) GetMessages(roomName string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = defaultMessageLimit
	}

	all := m.messages[roomName]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}
