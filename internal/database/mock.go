package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateRoom(name string) (Room, error) {
	args := m.Called(name)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) GetRoom(name string) (Room, error) {
	args := m.Called(name)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockChatRepository) DeleteRoomIfEmpty(name string) (bool, error) {
	args := m.Called(name)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateSession(sess Session) error {
	args := m.Called(sess)
	return args.Error(0)
}
func (m *MockChatRepository) DeleteSession(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) ClearSessions() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockChatRepository) GetMessages(roomName string, limit int) ([]Message, error) {
	args := m.Called(roomName, limit)
	return args.Get(0).([]Message), args.Error(1)
}
