package server

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewChatServer(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("ClearSessions").Return(nil).Once()
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", stats.NumActiveClients).Once()
	su.On("RegisterMetric", stats.NumLoadedRooms).Once()
	su.On("RegisterMetric", stats.NumJoinedSessions).Once()
	su.On("RegisterMetric", stats.NumMessages).Once()

	cs, err := NewChatServer(testutil.TestLogger(t), db, newTestFilter(t), su, Options{})
	require.NoError(t, err)

	assert.Equal(t, defaultIdleTimeout, cs.opts.IdleTimeout, "expected idle timeout default")
	assert.Equal(t, defaultBacklogLimit, cs.opts.BacklogLimit, "expected backlog limit default")
	assert.Equal(t, int64(defaultMaxMessageSize), cs.opts.MaxMessageSize, "expected max message size default")
	assert.NotNil(t, cs.clients)
	assert.NotNil(t, cs.rooms)
	db.AssertExpectations(t)
	su.AssertExpectations(t)
}

func TestNewChatServerClearSessionsError(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("ClearSessions").Return(errors.New("db down"))

	cs, err := NewChatServer(testutil.TestLogger(t), db, newTestFilter(t), newMockStats(), Options{})
	assert.Nil(t, cs)
	assert.ErrorContains(t, err, "clear sessions: db down")
}

func TestShutdown(t *testing.T) {
	t.Run("stops rooms and clients", func(t *testing.T) {
		db := database.NewMemoryChatRepository()
		cs, err := NewChatServer(testutil.TestLogger(t), db, newTestFilter(t), newMockStats(), Options{})
		require.NoError(t, err)
		go cs.Run()

		c := newTestClient(t, cs)
		joinRoom(t, cs, c, "alice@example.com", "alice", "css")
		r, _ := cs.FindRoom("css")

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))

		select {
		case <-r.done:
		default:
			t.Fatal("expected room to be stopped")
		}
		select {
		case <-c.stop:
		default:
			t.Fatal("expected client to be stopped")
		}
		_, ok := cs.FindRoom("css")
		assert.False(t, ok, "expected room to be unloaded")
		assert.Empty(t, db.Sessions("css"), "expected sessions to be removed")

		err = cs.Join(context.Background(), newTestClient(t, cs), Join{Email: "bob@example.com", Username: "bob", Room: "css"})
		assert.ErrorIs(t, err, ErrUnavailable, "expected joins to fail after shutdown")
		assert.NoError(t, cs.Shutdown(ctx), "expected second shutdown to return")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs, err := NewChatServer(testutil.TestLogger(t), database.NewMemoryChatRepository(), newTestFilter(t), newMockStats(), Options{})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, cs.Shutdown(ctx), context.DeadlineExceeded)
	})
}

func TestFindRoom(t *testing.T) {
	cs, _ := newMemoryChatServer(t)
	c := newTestClient(t, cs)
	joinRoom(t, cs, c, "alice@example.com", "alice", "JavaScript")

	r, ok := cs.FindRoom("  JAVASCRIPT ")
	require.True(t, ok, "expected normalized lookup to find the room")
	assert.Equal(t, "javascript", r.Name())

	_, ok = cs.FindRoom("python")
	assert.False(t, ok)
}

func TestCheckUserAccess(t *testing.T) {
	cs, _ := newMemoryChatServer(t)
	c := newTestClient(t, cs)
	joinRoom(t, cs, c, "alice@example.com", "alice", "css")

	tcases := []struct {
		name     string
		email    string
		username string
		room     string
		expected AccessResult
	}{
		{
			name:     "room not loaded",
			email:    "alice@example.com",
			username: "alice",
			room:     "html",
			expected: AccessResult{IsAllowed: true, DuplicateFields: []string{}},
		},
		{
			name:     "free identity",
			email:    "bob@example.com",
			username: "bob",
			room:     "css",
			expected: AccessResult{IsAllowed: true, DuplicateFields: []string{}},
		},
		{
			name:     "duplicate email",
			email:    " ALICE@example.com",
			username: "bob",
			room:     "CSS",
			expected: AccessResult{IsAllowed: false, DuplicateFields: []string{"email"}},
		},
		{
			name:     "duplicate username",
			email:    "bob@example.com",
			username: "ALICE",
			room:     "css",
			expected: AccessResult{IsAllowed: false, DuplicateFields: []string{"username"}},
		},
		{
			name:     "duplicate both",
			email:    "alice@example.com",
			username: "alice",
			room:     "css",
			expected: AccessResult{IsAllowed: false, DuplicateFields: []string{"email", "username"}},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, cs.CheckUserAccess(tc.email, tc.username, tc.room))
		})
	}
}

func TestCheckUserAccessIgnoresClosedSessions(t *testing.T) {
	cs, _ := newMemoryChatServer(t)
	c := newTestClient(t, cs)
	joinRoom(t, cs, c, "alice@example.com", "alice", "css")

	c.closeSession()

	res := cs.CheckUserAccess("alice@example.com", "alice", "css")
	assert.True(t, res.IsAllowed, "expected closed session to be ignored")
}

func TestMessages(t *testing.T) {
	cs, _ := newMemoryChatServer(t)

	_, err := cs.Messages("nowhere", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	c := newTestClient(t, cs)
	joinRoom(t, cs, c, "alice@example.com", "alice", "css")
	for _, text := range []string{"one", "two", "three"} {
		_, err := cs.SendMessage(context.Background(), c, text)
		require.NoError(t, err)
	}

	msgs, err := cs.Messages("CSS", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "expected limit to apply")
	assert.Equal(t, "two", msgs[0].Text)
	assert.Equal(t, "three", msgs[1].Text)
	assert.Equal(t, "css", msgs[1].Room)
}

func TestRooms(t *testing.T) {
	cs, db := newMemoryChatServer(t)

	rooms, err := cs.Rooms()
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = db.CreateRoom("archive")
	require.NoError(t, err)
	c := newTestClient(t, cs)
	joinRoom(t, cs, c, "alice@example.com", "alice", "css")

	rooms, err = cs.Rooms()
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	assert.Equal(t, "archive", rooms[0].Name, "expected oldest room first")
	assert.Empty(t, rooms[0].Users, "expected unloaded room to have no users")
	assert.NotNil(t, rooms[0].Users)
	assert.Equal(t, "css", rooms[1].Name)
	require.Len(t, rooms[1].Users, 1)
	assert.Equal(t, "alice", rooms[1].Users[0].Username)
	assert.False(t, rooms[1].CreatedAt.IsZero())
}

func TestRoomsUpstreamError(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("ClearSessions").Return(nil)
	db.On("ListRooms").Return([]database.Room(nil), errors.New("db down"))
	cs := newTestChatServer(t, db, Options{})

	_, err := cs.Rooms()

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "list rooms", uerr.Op)
}

func TestIdleRoomWithoutHistoryIsDeleted(t *testing.T) {
	db := database.NewMemoryChatRepository()
	cs := newTestChatServer(t, db, Options{IdleTimeout: 20 * time.Millisecond})
	c := newTestClient(t, cs)

	joinRoom(t, cs, c, "alice@example.com", "alice", "empty")
	require.NoError(t, cs.Leave(context.Background(), c))

	assert.Eventually(t, func() bool {
		_, loaded := cs.FindRoom("empty")
		_, err := db.GetRoom("empty")
		return !loaded && errors.Is(err, database.ErrNotFound) && len(activeOrder(cs)) == 0
	}, eventTimeout, 10*time.Millisecond, "expected empty room to be unloaded, deleted and forgotten")
}

func TestIdleRoomWithHistoryIsRetained(t *testing.T) {
	db := database.NewMemoryChatRepository()
	cs := newTestChatServer(t, db, Options{IdleTimeout: 20 * time.Millisecond})
	c := newTestClient(t, cs)

	joinRoom(t, cs, c, "alice@example.com", "alice", "history")
	_, err := cs.SendMessage(context.Background(), c, "Hello!")
	require.NoError(t, err)
	cs.Disconnect(c)

	assert.Eventually(t, func() bool {
		_, loaded := cs.FindRoom("history")
		return !loaded
	}, eventTimeout, 10*time.Millisecond, "expected idle room to be unloaded")

	_, err = db.GetRoom("history")
	assert.NoError(t, err, "expected room with history to be retained")
	msgs, err := cs.Messages("history", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	// reloading replays the persisted history
	again := newTestClient(t, cs)
	joinRoom(t, cs, again, "alice@example.com", "alice", "history")
	backlog := waitFor(t, again, isBacklog).Notification.Backlog
	require.Len(t, backlog.Messages, 1, "expected persisted history to be replayed after reload")
	assert.Equal(t, "Hello!", backlog.Messages[0].Text)
}

func TestOccupiedRoomStaysLoaded(t *testing.T) {
	db := database.NewMemoryChatRepository()
	cs := newTestChatServer(t, db, Options{IdleTimeout: 20 * time.Millisecond})
	c := newTestClient(t, cs)
	joinRoom(t, cs, c, "alice@example.com", "alice", "busy")

	time.Sleep(100 * time.Millisecond)

	_, ok := cs.FindRoom("busy")
	assert.True(t, ok, "expected occupied room to stay loaded")
}

func TestUnloadRoomRefusedWhenOccupied(t *testing.T) {
	cs, _ := newMemoryChatServer(t)
	c := newTestClient(t, cs)
	joinRoom(t, cs, c, "alice@example.com", "alice", "css")
	r, _ := cs.FindRoom("css")

	// an idle notice that raced a join must not unload the room
	cs.idleChan <- "css"

	assert.Never(t, func() bool {
		select {
		case <-r.done:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond, "expected room to keep running")
	_, ok := cs.FindRoom("css")
	assert.True(t, ok)
}

func TestJoinUpstreamErrors(t *testing.T) {
	t.Run("create room", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("ClearSessions").Return(nil)
		db.On("CreateRoom", "css").Return(database.Room{}, errors.New("db down"))
		cs := newTestChatServer(t, db, Options{})
		c := newTestClient(t, cs)

		err := cs.Join(context.Background(), c, Join{Email: "alice@example.com", Username: "alice", Room: "css"})

		var uerr *UpstreamError
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, "create room", uerr.Op)
		assert.Equal(t, StateUnjoined, c.State())
	})

	t.Run("create session", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("ClearSessions").Return(nil)
		db.On("CreateRoom", "css").Return(database.Room{Name: "css", CreatedAt: time.Now()}, nil)
		db.On("CreateSession", mock.AnythingOfType("database.Session")).Return(errors.New("db down"))
		cs := newTestChatServer(t, db, Options{})
		c := newTestClient(t, cs)

		err := cs.Join(context.Background(), c, Join{Email: "alice@example.com", Username: "alice", Room: "css"})

		var uerr *UpstreamError
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, "create session", uerr.Op)
		assert.Equal(t, StateUnjoined, c.State(), "expected failed join to be undone")
		assert.Empty(t, roomUsers(t, cs, "css"))
		assert.Empty(t, cs.ActiveRooms())
	})
}

func TestSendMessageUpstreamError(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("ClearSessions").Return(nil)
	db.On("CreateRoom", "css").Return(database.Room{Name: "css", CreatedAt: time.Now()}, nil)
	db.On("CreateSession", mock.AnythingOfType("database.Session")).Return(nil)
	db.On("DeleteSession", mock.Anything).Return(nil).Maybe()
	db.On("GetMessages", "css", defaultBacklogLimit).Return([]database.Message{}, nil)
	db.On("CreateMessage", mock.AnythingOfType("database.Message")).Return(errors.New("db down"))
	cs := newTestChatServer(t, db, Options{})

	alice := newTestClient(t, cs)
	bob := newTestClient(t, cs)
	joinRoom(t, cs, alice, "alice@example.com", "alice", "css")
	joinRoom(t, cs, bob, "bob@example.com", "bob", "css")

	_, err := cs.SendMessage(context.Background(), alice, "Hello!")

	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "create message", uerr.Op)
	assertNever(t, bob, 100*time.Millisecond, isChat)
}

func TestRegisterClient(t *testing.T) {
	cs, _ := newMemoryChatServer(t)
	member := newTestClient(t, cs)
	joinRoom(t, cs, member, "alice@example.com", "alice", "css")

	c := newTestClient(t, cs)
	msg := waitFor(t, c, isActiveRooms)
	assert.Equal(t, []string{"css"}, msg.Notification.ActiveRooms.Rooms, "expected new connection to receive the room list")

	cs.clientsLock.RLock()
	_, ok := cs.clients[c]
	cs.clientsLock.RUnlock()
	assert.True(t, ok, "expected client to be registered")

	cs.Disconnect(c)
	cs.clientsLock.RLock()
	_, ok = cs.clients[c]
	cs.clientsLock.RUnlock()
	assert.False(t, ok, "expected client to be deregistered")
}

func activeOrder(cs *ChatServer) []string {
	cs.active.mu.Lock()
	defer cs.active.mu.Unlock()

	return slices.Clone(cs.active.order)
}
