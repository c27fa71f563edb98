package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/filter"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 2 * time.Second

func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestFilter(t *testing.T) filter.TextFilter {
	f, err := filter.New(filter.PolicyWord, filter.DefaultWords)
	require.NoError(t, err, "expected filter to build")
	return f
}

// newTestChatServer starts a chat server backed by db and shuts it down
// when the test ends.
func newTestChatServer(t *testing.T, db database.ChatRepository, opts Options) *ChatServer {
	t.Helper()

	cs, err := NewChatServer(testutil.TestLogger(t), db, newTestFilter(t), newMockStats(), opts)
	require.NoError(t, err, "expected chat server to be created")

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return cs
}

func newMemoryChatServer(t *testing.T) (*ChatServer, *database.MemoryChatRepository) {
	db := database.NewMemoryChatRepository()
	return newTestChatServer(t, db, Options{}), db
}

// newTestClient returns a registered client without a websocket; tests read
// its send channel directly.
func newTestClient(t *testing.T, cs *ChatServer) *Client {
	c := NewClient(nil, cs, testutil.TestLogger(t))
	cs.RegisterClient(c)
	return c
}

func joinRoom(t *testing.T, cs *ChatServer, c *Client, email, username, room string) {
	t.Helper()
	err := cs.Join(context.Background(), c, Join{Email: email, Username: username, Room: room})
	require.NoError(t, err, "expected join to succeed")
}

// waitFor reads c's send channel until a message matches pred.
func waitFor(t *testing.T, c *Client, pred func(*ServerMessage) bool) *ServerMessage {
	t.Helper()

	timeout := time.After(eventTimeout)
	for {
		select {
		case msg := <-c.send:
			if pred(msg) {
				return msg
			}
		case <-timeout:
			t.Fatal("timed out waiting for message")
			return nil
		}
	}
}

// assertNever fails if a message matching pred arrives on c within wait.
func assertNever(t *testing.T, c *Client, wait time.Duration, pred func(*ServerMessage) bool) {
	t.Helper()

	timeout := time.After(wait)
	for {
		select {
		case msg := <-c.send:
			if pred(msg) {
				t.Fatalf("unexpected message: %+v", msg)
			}
		case <-timeout:
			return
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func isChat(msg *ServerMessage) bool {
	return msg.Message != nil
}

func isAdmin(text string) func(*ServerMessage) bool {
	return func(msg *ServerMessage) bool {
		return msg.Notification != nil && msg.Notification.Admin != nil && msg.Notification.Admin.Text == text
	}
}

func isRoster(msg *ServerMessage) bool {
	return msg.Notification != nil && msg.Notification.Roster != nil
}

func isBacklog(msg *ServerMessage) bool {
	return msg.Notification != nil && msg.Notification.Backlog != nil
}

func isActiveRooms(msg *ServerMessage) bool {
	return msg.Notification != nil && msg.Notification.ActiveRooms != nil
}

func isTyping(msg *ServerMessage) bool {
	return msg.Notification != nil && msg.Notification.Typing != nil
}

func roomUsers(t *testing.T, cs *ChatServer, name string) []string {
	t.Helper()

	r, ok := cs.FindRoom(name)
	if !ok {
		return nil
	}

	var names []string
	for _, u := range r.Users() {
		names = append(names, u.Username)
	}
	return names
}
