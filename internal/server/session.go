package server

import (
	"context"
	"errors"

	"github.com/npezzotti/go-roomchat/internal/types"
)

type SessionState int

const (
	StateUnjoined SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Join validates req and adds the client to the requested room, creating
// the room if needed.
func (cs *ChatServer) Join(ctx context.Context, c *Client, req Join) error {
	req, err := ValidateJoin(req)
	if err != nil {
		return err
	}

	switch c.State() {
	case StateJoined:
		return ErrAlreadyJoined
	case StateClosed:
		return ErrConnectionClosed
	}

	user := types.User{
		SessionId: c.id,
		Email:     req.Email,
		Username:  req.Username,
		JoinedAt:  Now(),
	}

	// a room may exit between being loaded and receiving the join
	for range maxJoinAttempts {
		r, err := cs.loadRoom(ctx, req.Room)
		if err != nil {
			return err
		}

		err = r.join(c, user)
		if errors.Is(err, errRoomClosed) {
			c.log.Debug().Str("room", req.Room).Msg("room closed during join, retrying")
			continue
		}
		return err
	}

	return ErrUnavailable
}

// Leave returns a joined client to the unjoined state.
func (cs *ChatServer) Leave(ctx context.Context, c *Client) error {
	r, ok := c.leaveRoom()
	if !ok {
		return ErrNotJoined
	}

	r.leave(c)

	// back on the entry screen, the client needs the current room list
	cs.active.view(func(names []string) {
		if c.State() == StateUnjoined {
			c.queueMessage(activeRoomsNotification(names))
		}
	})

	return nil
}

// Disconnect closes the client's session. It is safe to call more than once.
func (cs *ChatServer) Disconnect(c *Client) {
	prev, r := c.closeSession()
	cs.deregisterClient(c)

	if prev == StateJoined && r != nil {
		r.leave(c)
	}
}

// SendMessage records text in the client's room and broadcasts it.
func (cs *ChatServer) SendMessage(ctx context.Context, c *Client, text string) (types.Message, error) {
	r := c.currentRoom()
	if r == nil {
		return types.Message{}, ErrNotJoined
	}

	if c.limiter != nil && !c.limiter.allow() {
		return types.Message{}, ErrRateLimited
	}

	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	return r.publish(c, text)
}

// Typing tells the rest of the client's room that the client started or
// stopped typing.
func (cs *ChatServer) Typing(c *Client, typing bool) {
	if r := c.currentRoom(); r != nil {
		r.typing(c, typing)
	}
}

func (c *Client) State() SessionState {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.state
}

func (c *Client) isClosed() bool {
	return c.State() == StateClosed
}

func (c *Client) currentRoom() *Room {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.state != StateJoined {
		return nil
	}
	return c.room
}

// bind moves an unjoined client into r.
func (c *Client) bind(r *Room, u types.User) error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	switch c.state {
	case StateClosed:
		return ErrConnectionClosed
	case StateJoined:
		return ErrAlreadyJoined
	}

	c.state = StateJoined
	c.room = r
	c.user = u
	return nil
}

// unbind undoes bind when the join could not complete.
func (c *Client) unbind(r *Room) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.room != r {
		return
	}
	if c.state == StateJoined {
		c.state = StateUnjoined
	}
	c.room = nil
	c.user = types.User{}
}

func (c *Client) leaveRoom() (*Room, bool) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.state != StateJoined {
		return nil, false
	}

	r := c.room
	c.state = StateUnjoined
	c.room = nil
	c.user = types.User{}
	return r, true
}

func (c *Client) closeSession() (SessionState, *Room) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	prev, r := c.state, c.room
	c.state = StateClosed
	c.room = nil
	return prev, r
}
