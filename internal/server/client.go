package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/rs/zerolog"
)

const (
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingInterval          = (pongWait * 9) / 10
	requestTimeout        = 10 * time.Second
	defaultMaxMessageSize = 4096
	sendBufferSize        = 256
)

type Client struct {
	id        string
	conn      *websocket.Conn
	cs        *ChatServer
	log       zerolog.Logger
	send      chan *ServerMessage
	limiter   *rateLimiter
	stateLock sync.Mutex
	state     SessionState
	room      *Room
	user      types.User
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		cs:      cs,
		log:     l.With().Str("session_id", id).Logger(),
		send:    make(chan *ServerMessage, sendBufferSize),
		limiter: newRateLimiter(cs.opts.RateLimitBurst, cs.opts.RateLimitInterval),
		stop:    make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(c.cs.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(ErrInvalidMessage(0))
			continue
		}

		msg.Timestamp = Now()
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.handleJoin(msg)
	case msg.SendMessage != nil:
		c.handleSendMessage(msg)
	case msg.Leave != nil:
		c.handleLeave(msg)
	case msg.Typing != nil:
		c.cs.Typing(c, msg.Typing.Typing)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) handleJoin(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := c.cs.Join(ctx, c, *msg.Join)
	if err == nil {
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	c.log.Debug().Err(err).Msg("join failed")
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.queueMessage(ErrValidation(msg.Id, verr))
	case errors.Is(err, ErrAlreadyJoined):
		c.queueMessage(ErrAlreadyJoinedResp(msg.Id))
	case errors.Is(err, ErrConnectionClosed):
		// nobody left to answer
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	default:
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

// handleSendMessage acknowledges accepted and filtered messages the same way,
// so a sender cannot tell that a message was rejected.
func (c *Client) handleSendMessage(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	_, err := c.cs.SendMessage(ctx, c, msg.SendMessage.Text)
	switch {
	case err == nil, errors.Is(err, ErrMessageRejected):
		c.queueMessage(NoErrAccepted(msg.Id))
	case errors.Is(err, ErrNotJoined):
		c.queueMessage(ErrNotJoinedResp(msg.Id))
	case errors.Is(err, ErrRateLimited):
		c.queueMessage(ErrTooManyRequests(msg.Id))
	default:
		c.log.Error().Err(err).Msg("send message")
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

func (c *Client) handleLeave(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := c.cs.Leave(ctx, c); err != nil {
		c.queueMessage(ErrNotJoinedResp(msg.Id))
		return
	}
	c.queueMessage(NoErrOK(msg.Id, nil))
}

// queueMessage never blocks; a full send buffer drops msg.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.cs.Disconnect(c)
	c.stopClient()
}
