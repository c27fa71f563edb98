package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join        *Join        `json:"join,omitempty"`
	SendMessage *SendMessage `json:"send_message,omitempty"`
	Leave       *Leave       `json:"leave,omitempty"`
	Typing      *Typing      `json:"typing,omitempty"`
}

type Join struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required"`
	Room     string `json:"room" validate:"required"`
}

type SendMessage struct {
	Text string `json:"text"`
}

type Leave struct{}

type Typing struct {
	Typing bool `json:"typing"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	Admin       *types.Message `json:"admin,omitempty"`
	Roster      *Roster        `json:"roster,omitempty"`
	ActiveRooms *ActiveRooms   `json:"active_rooms,omitempty"`
	Backlog     *Backlog       `json:"backlog,omitempty"`
	Typing      *TypingNotice  `json:"typing,omitempty"`
}

type Roster struct {
	Room  string       `json:"room"`
	Users []types.User `json:"users"`
}

type ActiveRooms struct {
	Rooms []string `json:"rooms"`
}

type Backlog struct {
	Room     string          `json:"room"`
	Messages []types.Message `json:"messages"`
}

type TypingNotice struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

func newResponse(id, code int, errMsg string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return newResponse(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "", nil)
}

func ErrValidation(id int, verr *ValidationError) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, verr.Error(), map[string]any{
		"kinds":            verr.Kinds,
		"fields":           verr.Fields,
		"duplicate_fields": verr.DuplicateFields,
	})
}

func ErrAlreadyJoinedResp(id int) *ServerMessage {
	return newResponse(id, http.StatusConflict, "already joined a room", nil)
}

func ErrNotJoinedResp(id int) *ServerMessage {
	return newResponse(id, http.StatusForbidden, "not joined to a room", nil)
}

func ErrTooManyRequests(id int) *ServerMessage {
	return newResponse(id, http.StatusTooManyRequests, "too many requests", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, http.StatusBadRequest, "invalid message format", nil)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
