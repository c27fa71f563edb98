package types

import (
	"time"
)

const AdminUsername = "Admin"

type Sender struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username"`
}

type User struct {
	SessionId string    `json:"session_id"`
	Username  string    `json:"username"`
	Email     string    `json:"-"`
	JoinedAt  time.Time `json:"joined_at,omitempty"`
}

type Room struct {
	Name      string    `json:"name"`
	Users     []User    `json:"users"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is both a persisted chat message and a synthetic admin
// notification. Admin notifications carry no id.
type Message struct {
	Id        string    `json:"id,omitempty"`
	Room      string    `json:"room"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m Message) IsAdmin() bool {
	return m.Id == "" && m.Sender.Username == AdminUsername && m.Sender.Email == ""
}

func NewAdminMessage(room, text string, at time.Time) Message {
	return Message{
		Room:      room,
		Sender:    Sender{Username: AdminUsername},
		Text:      text,
		CreatedAt: at,
	}
}
