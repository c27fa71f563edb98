package database

import "time"

type Room struct {
	Name      string
	CreatedAt time.Time
}

type Session struct {
	Id       string
	RoomName string
	Email    string
	Username string
	JoinedAt time.Time
}

type Message struct {
	Id             string
	RoomName       string
	SenderEmail    string
	SenderUsername string
	Text           string
	CreatedAt      time.Time
}
