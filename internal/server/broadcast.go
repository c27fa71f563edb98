package server

import (
	"github.com/npezzotti/go-roomchat/internal/types"
)

// broadcast queues msg to every member except msg.SkipClient. It runs on the
// room loop, so members receive room events in the order they happened.
func (r *Room) broadcast(msg *ServerMessage) {
	msg.Timestamp = Now()

	r.log.Trace().Interface("message", msg).Msg("broadcast")
	for _, m := range r.members {
		if m.client == msg.SkipClient {
			continue
		}

		m.client.queueMessage(msg)
	}
}

func (r *Room) broadcastRoster() {
	r.broadcast(rosterNotification(r.name, r.Users()))
}

// broadcastUnjoined queues msg to every registered connection that is not in
// a room.
func (cs *ChatServer) broadcastUnjoined(msg *ServerMessage) {
	msg.Timestamp = Now()

	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	for c := range cs.clients {
		if c.State() != StateUnjoined {
			continue
		}

		c.queueMessage(msg)
	}
}

func adminNotification(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{Admin: &msg},
	}
}

func rosterNotification(room string, users []types.User) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Roster: &Roster{Room: room, Users: users},
		},
	}
}

func backlogNotification(room string, msgs []types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Backlog: &Backlog{Room: room, Messages: msgs},
		},
	}
}

func activeRoomsNotification(names []string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			ActiveRooms: &ActiveRooms{Rooms: names},
		},
	}
}
