package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomchat/internal/server"
	"github.com/npezzotti/go-roomchat/internal/types"
)

type ValidateUserResponse struct {
	IsValid         bool     `json:"isValid"`
	DuplicateFields []string `json:"duplicateFields"`
}

type ActiveRoomsResponse struct {
	Rooms []string `json:"rooms"`
}

type RoomsResponse struct {
	Rooms []types.Room `json:"rooms"`
}

type MessagesResponse struct {
	Room     string          `json:"room"`
	Messages []types.Message `json:"messages"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Error().Err(err).Msg("health check: database ping")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// validateUser lets a client check a join before opening a websocket.
func (s *GoChatApp) validateUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	join, err := server.ValidateJoin(server.Join{
		Email:    q.Get("email"),
		Username: q.Get("username"),
		Room:     q.Get("room"),
	})
	if err != nil {
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	access := s.cs.CheckUserAccess(join.Email, join.Username, join.Room)
	s.writeJson(w, http.StatusOK, ValidateUserResponse{
		IsValid:         access.IsAllowed,
		DuplicateFields: access.DuplicateFields,
	})
}

func (s *GoChatApp) getActiveRooms(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, ActiveRoomsResponse{Rooms: s.cs.ActiveRooms()})
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.cs.Rooms()
	if err != nil {
		s.log.Error().Err(err).Msg("list rooms")
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, RoomsResponse{Rooms: rooms})
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	name := server.NormalizeRoomName(r.PathValue("name"))
	if name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	msgs, err := s.cs.Messages(name, limit)
	if err != nil {
		errResp := errorFor(err)
		if !errors.Is(err, server.ErrNotFound) {
			s.log.Error().Err(err).Str("room", name).Msg("get messages")
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, MessagesResponse{Room: name, Messages: msgs})
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading connection")
		return
	}

	client := server.NewClient(conn, s.cs, s.log)
	s.cs.RegisterClient(client)

	go client.Write()
	go client.Read()
}
