package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/filter"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/rs/zerolog"
)

const (
	defaultIdleTimeout  = 5 * time.Minute
	defaultBacklogLimit = 50
	defaultRateBurst    = 5
	maxJoinAttempts     = 3
)

type Options struct {
	IdleTimeout       time.Duration
	BacklogLimit      int
	MaxMessageSize    int64
	RateLimitBurst    int
	RateLimitInterval time.Duration
}

type loadReq struct {
	name  string
	reply chan loadResult
}

type loadResult struct {
	room *Room
	err  error
}

type ChatServer struct {
	log         zerolog.Logger
	db          database.ChatRepository
	filter      filter.TextFilter
	stats       stats.StatsProvider
	opts        Options
	clients     map[*Client]struct{}
	clientsLock sync.RWMutex
	rooms       map[string]*Room
	roomsLock   sync.RWMutex
	active      *activeRooms
	loadChan    chan *loadReq
	idleChan    chan string
	stop        chan chan struct{}
	done        chan struct{}
}

func NewChatServer(logger zerolog.Logger, db database.ChatRepository, f filter.TextFilter, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.BacklogLimit <= 0 {
		opts.BacklogLimit = defaultBacklogLimit
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateBurst
	}
	if opts.RateLimitInterval <= 0 {
		opts.RateLimitInterval = time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}

	// connections do not survive a restart
	if err := db.ClearSessions(); err != nil {
		return nil, fmt.Errorf("clear sessions: %w", err)
	}

	for _, m := range []string{
		stats.NumActiveClients,
		stats.NumLoadedRooms,
		stats.NumJoinedSessions,
		stats.NumMessages,
	} {
		su.RegisterMetric(m)
	}

	return &ChatServer{
		log:      logger,
		db:       db,
		filter:   f,
		stats:    su,
		opts:     opts,
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]*Room),
		active:   newActiveRooms(),
		loadChan: make(chan *loadReq),
		idleChan: make(chan string, 64),
		stop:     make(chan chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case req := <-cs.loadChan:
			cs.handleLoad(req)
		case name := <-cs.idleChan:
			cs.unloadRoom(name)
		case done := <-cs.stop:
			cs.handleShutdown()
			close(done)
			return
		}
	}
}

func (cs *ChatServer) handleLoad(req *loadReq) {
	if r := cs.getRoom(req.name); r != nil {
		req.reply <- loadResult{room: r}
		return
	}

	dbRoom, err := cs.db.CreateRoom(req.name)
	if err != nil {
		cs.log.Error().Err(err).Str("room", req.name).Msg("CreateRoom")
		req.reply <- loadResult{err: &UpstreamError{Op: "create room", Err: err}}
		return
	}

	r := newRoom(cs, dbRoom)
	cs.addRoom(r)
	cs.stats.Incr(stats.NumLoadedRooms)
	go r.start()

	req.reply <- loadResult{room: r}
}

// unloadRoom stops an idle room. A room that was never used for chatting is
// deleted; a room with history keeps its record.
func (cs *ChatServer) unloadRoom(name string) {
	r := cs.getRoom(name)
	if r == nil {
		return
	}

	reply := make(chan bool, 1)
	select {
	case r.exit <- exitReq{reply: reply}:
	case <-r.done:
	}

	var exited bool
	select {
	case exited = <-reply:
	case <-r.done:
		exited = true
	}
	if !exited {
		return
	}
	<-r.done

	cs.removeRoom(name)
	cs.stats.Decr(stats.NumLoadedRooms)

	deleted, err := cs.db.DeleteRoomIfEmpty(name)
	if err != nil {
		cs.log.Error().Err(err).Str("room", name).Msg("DeleteRoomIfEmpty")
		return
	}

	if deleted {
		cs.active.forget(name)
		cs.log.Info().Str("room", name).Msg("deleted empty room")
	} else {
		cs.log.Info().Str("room", name).Msg("unloaded room, history retained")
	}
}

func (cs *ChatServer) handleShutdown() {
	cs.log.Info().Msg("shutting down chat server")

	cs.clientsLock.RLock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.RUnlock()

	cs.roomsLock.RLock()
	rooms := make([]*Room, 0, len(cs.rooms))
	for _, r := range cs.rooms {
		rooms = append(rooms, r)
	}
	cs.roomsLock.RUnlock()

	for _, r := range rooms {
		cs.log.Debug().Str("room", r.name).Msg("shutting down room")
		reply := make(chan bool, 1)
		select {
		case r.exit <- exitReq{force: true, reply: reply}:
		case <-r.done:
		}
		<-r.done
		cs.removeRoom(r.name)
		cs.stats.Decr(stats.NumLoadedRooms)
	}
}

// Shutdown stops every client and room and waits for the run loop to exit.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case cs.stop <- done:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadRoom returns the loaded room for name, creating it if needed.
func (cs *ChatServer) loadRoom(ctx context.Context, name string) (*Room, error) {
	req := &loadReq{name: name, reply: make(chan loadResult, 1)}
	select {
	case cs.loadChan <- req:
	case <-cs.done:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res := <-req.reply
	return res.room, res.err
}

// FindRoom looks up a loaded room.
func (cs *ChatServer) FindRoom(name string) (*Room, bool) {
	r := cs.getRoom(NormalizeRoomName(name))
	return r, r != nil
}

// CheckUserAccess reports whether email and username are free in room. A
// room that is not loaded has no members, so any pair is allowed.
func (cs *ChatServer) CheckUserAccess(email, username, room string) AccessResult {
	r, ok := cs.FindRoom(room)
	if !ok {
		return AccessResult{IsAllowed: true, DuplicateFields: []string{}}
	}
	return r.CheckUserAccess(NormalizeEmail(email), username, "")
}

// ActiveRooms returns the names of rooms with members, in first-activation
// order.
func (cs *ChatServer) ActiveRooms() []string {
	return cs.active.names()
}

// Messages returns the persisted history of a room.
func (cs *ChatServer) Messages(name string, limit int) ([]types.Message, error) {
	name = NormalizeRoomName(name)
	if _, err := cs.db.GetRoom(name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &UpstreamError{Op: "get room", Err: err}
	}

	dbMsgs, err := cs.db.GetMessages(name, limit)
	if err != nil {
		return nil, &UpstreamError{Op: "get messages", Err: err}
	}

	msgs := make([]types.Message, len(dbMsgs))
	for i, m := range dbMsgs {
		msgs[i] = toMessage(m)
	}
	return msgs, nil
}

// Rooms lists every persisted room, oldest first. Members are filled in for
// rooms that are loaded.
func (cs *ChatServer) Rooms() ([]types.Room, error) {
	dbRooms, err := cs.db.ListRooms()
	if err != nil {
		return nil, &UpstreamError{Op: "list rooms", Err: err}
	}

	rooms := make([]types.Room, len(dbRooms))
	for i, dr := range dbRooms {
		users := []types.User{}
		if r := cs.getRoom(dr.Name); r != nil {
			users = r.Users()
		}
		rooms[i] = types.Room{Name: dr.Name, Users: users, CreatedAt: dr.CreatedAt}
	}
	return rooms, nil
}

// RegisterClient adds a connection and sends it the current active rooms.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.active.view(func(names []string) {
		cs.clientsLock.Lock()
		cs.clients[c] = struct{}{}
		cs.clientsLock.Unlock()

		c.queueMessage(activeRoomsNotification(names))
	})

	cs.stats.Incr(stats.NumActiveClients)
	c.log.Debug().Msg("registered connection")
}

func (cs *ChatServer) deregisterClient(c *Client) {
	cs.clientsLock.Lock()
	_, ok := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	if ok {
		cs.stats.Decr(stats.NumActiveClients)
		c.log.Debug().Msg("deregistered connection")
	}
}

func (cs *ChatServer) setRoomActive(name string, active bool) {
	cs.active.set(name, active, func(names []string) {
		cs.broadcastUnjoined(activeRoomsNotification(names))
	})
}

func (cs *ChatServer) getRoom(name string) *Room {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	return cs.rooms[name]
}

func (cs *ChatServer) addRoom(r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	cs.rooms[r.name] = r
	cs.log.Debug().Str("room", r.name).Int("loaded", len(cs.rooms)).Msg("loaded room")
}

func (cs *ChatServer) removeRoom(name string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	delete(cs.rooms, name)
	cs.log.Debug().Str("room", name).Int("loaded", len(cs.rooms)).Msg("removed room")
}
