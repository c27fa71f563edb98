package server

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

type joinReq struct {
	client *Client
	user   types.User
	reply  chan error
}

type leaveReq struct {
	client *Client
	done   chan struct{}
}

type publishReq struct {
	client *Client
	text   string
	reply  chan publishResult
}

type publishResult struct {
	msg types.Message
	err error
}

type typingReq struct {
	client *Client
	typing bool
}

type exitReq struct {
	// force makes the room exit even when it still has members.
	force bool
	reply chan bool
}

// AccessResult reports whether an email/username pair may join a room.
type AccessResult struct {
	IsAllowed       bool     `json:"isValid"`
	DuplicateFields []string `json:"duplicateFields"`
}

type member struct {
	client *Client
	user   types.User
}

type Room struct {
	name        string
	createdAt   time.Time
	cs          *ChatServer
	log         zerolog.Logger
	members     []*member
	membersLock sync.RWMutex
	// notices holds recent admin notifications for backlog replay.
	notices      []types.Message
	backlogLimit int
	joinChan     chan *joinReq
	leaveChan    chan *leaveReq
	publishChan  chan *publishReq
	typingChan   chan *typingReq
	// killTimer unloads the room once it has stayed empty for idleTimeout.
	killTimer   *time.Timer
	idleTimeout time.Duration
	exit        chan exitReq
	done        chan struct{}
}

func newRoom(cs *ChatServer, dbRoom database.Room) *Room {
	return &Room{
		name:         dbRoom.Name,
		createdAt:    dbRoom.CreatedAt,
		cs:           cs,
		log:          cs.log.With().Str("room", dbRoom.Name).Logger(),
		backlogLimit: cs.opts.BacklogLimit,
		joinChan:     make(chan *joinReq, 256),
		leaveChan:    make(chan *leaveReq, 256),
		publishChan:  make(chan *publishReq, 256),
		typingChan:   make(chan *typingReq, 256),
		idleTimeout:  cs.opts.IdleTimeout,
		exit:         make(chan exitReq),
		done:         make(chan struct{}),
	}
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) start() {
	defer close(r.done)

	r.log.Info().Msg("starting room")
	// a freshly loaded room is empty until its first join lands
	r.killTimer = time.NewTimer(r.idleTimeout)
	defer r.killTimer.Stop()

	for {
		select {
		case req := <-r.joinChan:
			r.handleJoin(req)
		case req := <-r.leaveChan:
			r.handleLeave(req)
		case req := <-r.publishChan:
			r.handleMessage(req)
		case req := <-r.typingChan:
			r.handleTyping(req)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			if r.handleRoomExit(e) {
				return
			}
		}
	}
}

func (r *Room) handleRoomTimeout() {
	if len(r.members) > 0 {
		return
	}

	r.log.Debug().Msg("room timed out")
	select {
	case r.cs.idleChan <- r.name:
	default:
		r.log.Warn().Msg("idle channel full, restarting kill timer")
		r.killTimer.Reset(r.idleTimeout)
	}
}

// handleRoomExit reports whether the room loop should stop. Without force,
// a room that regained members in the meantime refuses to exit.
func (r *Room) handleRoomExit(e exitReq) bool {
	if !e.force && len(r.members) > 0 {
		r.log.Debug().Int("members", len(r.members)).Msg("room no longer idle, staying loaded")
		e.reply <- false
		return false
	}

	r.log.Info().Msg("room is exiting")
	r.membersLock.Lock()
	for _, m := range r.members {
		r.cs.stats.Decr(stats.NumJoinedSessions)
		if err := r.cs.db.DeleteSession(m.client.id); err != nil {
			r.log.Error().Err(err).Str("session_id", m.client.id).Msg("DeleteSession")
		}
	}
	r.members = nil
	r.membersLock.Unlock()

	e.reply <- true
	return true
}

func (r *Room) handleJoin(req *joinReq) {
	c := req.client

	access := r.checkUserAccess(req.user.Email, req.user.Username, c.id)
	if !access.IsAllowed {
		verr := &ValidationError{DuplicateFields: access.DuplicateFields}
		for _, f := range access.DuplicateFields {
			switch f {
			case FieldEmail:
				verr.add(KindDuplicateEmail, f)
			case FieldUsername:
				verr.add(KindDuplicateUsername, f)
			}
		}
		req.reply <- verr
		return
	}

	r.evictStale()

	if err := c.bind(r, req.user); err != nil {
		req.reply <- err
		return
	}

	err := r.cs.db.CreateSession(database.Session{
		Id:       c.id,
		RoomName: r.name,
		Email:    req.user.Email,
		Username: req.user.Username,
		JoinedAt: req.user.JoinedAt,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("CreateSession")
		c.unbind(r)
		req.reply <- &UpstreamError{Op: "create session", Err: err}
		return
	}

	r.killTimer.Stop()
	r.addMember(&member{client: c, user: req.user})
	r.cs.stats.Incr(stats.NumJoinedSessions)
	r.log.Info().Str("username", req.user.Username).Str("session_id", c.id).Msg("user joined")

	if len(r.members) == 1 {
		r.cs.setRoomActive(r.name, true)
	}

	backlog, err := r.backlog()
	if err != nil {
		r.log.Error().Err(err).Msg("load backlog")
	}
	c.queueMessage(backlogNotification(r.name, backlog))
	c.queueMessage(adminNotification(types.NewAdminMessage(r.name, fmt.Sprintf("Welcome to %s!", r.name), time.Now().UTC())))

	joined := r.recordNotice(fmt.Sprintf("%s has joined!", req.user.Username))
	r.broadcast(&ServerMessage{
		Notification: &Notification{Admin: &joined},
		SkipClient:   c,
	})
	r.broadcastRoster()

	req.reply <- nil
}

func (r *Room) handleLeave(req *leaveReq) {
	defer close(req.done)

	m := r.findMember(req.client)
	if m == nil {
		r.log.Debug().Str("session_id", req.client.id).Msg("leave for session not in room")
		return
	}

	r.removeMember(m)
}

// removeMember drops a member and notifies the rest of the room.
func (r *Room) removeMember(m *member) {
	r.membersLock.Lock()
	r.members = slices.DeleteFunc(r.members, func(o *member) bool { return o == m })
	r.membersLock.Unlock()

	r.cs.stats.Decr(stats.NumJoinedSessions)
	if err := r.cs.db.DeleteSession(m.client.id); err != nil {
		r.log.Error().Err(err).Str("session_id", m.client.id).Msg("DeleteSession")
	}
	r.log.Info().Str("username", m.user.Username).Str("session_id", m.client.id).Msg("user left")

	left := r.recordNotice(fmt.Sprintf("%s has left.", m.user.Username))
	r.broadcast(&ServerMessage{
		Notification: &Notification{Admin: &left},
	})
	r.broadcastRoster()

	if len(r.members) == 0 {
		r.log.Debug().Msg("no members left, starting kill timer")
		r.cs.setRoomActive(r.name, false)
		r.killTimer.Reset(r.idleTimeout)
	}
}

// evictStale removes members whose connection closed before their
// disconnect reached the room.
func (r *Room) evictStale() {
	for _, m := range slices.Clone(r.members) {
		if m.client.isClosed() {
			r.log.Debug().Str("session_id", m.client.id).Msg("evicting stale session")
			r.removeMember(m)
		}
	}
}

func (r *Room) handleMessage(req *publishReq) {
	m := r.findMember(req.client)
	if m == nil {
		req.reply <- publishResult{err: ErrNotJoined}
		return
	}

	text := strings.TrimSpace(req.text)
	if !r.cs.filter.IsClean(text) {
		r.log.Debug().Str("session_id", m.client.id).Msg("message rejected")
		req.reply <- publishResult{err: ErrMessageRejected}
		return
	}

	id, err := shortid.Generate()
	if err != nil {
		req.reply <- publishResult{err: &UpstreamError{Op: "generate message id", Err: err}}
		return
	}

	dbMsg := database.Message{
		Id:             id,
		RoomName:       r.name,
		SenderEmail:    m.user.Email,
		SenderUsername: m.user.Username,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.cs.db.CreateMessage(dbMsg); err != nil {
		r.log.Error().Err(err).Msg("CreateMessage")
		req.reply <- publishResult{err: &UpstreamError{Op: "create message", Err: err}}
		return
	}
	r.cs.stats.Incr(stats.NumMessages)

	msg := toMessage(dbMsg)
	r.broadcast(&ServerMessage{
		Message: &msg,
	})

	req.reply <- publishResult{msg: msg}
}

func (r *Room) handleTyping(req *typingReq) {
	m := r.findMember(req.client)
	if m == nil {
		return
	}

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Typing: &TypingNotice{
				Room:     r.name,
				Username: m.user.Username,
				Typing:   req.typing,
			},
		},
		SkipClient: req.client,
	})
}

// CheckUserAccess reports whether email and username are free in the room.
// Sessions whose connection already closed are ignored, as is excludeSession.
func (r *Room) CheckUserAccess(email, username, excludeSession string) AccessResult {
	r.membersLock.RLock()
	defer r.membersLock.RUnlock()

	return r.checkUserAccess(email, username, excludeSession)
}

func (r *Room) checkUserAccess(email, username, excludeSession string) AccessResult {
	var dupEmail, dupUsername bool
	for _, m := range r.members {
		if m.client.id == excludeSession || m.client.isClosed() {
			continue
		}
		if strings.EqualFold(m.user.Email, email) {
			dupEmail = true
		}
		if strings.EqualFold(m.user.Username, username) {
			dupUsername = true
		}
	}

	res := AccessResult{IsAllowed: true, DuplicateFields: []string{}}
	if dupEmail {
		res.DuplicateFields = append(res.DuplicateFields, FieldEmail)
	}
	if dupUsername {
		res.DuplicateFields = append(res.DuplicateFields, FieldUsername)
	}
	res.IsAllowed = len(res.DuplicateFields) == 0

	return res
}

// Users returns the room's members in join order.
func (r *Room) Users() []types.User {
	r.membersLock.RLock()
	defer r.membersLock.RUnlock()

	users := make([]types.User, len(r.members))
	for i, m := range r.members {
		users[i] = m.user
	}
	return users
}

func (r *Room) addMember(m *member) {
	r.membersLock.Lock()
	defer r.membersLock.Unlock()

	r.members = append(r.members, m)
}

func (r *Room) findMember(c *Client) *member {
	for _, m := range r.members {
		if m.client == c {
			return m
		}
	}
	return nil
}

// recordNotice creates an admin notice and keeps it for backlog replay.
func (r *Room) recordNotice(text string) types.Message {
	notice := types.NewAdminMessage(r.name, text, time.Now().UTC())
	r.notices = append(r.notices, notice)
	if r.backlogLimit > 0 && len(r.notices) > r.backlogLimit {
		r.notices = slices.Delete(r.notices, 0, len(r.notices)-r.backlogLimit)
	}
	return notice
}

// backlog merges persisted messages with recorded admin notices by time.
func (r *Room) backlog() ([]types.Message, error) {
	dbMsgs, err := r.cs.db.GetMessages(r.name, r.backlogLimit)

	msgs := make([]types.Message, 0, len(dbMsgs)+len(r.notices))
	for _, m := range dbMsgs {
		msgs = append(msgs, toMessage(m))
	}
	msgs = append(msgs, r.notices...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if r.backlogLimit > 0 && len(msgs) > r.backlogLimit {
		msgs = msgs[len(msgs)-r.backlogLimit:]
	}

	if err != nil {
		return msgs, &UpstreamError{Op: "get messages", Err: err}
	}
	return msgs, nil
}

func (r *Room) join(c *Client, user types.User) error {
	req := &joinReq{client: c, user: user, reply: make(chan error, 1)}
	select {
	case r.joinChan <- req:
	case <-r.done:
		return errRoomClosed
	}

	select {
	case err := <-req.reply:
		return err
	case <-r.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return errRoomClosed
		}
	}
}

func (r *Room) leave(c *Client) {
	req := &leaveReq{client: c, done: make(chan struct{})}
	select {
	case r.leaveChan <- req:
	case <-r.done:
		return
	}

	select {
	case <-req.done:
	case <-r.done:
	}
}

func (r *Room) publish(c *Client, text string) (types.Message, error) {
	req := &publishReq{client: c, text: text, reply: make(chan publishResult, 1)}
	select {
	case r.publishChan <- req:
	case <-r.done:
		return types.Message{}, ErrNotJoined
	}

	select {
	case res := <-req.reply:
		return res.msg, res.err
	case <-r.done:
		select {
		case res := <-req.reply:
			return res.msg, res.err
		default:
			return types.Message{}, ErrNotJoined
		}
	}
}

func (r *Room) typing(c *Client, typing bool) {
	select {
	case r.typingChan <- &typingReq{client: c, typing: typing}:
	default:
		r.log.Debug().Msg("typing channel full, dropping indicator")
	}
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:   m.Id,
		Room: m.RoomName,
		Sender: types.Sender{
			Email:    m.SenderEmail,
			Username: m.SenderUsername,
		},
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}
