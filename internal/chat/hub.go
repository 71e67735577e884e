package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/metrics"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/typing"
	"github.com/ageniuscoder/roomchat/internal/wire"
	"golang.org/x/time/rate"
)

// Directory answers membership questions for the hub.
type Directory interface {
	IsActiveParticipant(ctx context.Context, convID, userID int64) (bool, error)
	TouchLastActive(ctx context.Context, userID int64) error
}

// Actions executes the mutating socket events. The implementation persists
// the change and broadcasts the resulting deltas back through the hub.
type Actions interface {
	SendMessage(ctx context.Context, userID, convID int64, p wire.SendMessagePayload) (model.Message, error)
	MarkRead(ctx context.Context, userID int64, messageID string) error
	ToggleReaction(ctx context.Context, userID int64, messageID, emoji string) error
	DeleteMessage(ctx context.Context, userID int64, messageID string) error
}

type Options struct {
	EventsPerSec  float64
	EventBurst    int
	ActionTimeout time.Duration
}

type Hub struct {
	dir     Directory
	actions Actions
	typing  *typing.Registry
	opts    Options

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex
	// userID -> set of client connections (handles multi-tab/or mutlti device)
	clients map[int64]map[*Client]bool
	// conversationID -> clients that joined the room
	rooms map[int64]map[*Client]bool
}

func NewHub(dir Directory, reg *typing.Registry, opts Options) *Hub {
	if opts.EventsPerSec <= 0 {
		opts.EventsPerSec = 20
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 40
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if reg == nil {
		reg = typing.NewRegistry(typing.DefaultTTL, nil)
	}
	return &Hub{
		dir:        dir,
		typing:     reg,
		opts:       opts,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[int64]map[*Client]bool),
		rooms:      make(map[int64]map[*Client]bool),
	}
}

// SetActions wires the message service. It must be called before Run.
func (h *Hub) SetActions(a Actions) { h.actions = a }

func (h *Hub) Typing() *typing.Registry { return h.typing }

// Run serves register/unregister until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[int64]map[*Client]bool)
			h.rooms = make(map[int64]map[*Client]bool)
			h.mu.Unlock()
			metrics.WSClients.Set(0)
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.UserID] == nil {
				h.clients[c.UserID] = make(map[*Client]bool)
			}
			h.clients[c.UserID][c] = true
			h.mu.Unlock()
			metrics.WSClients.Inc()
			slog.Info("ws_client_registered", "user_id", c.UserID)
			go h.touch(c.UserID)
		case c := <-h.unregister:
			if h.remove(c) {
				metrics.WSClients.Dec()
				slog.Info("ws_client_unregistered", "user_id", c.UserID)
				go h.touch(c.UserID)
			}
		}
	}
}

// remove detaches c from every set and closes its send channel exactly once.
// When it was the user's last socket their typing state is dropped too.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok || !set[c] {
		h.mu.Unlock()
		return false
	}
	delete(set, c)
	for convID := range c.rooms {
		h.leaveLocked(c, convID)
	}
	close(c.send)
	last := len(set) == 0
	if last {
		delete(h.clients, c.UserID)
	}
	h.mu.Unlock()

	if last {
		for _, k := range h.typing.DropUser(c.UserID) {
			h.broadcastStopped(k)
		}
	}
	return true
}

func (h *Hub) touch(userID int64) {
	if h.dir == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ActionTimeout)
	defer cancel()
	if err := h.dir.TouchLastActive(ctx, userID); err != nil {
		slog.Warn("touch_last_active_failed", "user_id", userID, "err", err)
	}
}

// drop queues c for unregistration without blocking past hub shutdown.
func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// enqueue must be called with h.mu held (read or write).
func (h *Hub) enqueue(c *Client, b []byte, t wire.Type) bool {
	select {
	case c.send <- b:
		metrics.OutboundEvents.WithLabelValues(string(t)).Inc()
		return true
	default:
		c.dropOnce.Do(func() {
			metrics.DroppedClients.Inc()
			slog.Warn("ws_client_dropped", "user_id", c.UserID)
			go h.drop(c)
		})
		return false
	}
}

// Online reports whether userID has at least one registered socket.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// InRoom reports whether any socket of userID joined convID.
func (h *Hub) InRoom(convID, userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[convID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// SendToUsers queues env on every socket of every listed user and returns
// the users for whom at least one socket accepted it.
func (h *Hub) SendToUsers(userIDs []int64, env wire.Envelope) []int64 {
	b, err := env.Marshal()
	if err != nil {
		slog.Error("envelope_marshal_failed", "type", env.Type, "err", err)
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	var reached []int64
	for _, uid := range userIDs {
		ok := false
		for c := range h.clients[uid] {
			if h.enqueue(c, b, env.Type) {
				ok = true
			}
		}
		if ok {
			reached = append(reached, uid)
		}
	}
	return reached
}

// BroadcastRoom queues env on every socket joined to convID, skipping the
// sockets of except (0 skips nobody).
func (h *Hub) BroadcastRoom(convID int64, env wire.Envelope, except int64) {
	b, err := env.Marshal()
	if err != nil {
		slog.Error("envelope_marshal_failed", "type", env.Type, "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[convID] {
		if except != 0 && c.UserID == except {
			continue
		}
		h.enqueue(c, b, env.Type)
	}
}

// EvictFromRoom removes every socket of userID from convID, e.g. after the
// user was removed from the conversation.
func (h *Hub) EvictFromRoom(convID, userID int64) {
	h.mu.Lock()
	for c := range h.rooms[convID] {
		if c.UserID == userID {
			h.leaveLocked(c, convID)
		}
	}
	h.mu.Unlock()
	if h.typing.Stop(typing.Key{ConversationID: convID, UserID: userID}) {
		h.broadcastStopped(typing.Key{ConversationID: convID, UserID: userID})
	}
}

// CloseRoom empties convID, e.g. after the conversation was deleted.
func (h *Hub) CloseRoom(convID int64) {
	h.mu.Lock()
	for c := range h.rooms[convID] {
		h.leaveLocked(c, convID)
	}
	h.mu.Unlock()
}

func (h *Hub) join(c *Client, convID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c.UserID][c] {
		return
	}
	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[*Client]bool)
	}
	h.rooms[convID][c] = true
	c.rooms[convID] = true
}

func (h *Hub) leave(c *Client, convID int64) {
	h.mu.Lock()
	h.leaveLocked(c, convID)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Client, convID int64) {
	delete(c.rooms, convID)
	if set, ok := h.rooms[convID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, convID)
		}
	}
}

func (h *Hub) joined(c *Client, convID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.rooms[convID]
}

// reply queues env on c alone if c is still registered.
func (h *Hub) reply(c *Client, env wire.Envelope) {
	b, err := env.Marshal()
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c.UserID][c] {
		h.enqueue(c, b, env.Type)
	}
}

func (h *Hub) replyErr(c *Client, req wire.Envelope, err error) {
	if apperr.CodeOf(err) == apperr.CodeUnknown || apperr.CodeOf(err) == apperr.CodeInternal {
		slog.Error("ws_action_failed", "user_id", c.UserID, "type", req.Type, "err", err)
	}
	h.reply(c, wire.MustNew(wire.Error, req.ConversationID, wire.ErrorPayload{
		Code:    string(apperr.CodeOf(err)),
		Message: apperr.Message(err),
		Request: req.Type,
	}))
}

func (h *Hub) broadcastStopped(k typing.Key) {
	h.BroadcastRoom(k.ConversationID,
		wire.MustNew(wire.UserStoppedTyping, k.ConversationID, wire.TypingPayload{UserID: k.UserID}), k.UserID)
}

// RunTypingSweeper emits user-stopped-typing for every typist whose TTL ran
// out without a stop. It blocks until ctx ends.
func (h *Hub) RunTypingSweeper(ctx context.Context, interval time.Duration) {
	h.typing.Run(ctx, interval, func(k typing.Key) {
		slog.Debug("typing_expired", "conversation_id", k.ConversationID, "user_id", k.UserID)
		h.broadcastStopped(k)
	})
}

// handle dispatches one inbound envelope from c.
func (h *Hub) handle(c *Client, env wire.Envelope) {
	metrics.InboundEvents.WithLabelValues(string(env.Type)).Inc()
	if !exemptFromLimit(env.Type) && !c.limiter.Allow() {
		metrics.RateLimited.Inc()
		h.replyErr(c, env, apperr.ErrRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ActionTimeout)
	defer cancel()
	key := typing.Key{ConversationID: env.ConversationID, UserID: c.UserID}

	switch env.Type {
	case wire.JoinRoom:
		ok, err := h.dir.IsActiveParticipant(ctx, env.ConversationID, c.UserID)
		if err != nil {
			h.replyErr(c, env, apperr.Internal("membership lookup failed", err))
			return
		}
		if !ok {
			h.replyErr(c, env, apperr.ErrNotParticipant)
			return
		}
		h.join(c, env.ConversationID)

	case wire.LeaveRoom:
		h.leave(c, env.ConversationID)
		if h.typing.Stop(key) {
			h.broadcastStopped(key)
		}

	case wire.StartTyping:
		if !h.joined(c, env.ConversationID) {
			return
		}
		if h.typing.Start(key) {
			h.BroadcastRoom(env.ConversationID,
				wire.MustNew(wire.UserTyping, env.ConversationID, wire.TypingPayload{UserID: c.UserID}), c.UserID)
		}

	case wire.StopTyping:
		if h.typing.Stop(key) {
			h.broadcastStopped(key)
		}

	case wire.SendMessage:
		var p wire.SendMessagePayload
		if err := env.Decode(&p); err != nil {
			h.replyErr(c, env, apperr.InvalidArg("invalid send-message payload"))
			return
		}
		if h.typing.Stop(key) {
			h.broadcastStopped(key)
		}
		if _, err := h.actions.SendMessage(ctx, c.UserID, env.ConversationID, p); err != nil {
			h.replyErr(c, env, err)
		}

	case wire.MarkRead:
		var p wire.MessageRef
		if err := env.Decode(&p); err != nil || p.MessageID == "" {
			h.replyErr(c, env, apperr.InvalidArg("invalid mark-read payload"))
			return
		}
		if err := h.actions.MarkRead(ctx, c.UserID, p.MessageID); err != nil {
			h.replyErr(c, env, err)
		}

	case wire.AddReaction:
		var p wire.ReactionPayload
		if err := env.Decode(&p); err != nil || p.MessageID == "" {
			h.replyErr(c, env, apperr.InvalidArg("invalid add-reaction payload"))
			return
		}
		if err := h.actions.ToggleReaction(ctx, c.UserID, p.MessageID, p.Emoji); err != nil {
			h.replyErr(c, env, err)
		}

	case wire.DeleteMessage:
		var p wire.MessageRef
		if err := env.Decode(&p); err != nil || p.MessageID == "" {
			h.replyErr(c, env, apperr.InvalidArg("invalid delete-message payload"))
			return
		}
		if err := h.actions.DeleteMessage(ctx, c.UserID, p.MessageID); err != nil {
			h.replyErr(c, env, err)
		}

	default:
		h.replyErr(c, env, apperr.InvalidArg("unknown event type"))
	}
}

// exemptFromLimit reports whether t is an acknowledgement the protocol
// requires clients to send; dropping one would lose read or room state.
func exemptFromLimit(t wire.Type) bool {
	switch t {
	case wire.MarkRead, wire.LeaveRoom, wire.StopTyping:
		return true
	}
	return false
}

func (h *Hub) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(h.opts.EventsPerSec), h.opts.EventBurst)
}
