// Package convstore holds the client-side state of the open conversation and
// applies socket events to it. A Store belongs to one event loop and is not
// safe for concurrent use.
package convstore

import (
	"log/slog"
	"time"

	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/reactions"
	"github.com/ageniuscoder/roomchat/internal/wire"
)

// Outcome tells the caller what an applied event changed and what, if
// anything, must be sent back to the server.
type Outcome struct {
	Changed bool
	// ReadAck is set when a message from someone else was inserted; the
	// caller sends it immediately as a mark-read.
	ReadAck *wire.Envelope
}

type Store struct {
	self int64
	conv *model.Conversation

	messages []*model.Message
	byID     map[string]*model.Message
	// index holds every id ever applied, deleted ones included, so a replayed
	// message-received cannot bring a deleted message back.
	index map[string]struct{}
}

func New(self int64) *Store {
	return &Store{
		self:  self,
		byID:  make(map[string]*model.Message),
		index: make(map[string]struct{}),
	}
}

func (s *Store) Self() int64 { return s.self }

// Reset replaces all state with conv and its history. History is kept in the
// order given, which the server delivers ascending by creation time.
func (s *Store) Reset(conv model.Conversation, history []model.Message) {
	c := conv
	s.conv = &c
	s.messages = nil
	s.byID = make(map[string]*model.Message, len(history))
	s.index = make(map[string]struct{}, len(history))
	for _, m := range history {
		s.Insert(m)
	}
}

// Close forgets the open conversation.
func (s *Store) Close() {
	s.conv = nil
	s.messages = nil
	s.byID = make(map[string]*model.Message)
	s.index = make(map[string]struct{})
}

func (s *Store) ConversationID() int64 {
	if s.conv == nil {
		return 0
	}
	return s.conv.ID
}

func (s *Store) Conversation() (model.Conversation, bool) {
	if s.conv == nil {
		return model.Conversation{}, false
	}
	return *s.conv, true
}

func (s *Store) Len() int { return len(s.messages) }

// Messages returns copies of the visible messages in display order.
func (s *Store) Messages() []model.Message {
	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

func (s *Store) Message(id string) (model.Message, bool) {
	m, ok := s.byID[id]
	if !ok {
		return model.Message{}, false
	}
	return *m, true
}

// Seen reports whether id was ever applied, deleted messages included.
func (s *Store) Seen(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Insert appends m at the tail unless its id was already applied. This is
// the single insertion path for history, send acks and incoming messages.
func (s *Store) Insert(m model.Message) bool {
	if s.conv == nil || m.ConversationID != s.conv.ID || m.ID == "" {
		return false
	}
	if _, dup := s.index[m.ID]; dup {
		return false
	}
	s.index[m.ID] = struct{}{}
	cp := m
	if cp.Reactions == nil {
		cp.Reactions = []model.Reaction{}
	}
	s.messages = append(s.messages, &cp)
	s.byID[cp.ID] = &cp
	return true
}

// Merge folds a freshly fetched latest page into the store after the socket
// was down. New messages are appended and returned, known ones pick up any
// receipts, reaction snapshots and edits they missed. When complete is set
// the page is the whole history; otherwise only messages no older than the
// page's oldest are checked. Known messages missing from that range were
// deleted meanwhile and are removed. Messages newer than the page may have
// arrived live after it was fetched and are left alone.
func (s *Store) Merge(page []model.Message, complete bool) (inserted []model.Message, changed bool) {
	if s.conv == nil {
		return nil, false
	}
	inPage := make(map[string]struct{}, len(page))
	var oldest, newest time.Time
	for _, m := range page {
		if m.ConversationID != s.conv.ID {
			continue
		}
		if len(inPage) == 0 || m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
		}
		if len(inPage) == 0 || m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
		inPage[m.ID] = struct{}{}
		if cur, ok := s.byID[m.ID]; ok {
			if s.refresh(cur, m) {
				changed = true
			}
			continue
		}
		if s.Insert(m) {
			inserted = append(inserted, m)
			changed = true
		}
	}
	var gone []string
	for _, m := range s.messages {
		if len(inPage) == 0 {
			break
		}
		if _, ok := inPage[m.ID]; ok || m.CreatedAt.After(newest) {
			continue
		}
		if complete || !m.CreatedAt.Before(oldest) {
			gone = append(gone, m.ID)
		}
	}
	for _, id := range gone {
		if s.remove(id) {
			changed = true
		}
	}
	return inserted, changed
}

func (s *Store) refresh(cur *model.Message, m model.Message) bool {
	changed := false
	for _, r := range m.DeliveredTo {
		var added bool
		if cur.DeliveredTo, added = model.AddReceipt(cur.DeliveredTo, r); added {
			changed = true
		}
	}
	for _, r := range m.ReadBy {
		var added bool
		if cur.ReadBy, added = model.AddReceipt(cur.ReadBy, r); added {
			changed = true
		}
	}
	if m.ReactionSeq > cur.ReactionSeq {
		cur.Reactions = reactions.Dedupe(m.Reactions)
		cur.ReactionSeq = m.ReactionSeq
		changed = true
	}
	if m.EditedAt != nil && (cur.EditedAt == nil || m.EditedAt.After(*cur.EditedAt)) {
		at := *m.EditedAt
		cur.Content = m.Content
		cur.EditedAt = &at
		changed = true
	}
	return changed
}

// Apply folds one inbound event into the store. Events for other
// conversations, unknown messages and duplicates are ignored.
func (s *Store) Apply(env wire.Envelope) Outcome {
	if s.conv == nil || env.ConversationID != s.conv.ID {
		return Outcome{}
	}
	switch env.Type {
	case wire.MessageReceived:
		var p wire.MessagePayload
		if !s.decode(env, &p) {
			return Outcome{}
		}
		if !s.Insert(p.Message) {
			return Outcome{}
		}
		out := Outcome{Changed: true}
		if p.Message.SenderID != s.self {
			ack := wire.MustNew(wire.MarkRead, s.conv.ID, wire.MessageRef{MessageID: p.Message.ID})
			out.ReadAck = &ack
		}
		return out

	case wire.ReactionChanged:
		var p wire.ReactionsPayload
		if !s.decode(env, &p) {
			return Outcome{}
		}
		return Outcome{Changed: s.replaceReactions(p)}

	case wire.MessageDelivered, wire.MessageRead:
		var p wire.ReceiptPayload
		if !s.decode(env, &p) {
			return Outcome{}
		}
		return Outcome{Changed: s.addReceipt(env.Type, p)}

	case wire.MessageDeleted:
		var p wire.MessageRef
		if !s.decode(env, &p) {
			return Outcome{}
		}
		return Outcome{Changed: s.remove(p.MessageID)}

	case wire.MessageEdited:
		var p wire.EditedPayload
		if !s.decode(env, &p) {
			return Outcome{}
		}
		m, ok := s.byID[p.MessageID]
		if !ok {
			return Outcome{}
		}
		at := p.EditedAt
		m.Content = p.Content
		m.EditedAt = &at
		return Outcome{Changed: true}

	case wire.ConversationUpdated:
		var p wire.ConversationPayload
		if !s.decode(env, &p) || p.Conversation.ID != s.conv.ID {
			return Outcome{}
		}
		c := p.Conversation
		s.conv = &c
		return Outcome{Changed: true}
	}
	return Outcome{}
}

// replaceReactions swaps in a full snapshot. A snapshot whose seq is not
// newer than the one already applied is stale (reordered or replayed) and is
// dropped.
func (s *Store) replaceReactions(p wire.ReactionsPayload) bool {
	m, ok := s.byID[p.MessageID]
	if !ok {
		return false
	}
	if p.Seq <= m.ReactionSeq {
		return false
	}
	m.Reactions = reactions.Dedupe(p.Reactions)
	m.ReactionSeq = p.Seq
	return true
}

func (s *Store) addReceipt(t wire.Type, p wire.ReceiptPayload) bool {
	m, ok := s.byID[p.MessageID]
	if !ok {
		return false
	}
	r := model.Receipt{UserID: p.UserID, At: p.At}
	var changed bool
	if t == wire.MessageRead {
		m.ReadBy, changed = model.AddReceipt(m.ReadBy, r)
	} else {
		m.DeliveredTo, changed = model.AddReceipt(m.DeliveredTo, r)
	}
	return changed
}

func (s *Store) remove(id string) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) decode(env wire.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		slog.Warn("convstore_bad_payload", "type", env.Type, "err", err)
		return false
	}
	return true
}
