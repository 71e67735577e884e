package messages

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/metrics"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/reactions"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/ageniuscoder/roomchat/internal/wire"
	"github.com/google/uuid"
)

// Broadcaster is the part of the realtime hub the service fans out through.
type Broadcaster interface {
	SendToUsers(userIDs []int64, env wire.Envelope) []int64
	BroadcastRoom(convID int64, env wire.Envelope, except int64)
}

// ObjectDeleter removes stored attachment objects by key.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

type Service struct {
	Store *store.Store
	Hub   Broadcaster
	// Objects is optional; when set, a deleted message's attachments are
	// removed from storage too.
	Objects ObjectDeleter
	Now     func() time.Time
}

func NewService(st *store.Store, hub Broadcaster, objects ObjectDeleter) *Service {
	return &Service{Store: st, Hub: hub, Objects: objects, Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) member(ctx context.Context, convID, userID int64) error {
	ok, err := s.Store.IsActiveParticipant(ctx, convID, userID)
	if err != nil {
		return apperr.Internal("membership lookup failed", err)
	}
	if !ok {
		return apperr.ErrNotParticipant
	}
	return nil
}

// messageFor loads messageID and checks userID belongs to its conversation.
func (s *Service) messageFor(ctx context.Context, userID int64, messageID string) (model.Message, error) {
	m, err := s.Store.Message(ctx, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.member(ctx, m.ConversationID, userID); err != nil {
		return model.Message{}, err
	}
	return m, nil
}

// SendMessage persists a message from userID and fans it out. Every
// connected recipient socket that accepts it is recorded as a delivery.
func (s *Service) SendMessage(ctx context.Context, userID, convID int64, p wire.SendMessagePayload) (model.Message, error) {
	if err := s.member(ctx, convID, userID); err != nil {
		return model.Message{}, err
	}
	content := strings.TrimSpace(p.Content)
	media := make([]model.Media, 0, len(p.Media))
	for _, md := range p.Media {
		if md.URL == "" {
			return model.Message{}, apperr.InvalidArg("attachment has no url")
		}
		if !md.Type.Valid() || md.Type == model.TypeText || md.Type == model.TypeMediaGroup {
			md.Type = model.MediaTypeFor(md.MimeType)
		}
		media = append(media, md)
	}
	if content == "" && len(media) == 0 {
		return model.Message{}, apperr.ErrEmptyMessage
	}
	if p.ReplyTo != "" {
		target, err := s.Store.Message(ctx, p.ReplyTo)
		if err != nil || target.ConversationID != convID {
			return model.Message{}, apperr.ErrReplyNotFound
		}
	}

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       userID,
		Content:        content,
		Type:           model.InferType(media),
		Media:          media,
		ReplyTo:        p.ReplyTo,
		CreatedAt:      s.Now(),
	}
	if err := s.Store.InsertMessage(ctx, msg); err != nil {
		return model.Message{}, apperr.Internal("failed to save message", err)
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	saved, err := s.Store.Message(ctx, msg.ID)
	if err != nil {
		return model.Message{}, apperr.Internal("failed to load message", err)
	}
	slog.Info("message_sent", "message_id", saved.ID, "conversation_id", convID, "sender_id", userID, "type", saved.Type)

	members, err := s.Store.ActiveParticipants(ctx, convID)
	if err != nil {
		slog.Error("fanout_lookup_failed", "conversation_id", convID, "err", err)
		return saved, nil
	}
	reached := s.Hub.SendToUsers(members, wire.MustNew(wire.MessageReceived, convID, wire.MessagePayload{Message: saved}))
	for _, uid := range reached {
		if uid == userID {
			continue
		}
		if r, ok := s.markDelivered(ctx, saved, uid); ok {
			saved.DeliveredTo, _ = model.AddReceipt(saved.DeliveredTo, r)
		}
	}
	return saved, nil
}

func (s *Service) markDelivered(ctx context.Context, m model.Message, userID int64) (model.Receipt, bool) {
	at := s.Now()
	ok, err := s.Store.MarkDelivered(ctx, m.ID, userID, at)
	if err != nil {
		slog.Error("mark_delivered_failed", "message_id", m.ID, "user_id", userID, "err", err)
		return model.Receipt{}, false
	}
	if !ok {
		return model.Receipt{}, false
	}
	s.Hub.BroadcastRoom(m.ConversationID, wire.MustNew(wire.MessageDelivered, m.ConversationID,
		wire.ReceiptPayload{MessageID: m.ID, UserID: userID, At: at}), 0)
	return model.Receipt{UserID: userID, At: at}, true
}

// History returns a page of convID for userID, first recording delivery of
// everything userID had not received yet.
func (s *Service) History(ctx context.Context, userID, convID int64, limit int, before string) ([]model.Message, error) {
	if err := s.member(ctx, convID, userID); err != nil {
		return nil, err
	}
	pending, err := s.Store.Undelivered(ctx, convID, userID)
	if err != nil {
		return nil, apperr.Internal("failed to load receipts", err)
	}
	for _, id := range pending {
		s.markDelivered(ctx, model.Message{ID: id, ConversationID: convID}, userID)
	}
	list, err := s.Store.History(ctx, convID, limit, before)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return nil, err
		}
		return nil, apperr.Internal("failed to load history", err)
	}
	return list, nil
}

// MarkRead records that userID read messageID. Own messages and repeats are
// no-ops.
func (s *Service) MarkRead(ctx context.Context, userID int64, messageID string) error {
	m, err := s.messageFor(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if m.SenderID == userID {
		return nil
	}
	at := s.Now()
	ok, err := s.Store.MarkRead(ctx, m.ID, userID, at)
	if err != nil {
		return apperr.Internal("failed to mark read", err)
	}
	if ok {
		s.Hub.BroadcastRoom(m.ConversationID, wire.MustNew(wire.MessageRead, m.ConversationID,
			wire.ReceiptPayload{MessageID: m.ID, UserID: userID, At: at}), 0)
	}
	return nil
}

// ToggleReaction adds or removes userID's emoji on messageID and broadcasts
// the full snapshot with its new sequence number.
func (s *Service) ToggleReaction(ctx context.Context, userID int64, messageID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if !reactions.ValidEmoji(emoji) {
		return apperr.ErrInvalidEmoji
	}
	m, err := s.messageFor(ctx, userID, messageID)
	if err != nil {
		return err
	}
	list, seq, err := s.Store.ToggleReaction(ctx, m.ID, userID, emoji)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return err
		}
		return apperr.Internal("failed to toggle reaction", err)
	}
	slog.Debug("reaction_toggled", "message", m.ID, "user", userID, "emoji", emoji,
		"added", reactions.Has(list, userID, emoji), "seq", seq)
	s.Hub.BroadcastRoom(m.ConversationID, wire.MustNew(wire.ReactionChanged, m.ConversationID,
		wire.ReactionsPayload{MessageID: m.ID, Reactions: list, Seq: seq}), 0)
	return nil
}

// DeleteMessage removes a message. Only its sender may do so.
func (s *Service) DeleteMessage(ctx context.Context, userID int64, messageID string) error {
	m, err := s.messageFor(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return apperr.Forbidden("only the sender can delete a message")
	}
	if err := s.Store.DeleteMessage(ctx, m.ID); err != nil {
		if apperr.CodeOf(err) == apperr.CodeNotFound {
			return err
		}
		return apperr.Internal("failed to delete message", err)
	}
	slog.Info("message_deleted", "message_id", m.ID, "conversation_id", m.ConversationID, "user_id", userID)
	s.Hub.BroadcastRoom(m.ConversationID, wire.MustNew(wire.MessageDeleted, m.ConversationID,
		wire.MessageRef{MessageID: m.ID}), 0)

	if s.Objects != nil {
		for _, md := range m.Media {
			if md.Key == "" {
				continue
			}
			if err := s.Objects.Delete(ctx, md.Key); err != nil {
				slog.Warn("attachment_delete_failed", "message_id", m.ID, "key", md.Key, "err", err)
			}
		}
	}
	return nil
}

// EditMessage replaces the text of a message its sender wrote less than
// model.EditWindow ago.
func (s *Service) EditMessage(ctx context.Context, userID int64, messageID, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, apperr.ErrEmptyMessage
	}
	m, err := s.messageFor(ctx, userID, messageID)
	if err != nil {
		return model.Message{}, err
	}
	now := s.Now()
	if m.SenderID != userID || m.Type != model.TypeText {
		return model.Message{}, apperr.ErrNotEditable
	}
	if !model.CanEdit(m, userID, now) {
		return model.Message{}, apperr.ErrEditWindowClosed
	}
	if err := s.Store.EditMessage(ctx, m.ID, content, now); err != nil {
		return model.Message{}, apperr.Internal("failed to edit message", err)
	}
	m.Content = content
	m.EditedAt = &now
	s.Hub.BroadcastRoom(m.ConversationID, wire.MustNew(wire.MessageEdited, m.ConversationID,
		wire.EditedPayload{MessageID: m.ID, Content: content, EditedAt: now}), 0)
	return m, nil
}
