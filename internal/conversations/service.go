package conversations

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/ageniuscoder/roomchat/internal/wire"
)

// Notifier is the part of the realtime hub conversation changes go through.
type Notifier interface {
	SendToUsers(userIDs []int64, env wire.Envelope) []int64
	EvictFromRoom(convID, userID int64)
	CloseRoom(convID int64)
}

type Service struct {
	Store *store.Store
	Hub   Notifier
}

func NewService(st *store.Store, hub Notifier) *Service {
	return &Service{Store: st, Hub: hub}
}

// load returns convID if userID is an active member of it.
func (s *Service) load(ctx context.Context, convID, userID int64) (model.Conversation, error) {
	conv, err := s.Store.Conversation(ctx, convID)
	if err != nil {
		return model.Conversation{}, err
	}
	if !conv.IsActiveMember(userID) {
		return model.Conversation{}, apperr.ErrNotParticipant
	}
	return conv, nil
}

// loadGroupAdmin returns convID if it is a group and userID administers it.
func (s *Service) loadGroupAdmin(ctx context.Context, convID, userID int64) (model.Conversation, error) {
	conv, err := s.load(ctx, convID, userID)
	if err != nil {
		return model.Conversation{}, err
	}
	if !conv.IsGroup {
		return model.Conversation{}, apperr.FailedPrecondition("not a group conversation")
	}
	if !conv.IsAdmin(userID) {
		return model.Conversation{}, apperr.ErrNotAdmin
	}
	return conv, nil
}

// publish reloads convID and sends conversation-updated to its active
// members plus extra (e.g. a user who was just removed).
func (s *Service) publish(ctx context.Context, convID int64, extra ...int64) (model.Conversation, error) {
	conv, err := s.Store.Conversation(ctx, convID)
	if err != nil {
		return model.Conversation{}, err
	}
	users := append(activeIDs(conv), extra...)
	s.Hub.SendToUsers(users, wire.MustNew(wire.ConversationUpdated, convID, wire.ConversationPayload{Conversation: conv}))
	return conv, nil
}

func activeIDs(conv model.Conversation) []int64 {
	var ids []int64
	for _, p := range conv.Participants {
		if p.IsActive {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func (s *Service) List(ctx context.Context, userID int64) ([]model.Conversation, error) {
	return s.Store.ConversationsFor(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, convID int64) (model.Conversation, error) {
	return s.load(ctx, convID, userID)
}

// OpenPrivate returns the 1:1 conversation with other, creating it once.
func (s *Service) OpenPrivate(ctx context.Context, userID, other int64) (model.Conversation, error) {
	if other == userID {
		return model.Conversation{}, apperr.InvalidArg("cannot start a conversation with yourself")
	}
	id, created, err := s.Store.CreatePrivate(ctx, userID, other)
	if err != nil {
		return model.Conversation{}, err
	}
	if !created {
		return s.Store.Conversation(ctx, id)
	}
	slog.Info("conversation_created", "conversation_id", id, "is_group", false, "created_by", userID)
	return s.publish(ctx, id)
}

func (s *Service) CreateGroup(ctx context.Context, userID int64, name string, members []int64) (model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Conversation{}, apperr.InvalidArg("group name is required")
	}
	for _, m := range members {
		if m == userID {
			continue
		}
		if _, err := s.Store.UserByID(ctx, m); err != nil {
			return model.Conversation{}, err
		}
	}
	id, err := s.Store.CreateGroup(ctx, userID, name, members)
	if err != nil {
		return model.Conversation{}, err
	}
	slog.Info("conversation_created", "conversation_id", id, "is_group", true, "created_by", userID)
	return s.publish(ctx, id)
}

func (s *Service) Rename(ctx context.Context, userID, convID int64, name string) (model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Conversation{}, apperr.InvalidArg("group name is required")
	}
	if _, err := s.loadGroupAdmin(ctx, convID, userID); err != nil {
		return model.Conversation{}, err
	}
	if err := s.Store.RenameConversation(ctx, convID, name); err != nil {
		return model.Conversation{}, err
	}
	return s.publish(ctx, convID)
}

// Delete removes a conversation. Groups can only be deleted by their
// creator; either member may delete a 1:1 conversation.
func (s *Service) Delete(ctx context.Context, userID, convID int64) error {
	conv, err := s.load(ctx, convID, userID)
	if err != nil {
		return err
	}
	if conv.IsGroup && conv.CreatedBy != userID {
		return apperr.Forbidden("only the creator can delete a group")
	}
	if err := s.Store.DeleteConversation(ctx, convID); err != nil {
		return err
	}
	slog.Info("conversation_deleted", "conversation_id", convID, "user_id", userID)
	s.Hub.SendToUsers(activeIDs(conv), wire.MustNew(wire.ConversationDeleted, convID, nil))
	s.Hub.CloseRoom(convID)
	return nil
}

func (s *Service) AddParticipant(ctx context.Context, userID, convID, target int64) (model.Conversation, error) {
	conv, err := s.loadGroupAdmin(ctx, convID, userID)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.IsActiveMember(target) {
		return conv, nil
	}
	if err := s.Store.AddParticipant(ctx, convID, target); err != nil {
		return model.Conversation{}, err
	}
	return s.publish(ctx, convID)
}

func (s *Service) RemoveParticipant(ctx context.Context, userID, convID, target int64) (model.Conversation, error) {
	conv, err := s.loadGroupAdmin(ctx, convID, userID)
	if err != nil {
		return model.Conversation{}, err
	}
	if target == conv.CreatedBy {
		return model.Conversation{}, apperr.Forbidden("the creator cannot be removed")
	}
	if !conv.IsActiveMember(target) {
		return model.Conversation{}, apperr.ErrNotParticipant
	}
	if err := s.Store.DeactivateParticipant(ctx, convID, target); err != nil {
		return model.Conversation{}, err
	}
	s.Hub.EvictFromRoom(convID, target)
	return s.publish(ctx, convID, target)
}

func (s *Service) SetRole(ctx context.Context, userID, convID, target int64, role model.Role) (model.Conversation, error) {
	if role != model.RoleAdmin && role != model.RoleMember {
		return model.Conversation{}, apperr.InvalidArg("unknown role")
	}
	conv, err := s.loadGroupAdmin(ctx, convID, userID)
	if err != nil {
		return model.Conversation{}, err
	}
	if target == conv.CreatedBy && role != model.RoleAdmin {
		return model.Conversation{}, apperr.Forbidden("the creator cannot be demoted")
	}
	if err := s.Store.SetRole(ctx, convID, target, role); err != nil {
		return model.Conversation{}, err
	}
	return s.publish(ctx, convID)
}

// Leave deactivates userID in a group. The creator must delete instead.
func (s *Service) Leave(ctx context.Context, userID, convID int64) error {
	conv, err := s.load(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !conv.IsGroup {
		return apperr.FailedPrecondition("cannot leave a private conversation")
	}
	if conv.CreatedBy == userID {
		return apperr.ErrCreatorCannotLeave
	}
	if err := s.Store.DeactivateParticipant(ctx, convID, userID); err != nil {
		return err
	}
	s.Hub.EvictFromRoom(convID, userID)
	_, err = s.publish(ctx, convID, userID)
	return err
}
