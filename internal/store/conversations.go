package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/model"
)

// CreatePrivate returns the 1:1 conversation between a and b, creating it if
// needed. created reports whether a new conversation was made.
func (s *Store) CreatePrivate(ctx context.Context, a, b int64) (id int64, created bool, err error) {
	err = s.queryRow(ctx, s.DB, `SELECT c.id FROM conversations c
		JOIN participants p1 ON p1.conversation_id=c.id AND p1.user_id=?
		JOIN participants p2 ON p2.conversation_id=c.id AND p2.user_id=?
		WHERE c.is_group_chat=? LIMIT 1`, a, b, false).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}

	if _, err := s.UserByID(ctx, b); err != nil {
		return 0, false, err
	}
	now := toMS(s.Now())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.queryRow(ctx, tx,
			`INSERT INTO conversations (name, is_group_chat, created_by, created_at) VALUES (NULL, ?, ?, ?) RETURNING id`,
			false, a, now).Scan(&id); err != nil {
			return err
		}
		_, err := s.exec(ctx, tx,
			`INSERT INTO participants (conversation_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, ?, ?), (?, ?, ?, ?, ?)`,
			id, a, model.RoleMember, true, now, id, b, model.RoleMember, true, now)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// CreateGroup makes creator the first admin and adds members.
func (s *Store) CreateGroup(ctx context.Context, creator int64, name string, members []int64) (int64, error) {
	now := toMS(s.Now())
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.queryRow(ctx, tx,
			`INSERT INTO conversations (name, is_group_chat, created_by, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
			name, true, creator, now).Scan(&id); err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx,
			`INSERT INTO participants (conversation_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, ?, ?)`,
			id, creator, model.RoleAdmin, true, now); err != nil {
			return err
		}
		for _, mid := range members {
			if mid == creator {
				continue
			}
			if _, err := s.exec(ctx, tx,
				`INSERT INTO participants (conversation_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
				id, mid, model.RoleMember, true, now); err != nil {
				return apperr.Wrap(apperr.CodeInvalidArgument, "invalid member id", err)
			}
		}
		return nil
	})
	return id, err
}

func (s *Store) Conversation(ctx context.Context, id int64) (model.Conversation, error) {
	var c model.Conversation
	var name sql.NullString
	var created int64
	err := s.queryRow(ctx, s.DB,
		`SELECT id, name, is_group_chat, created_by, created_at FROM conversations WHERE id=?`, id).
		Scan(&c.ID, &name, &c.IsGroup, &c.CreatedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, apperr.ErrConversationNotFound
	}
	if err != nil {
		return model.Conversation{}, err
	}
	c.Name = name.String
	c.CreatedAt = fromMS(created)
	c.Participants, err = s.participants(ctx, id)
	return c, err
}

func (s *Store) participants(ctx context.Context, convID int64) ([]model.Participant, error) {
	rows, err := s.query(ctx, s.DB, `SELECT p.user_id, u.username, p.role, p.is_active
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id=? ORDER BY p.joined_at, p.user_id`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []model.Participant{}
	for rows.Next() {
		var p model.Participant
		var role string
		if err := rows.Scan(&p.UserID, &p.Username, &role, &p.IsActive); err != nil {
			return nil, err
		}
		p.Role = model.Role(role)
		list = append(list, p)
	}
	return list, rows.Err()
}

// ConversationsFor lists conversations where userID is an active member,
// newest first.
func (s *Store) ConversationsFor(ctx context.Context, userID int64) ([]model.Conversation, error) {
	rows, err := s.query(ctx, s.DB, `SELECT c.id FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ? AND p.is_active = ?
		ORDER BY c.created_at DESC, c.id DESC`, userID, true)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	list := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.Conversation(ctx, id)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, nil
}

func (s *Store) IsActiveParticipant(ctx context.Context, convID, userID int64) (bool, error) {
	var n int
	err := s.queryRow(ctx, s.DB,
		`SELECT COUNT(1) FROM participants WHERE conversation_id=? AND user_id=? AND is_active=?`,
		convID, userID, true).Scan(&n)
	return n > 0, err
}

// ActiveParticipants returns the user ids of every active member of convID.
func (s *Store) ActiveParticipants(ctx context.Context, convID int64) ([]int64, error) {
	rows, err := s.query(ctx, s.DB,
		`SELECT user_id FROM participants WHERE conversation_id=? AND is_active=? ORDER BY user_id`, convID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		ids = append(ids, uid)
	}
	return ids, rows.Err()
}

// AddParticipant adds userID as a member, reactivating a former member.
func (s *Store) AddParticipant(ctx context.Context, convID, userID int64) error {
	if _, err := s.UserByID(ctx, userID); err != nil {
		return err
	}
	_, err := s.exec(ctx, s.DB,
		`INSERT INTO participants (conversation_id, user_id, role, is_active, joined_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET is_active=excluded.is_active`,
		convID, userID, model.RoleMember, true, toMS(s.Now()))
	return err
}

func (s *Store) DeactivateParticipant(ctx context.Context, convID, userID int64) error {
	_, err := s.exec(ctx, s.DB,
		`UPDATE participants SET is_active=?, role=? WHERE conversation_id=? AND user_id=?`,
		false, model.RoleMember, convID, userID)
	return err
}

func (s *Store) SetRole(ctx context.Context, convID, userID int64, role model.Role) error {
	res, err := s.exec(ctx, s.DB,
		`UPDATE participants SET role=? WHERE conversation_id=? AND user_id=? AND is_active=?`,
		role, convID, userID, true)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotParticipant
	}
	return nil
}

func (s *Store) RenameConversation(ctx context.Context, id int64, name string) error {
	_, err := s.exec(ctx, s.DB, `UPDATE conversations SET name=? WHERE id=?`, name, id)
	return err
}

func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, s.DB, `DELETE FROM conversations WHERE id=?`, id)
	return err
}
