package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/model"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, u.username, m.content, m.type,
	COALESCE(m.reply_to, ''), m.reaction_seq, m.created_at, m.edited_at`

func scanMessage(row interface{ Scan(...any) error }) (model.Message, error) {
	var m model.Message
	var typ string
	var seq, created int64
	var edited sql.NullInt64
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &m.Content,
		&typ, &m.ReplyTo, &seq, &created, &edited); err != nil {
		return model.Message{}, err
	}
	m.Type = model.MessageType(typ)
	m.ReactionSeq = uint64(seq)
	m.CreatedAt = fromMS(created)
	if edited.Valid {
		t := fromMS(edited.Int64)
		m.EditedAt = &t
	}
	m.Media = []model.Media{}
	m.Reactions = []model.Reaction{}
	m.DeliveredTo = []model.Receipt{}
	m.ReadBy = []model.Receipt{}
	return m, nil
}

// InsertMessage persists m and its media. ID and CreatedAt must be set.
func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var reply any
		if m.ReplyTo != "" {
			reply = m.ReplyTo
		}
		if _, err := s.exec(ctx, tx,
			`INSERT INTO messages (id, conversation_id, sender_id, content, type, reply_to, reaction_seq, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, reply, toMS(m.CreatedAt)); err != nil {
			return err
		}
		for i, md := range m.Media {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO message_media (message_id, position, type, url, storage_key, filename, size, mime_type)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID, i, md.Type, md.URL, md.Key, md.Filename, md.Size, md.MimeType); err != nil {
				return err
			}
		}
		return nil
	})
}

// Message loads one message with media, reactions and receipts.
func (s *Store) Message(ctx context.Context, id string) (model.Message, error) {
	m, err := scanMessage(s.queryRow(ctx, s.DB, `SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, apperr.ErrMessageNotFound
	}
	if err != nil {
		return model.Message{}, err
	}
	list := []model.Message{m}
	if err := s.hydrate(ctx, list); err != nil {
		return model.Message{}, err
	}
	return list[0], nil
}

// History returns up to limit messages of convID older than beforeID (or
// the newest ones when beforeID is empty), ascending.
func (s *Store) History(ctx context.Context, convID int64, limit int, beforeID string) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	before := int64(math.MaxInt64)
	if beforeID != "" {
		err := s.queryRow(ctx, s.DB, `SELECT seq FROM messages WHERE id=? AND conversation_id=?`, beforeID, convID).Scan(&before)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
	}

	rows, err := s.query(ctx, s.DB, `SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id=? AND m.seq < ?
		ORDER BY m.seq DESC LIMIT ?`, convID, before, limit)
	if err != nil {
		return nil, err
	}
	list := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, s.hydrate(ctx, list)
}

// hydrate fills media, reactions and receipts of list in place.
func (s *Store) hydrate(ctx context.Context, list []model.Message) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	pos := make(map[string]int, len(list))
	for i, m := range list {
		ids[i] = m.ID
		pos[m.ID] = i
	}
	in := placeholders(len(ids))
	args := stringArgs(ids)

	rows, err := s.query(ctx, s.DB, `SELECT message_id, type, url, storage_key, filename, size, mime_type
		FROM message_media WHERE message_id IN (`+in+`) ORDER BY message_id, position`, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var mid, typ string
		var md model.Media
		if err := rows.Scan(&mid, &typ, &md.URL, &md.Key, &md.Filename, &md.Size, &md.MimeType); err != nil {
			rows.Close()
			return err
		}
		md.Type = model.MessageType(typ)
		list[pos[mid]].Media = append(list[pos[mid]].Media, md)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.query(ctx, s.DB, `SELECT message_id, emoji, user_id
		FROM message_reactions WHERE message_id IN (`+in+`) ORDER BY id`, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var mid string
		var r model.Reaction
		if err := rows.Scan(&mid, &r.Emoji, &r.UserID); err != nil {
			rows.Close()
			return err
		}
		list[pos[mid]].Reactions = append(list[pos[mid]].Reactions, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.query(ctx, s.DB, `SELECT message_id, user_id, delivered_at, read_at
		FROM message_receipts WHERE message_id IN (`+in+`) ORDER BY COALESCE(delivered_at, read_at), user_id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var mid string
		var uid int64
		var delivered, read sql.NullInt64
		if err := rows.Scan(&mid, &uid, &delivered, &read); err != nil {
			return err
		}
		m := &list[pos[mid]]
		if delivered.Valid {
			m.DeliveredTo = append(m.DeliveredTo, model.Receipt{UserID: uid, At: fromMS(delivered.Int64)})
		}
		if read.Valid {
			m.ReadBy = append(m.ReadBy, model.Receipt{UserID: uid, At: fromMS(read.Int64)})
		}
	}
	return rows.Err()
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.exec(ctx, s.DB, `DELETE FROM messages WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrMessageNotFound
	}
	return nil
}

func (s *Store) EditMessage(ctx context.Context, id, content string, at time.Time) error {
	_, err := s.exec(ctx, s.DB, `UPDATE messages SET content=?, edited_at=? WHERE id=?`, content, toMS(at), id)
	return err
}

// ToggleReaction adds (userID, emoji) to messageID or removes it if present,
// bumps the message's reaction sequence and returns the resulting snapshot.
func (s *Store) ToggleReaction(ctx context.Context, messageID string, userID int64, emoji string) ([]model.Reaction, uint64, error) {
	var seq int64
	list := []model.Reaction{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx,
			`DELETE FROM message_reactions WHERE message_id=? AND user_id=? AND emoji=?`, messageID, userID, emoji)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := s.exec(ctx, tx,
				`INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
				messageID, userID, emoji, toMS(s.Now())); err != nil {
				return err
			}
		}
		err = s.queryRow(ctx, tx,
			`UPDATE messages SET reaction_seq = reaction_seq + 1 WHERE id=? RETURNING reaction_seq`, messageID).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.ErrMessageNotFound
		}
		if err != nil {
			return err
		}

		rows, err := s.query(ctx, tx,
			`SELECT emoji, user_id FROM message_reactions WHERE message_id=? ORDER BY id`, messageID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r model.Reaction
			if err := rows.Scan(&r.Emoji, &r.UserID); err != nil {
				return err
			}
			list = append(list, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return list, uint64(seq), nil
}

// MarkDelivered records delivery of messageID to userID once. It reports
// whether this call recorded it.
func (s *Store) MarkDelivered(ctx context.Context, messageID string, userID int64, at time.Time) (bool, error) {
	res, err := s.exec(ctx, s.DB,
		`INSERT INTO message_receipts (message_id, user_id, delivered_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id, user_id) DO UPDATE SET delivered_at=excluded.delivered_at
		 WHERE message_receipts.delivered_at IS NULL`,
		messageID, userID, toMS(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRead records that userID read messageID once; a read also counts as a
// delivery. Neither timestamp is ever cleared or overwritten.
func (s *Store) MarkRead(ctx context.Context, messageID string, userID int64, at time.Time) (bool, error) {
	ms := toMS(at)
	res, err := s.exec(ctx, s.DB,
		`INSERT INTO message_receipts (message_id, user_id, delivered_at, read_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (message_id, user_id) DO UPDATE
		 SET read_at=excluded.read_at, delivered_at=COALESCE(message_receipts.delivered_at, excluded.delivered_at)
		 WHERE message_receipts.read_at IS NULL`,
		messageID, userID, ms, ms)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Undelivered lists ids of messages in convID sent by others that userID has
// no delivery receipt for.
func (s *Store) Undelivered(ctx context.Context, convID, userID int64) ([]string, error) {
	rows, err := s.query(ctx, s.DB, `SELECT m.id FROM messages m
		LEFT JOIN message_receipts r ON r.message_id = m.id AND r.user_id = ?
		WHERE m.conversation_id = ? AND m.sender_id <> ? AND (r.delivered_at IS NULL)
		ORDER BY m.seq`, userID, convID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
