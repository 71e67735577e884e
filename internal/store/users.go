package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ageniuscoder/roomchat/internal/apperr"
)

type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

func (s *Store) UserExists(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := s.queryRow(ctx, s.DB, `SELECT COUNT(1) FROM users WHERE username=? OR email=?`, username, email).Scan(&n)
	return n > 0, err
}

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error) {
	now := toMS(s.Now())
	var id int64
	err := s.queryRow(ctx, s.DB,
		`INSERT INTO users (username, email, password_hash, created_at, last_active) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		username, email, passwordHash, now, now).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeAlreadyExists, "username or email already exists", err)
	}
	return id, nil
}

// Credentials returns the id and password hash for username.
func (s *Store) Credentials(ctx context.Context, username string) (int64, string, error) {
	var id int64
	var hash string
	err := s.queryRow(ctx, s.DB, `SELECT id, password_hash FROM users WHERE username=?`, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", apperr.ErrUserNotFound
	}
	return id, hash, err
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	var created, active int64
	err := s.queryRow(ctx, s.DB,
		`SELECT id, username, email, created_at, last_active FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Username, &u.Email, &created, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt, u.LastActive = fromMS(created), fromMS(active)
	return u, nil
}

func (s *Store) TouchLastActive(ctx context.Context, id int64) error {
	_, err := s.exec(ctx, s.DB, `UPDATE users SET last_active=? WHERE id=?`, toMS(s.Now()), id)
	return err
}

func (s *Store) SetPasswordByEmail(ctx context.Context, email, passwordHash string) error {
	res, err := s.exec(ctx, s.DB, `UPDATE users SET password_hash=? WHERE email=?`, passwordHash, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// SearchUsers lists up to limit users whose username contains q.
func (s *Store) SearchUsers(ctx context.Context, q string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx, s.DB,
		`SELECT id, username, email, created_at, last_active FROM users
		 WHERE LOWER(username) LIKE ? ORDER BY username LIMIT ?`, "%"+strings.ToLower(q)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []User{}
	for rows.Next() {
		var u User
		var created, active int64
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &created, &active); err != nil {
			return nil, err
		}
		u.CreatedAt, u.LastActive = fromMS(created), fromMS(active)
		list = append(list, u)
	}
	return list, rows.Err()
}
