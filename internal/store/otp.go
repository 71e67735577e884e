package store

import (
	"context"
	"database/sql"
	"time"
)

func (s *Store) SaveOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	_, err := s.exec(ctx, s.DB,
		`INSERT INTO otp_codes (email, code, purpose, expires_at) VALUES (?, ?, ?, ?)`,
		email, code, purpose, toMS(expiresAt))
	return err
}

// ConsumeOTP checks code and deletes it on success, so every code verifies
// at most once. Expired codes are purged on the way.
func (s *Store) ConsumeOTP(ctx context.Context, email, purpose, code string) (bool, error) {
	now := toMS(s.Now())
	ok := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM otp_codes WHERE expires_at <= ?`, now); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx,
			`DELETE FROM otp_codes WHERE email=? AND purpose=? AND code=? AND expires_at > ?`,
			email, purpose, code, now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ok = n > 0
		return nil
	})
	return ok, err
}
