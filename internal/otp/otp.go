package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

const (
	PurposeSignup = "signup"
	PurposeReset  = "reset"
)

// Store persists issued codes. Consume must succeed at most once per code.
type Store interface {
	SaveOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error
	ConsumeOTP(ctx context.Context, email, purpose, code string) (bool, error)
}

// Sender delivers a code to its recipient.
type Sender interface {
	Send(ctx context.Context, email, purpose, code string) error
}

type Service struct {
	DB     Store
	Sender Sender
	Digits int
	TTL    time.Duration
	Now    func() time.Time
}

func randomDigit(n int) (string, error) {
	res := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		res[i] = byte('0' + v.Int64())
	}
	return string(res), nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Generate issues a fresh code for email and sends it.
func (s *Service) Generate(ctx context.Context, email, purpose string) (string, error) {
	digits := s.Digits
	if digits <= 0 {
		digits = 6
	}
	code, err := randomDigit(digits)
	if err != nil {
		return "", err
	}

	if err := s.DB.SaveOTP(ctx, email, code, purpose, s.now().Add(s.TTL)); err != nil {
		return "", err
	}
	if err := s.Sender.Send(ctx, email, purpose, code); err != nil {
		return "", fmt.Errorf("failed to send otp: %w", err)
	}
	return code, nil
}

// Verify consumes the code; a second verification of the same code fails.
func (s *Service) Verify(ctx context.Context, email, purpose, code string) (bool, error) {
	return s.DB.ConsumeOTP(ctx, email, purpose, code)
}

// LogSender writes codes to the log instead of mailing them. It is used
// when no mail provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, email, purpose, code string) error {
	slog.Warn("otp_not_mailed", "email", email, "purpose", purpose, "code", code)
	return nil
}
