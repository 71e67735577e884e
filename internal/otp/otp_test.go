package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	codes map[string]time.Time
}

func (m *memStore) SaveOTP(_ context.Context, email, code, purpose string, exp time.Time) error {
	m.codes[email+"|"+purpose+"|"+code] = exp
	return nil
}

func (m *memStore) ConsumeOTP(_ context.Context, email, purpose, code string) (bool, error) {
	k := email + "|" + purpose + "|" + code
	_, ok := m.codes[k]
	delete(m.codes, k)
	return ok, nil
}

type recSender struct {
	codes []string
	err   error
}

func (r *recSender) Send(_ context.Context, _, _, code string) error {
	r.codes = append(r.codes, code)
	return r.err
}

func TestGenerateAndVerifyOnce(t *testing.T) {
	snd := &recSender{}
	s := &Service{DB: &memStore{codes: map[string]time.Time{}}, Sender: snd, Digits: 6, TTL: time.Minute}
	ctx := context.Background()

	code, err := s.Generate(ctx, "a@example.com", PurposeSignup)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	assert.Equal(t, []string{code}, snd.codes)

	ok, err := s.Verify(ctx, "a@example.com", PurposeReset, code)
	require.NoError(t, err)
	assert.False(t, ok, "purpose must match")

	ok, _ = s.Verify(ctx, "a@example.com", PurposeSignup, code)
	assert.True(t, ok)
	ok, _ = s.Verify(ctx, "a@example.com", PurposeSignup, code)
	assert.False(t, ok)
}

func TestGenerateSendFailure(t *testing.T) {
	s := &Service{DB: &memStore{codes: map[string]time.Time{}}, Sender: &recSender{err: errors.New("down")}, TTL: time.Minute}
	_, err := s.Generate(context.Background(), "a@example.com", PurposeSignup)
	assert.Error(t, err)
}

func TestSendGridMessage(t *testing.T) {
	m := SendGridSender{APIKey: "k", From: "noreply@example.com"}.message("a@example.com", PurposeSignup, "123456")
	require.NotNil(t, m.From)
	assert.Equal(t, "noreply@example.com", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "a@example.com", m.Personalizations[0].To[0].Address)
	assert.Contains(t, m.Content[0].Value, "123456")
}
