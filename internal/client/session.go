// Package client is the conversation synchronisation core used by chat
// front ends: an HTTP API client, a reconnecting websocket transport and the
// Window event loop that owns the open conversation.
package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Session carries the identity every request is made with. It is passed
// explicitly; nothing in this package keeps a process-wide token.
type Session struct {
	BaseURL string
	Token   string
	UserID  int64
}

func (s Session) Valid() bool {
	return s.BaseURL != "" && s.Token != "" && s.UserID > 0
}

func (s Session) endpoint(p string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/api" + p
}

// WSURL is the websocket endpoint for s, token included.
func (s Session) WSURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(s.BaseURL, "/") + "/api/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", s.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var (
	ErrConversationNotFound = errors.New("client: conversation not found")
	ErrNoConversation       = errors.New("client: no conversation is open")
	ErrInFlight             = errors.New("client: a send is already in flight")
	ErrStale                = errors.New("client: conversation changed while the request ran")
	ErrEmpty                = errors.New("client: nothing to send")
	ErrNotEditable          = errors.New("client: message can no longer be edited")
	ErrClosed               = errors.New("client: window stopped")
)
