// Package wire defines the JSON envelopes exchanged over the realtime socket.
package wire

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ageniuscoder/roomchat/internal/model"
)

type Type string

// Client → server.
const (
	JoinRoom      Type = "join-room"
	LeaveRoom     Type = "leave-room"
	SendMessage   Type = "send-message"
	MarkRead      Type = "mark-read"
	StartTyping   Type = "start-typing"
	StopTyping    Type = "stop-typing"
	AddReaction   Type = "add-reaction"
	DeleteMessage Type = "delete-message"
)

// Server → client.
const (
	MessageReceived     Type = "message-received"
	MessageDelivered    Type = "message-delivered"
	MessageRead         Type = "message-read"
	UserTyping          Type = "user-typing"
	UserStoppedTyping   Type = "user-stopped-typing"
	ReactionChanged     Type = "reaction-changed"
	MessageDeleted      Type = "message-deleted"
	MessageEdited       Type = "message-edited"
	ConversationUpdated Type = "conversation-updated"
	ConversationDeleted Type = "conversation-deleted"
	Error               Type = "error"
)

// Reconnected is raised locally by the client transport once a dropped
// socket is back and the room is re-joined. It never crosses the wire.
const Reconnected Type = "reconnected"

var ErrNoData = errors.New("wire: envelope has no data")

type Envelope struct {
	Type           Type            `json:"type"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope around payload. A nil payload leaves Data empty.
func New(t Type, conversationID int64, payload any) (Envelope, error) {
	env := Envelope{Type: t, ConversationID: conversationID}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = b
	return env, nil
}

// MustNew is New for payloads that are known to marshal.
func MustNew(t Type, conversationID int64, payload any) Envelope {
	env, err := New(t, conversationID, payload)
	if err != nil {
		panic(err)
	}
	return env
}

func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return ErrNoData
	}
	return json.Unmarshal(e.Data, v)
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Parse(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Outbound payloads.

type SendMessagePayload struct {
	Content string            `json:"content,omitempty"`
	Type    model.MessageType `json:"type,omitempty"`
	Media   []model.Media     `json:"media,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
}

type MessageRef struct {
	MessageID string `json:"message_id"`
}

type ReactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// Inbound payloads.

type MessagePayload struct {
	Message model.Message `json:"message"`
}

type ReceiptPayload struct {
	MessageID string    `json:"message_id"`
	UserID    int64     `json:"user_id"`
	At        time.Time `json:"at"`
}

type TypingPayload struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// ReactionsPayload is a full reaction snapshot. Seq is assigned by the server
// per message and grows with every change.
type ReactionsPayload struct {
	MessageID string           `json:"message_id"`
	Reactions []model.Reaction `json:"reactions"`
	Seq       uint64           `json:"seq"`
}

type EditedPayload struct {
	MessageID string    `json:"message_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

type ConversationPayload struct {
	Conversation model.Conversation `json:"conversation"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request Type   `json:"request,omitempty"`
}
