package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	TypeText       MessageType = "text"
	TypeImage      MessageType = "image"
	TypeVideo      MessageType = "video"
	TypeAudio      MessageType = "audio"
	TypeFile       MessageType = "file"
	TypeMediaGroup MessageType = "media_group"
)

// EditWindow is how long after creation a sender may still edit a text message.
const EditWindow = 10 * time.Minute

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile, TypeMediaGroup:
		return true
	}
	return false
}

type Media struct {
	Type     MessageType `json:"type"`
	URL      string      `json:"url"`
	Key      string      `json:"key,omitempty"`
	Filename string      `json:"filename"`
	Size     int64       `json:"size"`
	MimeType string      `json:"mime_type"`
}

type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID int64  `json:"user_id"`
}

// Receipt records that a message reached (or was read by) a user.
type Receipt struct {
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	SenderUsername string      `json:"sender_username,omitempty"`
	Content        string      `json:"content,omitempty"`
	Type           MessageType `json:"type"`
	Media          []Media     `json:"media"`
	ReplyTo        string      `json:"reply_to,omitempty"`
	Reactions      []Reaction  `json:"reactions"`
	ReactionSeq    uint64      `json:"reaction_seq"`
	DeliveredTo    []Receipt   `json:"delivered_to"`
	ReadBy         []Receipt   `json:"read_by"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
}

// InferType derives the message type from its attachments: none is text,
// exactly one takes that attachment's type, more than one is a media group.
func InferType(media []Media) MessageType {
	switch len(media) {
	case 0:
		return TypeText
	case 1:
		if media[0].Type.Valid() && media[0].Type != TypeText && media[0].Type != TypeMediaGroup {
			return media[0].Type
		}
		return MediaTypeFor(media[0].MimeType)
	default:
		return TypeMediaGroup
	}
}

// MediaTypeFor maps a MIME type onto an attachment type.
func MediaTypeFor(mime string) MessageType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return TypeImage
	case strings.HasPrefix(mime, "video/"):
		return TypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return TypeAudio
	default:
		return TypeFile
	}
}

// CanEdit reports whether self may still edit m at now.
func CanEdit(m Message, self int64, now time.Time) bool {
	if m.SenderID != self || m.Type != TypeText {
		return false
	}
	return now.Sub(m.CreatedAt) < EditWindow
}

func HasReceipt(list []Receipt, userID int64) bool {
	for _, r := range list {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AddReceipt appends r unless its user is already present. The second return
// value reports whether the list changed.
func AddReceipt(list []Receipt, r Receipt) ([]Receipt, bool) {
	if HasReceipt(list, r.UserID) {
		return list, false
	}
	return append(list, r), true
}
