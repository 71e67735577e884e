// Package receipts derives delivery/read status of self-authored messages.
package receipts

import (
	"fmt"

	"github.com/ageniuscoder/roomchat/internal/model"
)

type Status string

const (
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
)

// Summary is recomputed from a message's receipt sets every time it is
// needed; it is never stored.
type Summary struct {
	Status    Status `json:"status"`
	Delivered int    `json:"delivered"`
	Read      int    `json:"read"`
	Total     int    `json:"total"`
}

// SeenBy renders the group form, e.g. "seen by 2 of 5".
func (s Summary) SeenBy() string {
	return fmt.Sprintf("seen by %d of %d", s.Read, s.Total)
}

type Tracker interface {
	Summarize(m model.Message) Summary
}

// SinglePeer tracks the one other party of a 1:1 conversation.
type SinglePeer struct {
	Peer int64
}

func (p SinglePeer) Summarize(m model.Message) Summary {
	s := Summary{Status: Sent, Total: 1}
	switch {
	case model.HasReceipt(m.ReadBy, p.Peer):
		s.Status, s.Read, s.Delivered = Read, 1, 1
	case model.HasReceipt(m.DeliveredTo, p.Peer):
		s.Status, s.Delivered = Delivered, 1
	}
	return s
}

// MultiPeer tracks every other active member of a group. A member who has
// read a message counts as having received it.
type MultiPeer struct {
	Members []int64
}

func (p MultiPeer) Summarize(m model.Message) Summary {
	s := Summary{Status: Sent, Total: len(p.Members)}
	for _, uid := range p.Members {
		switch {
		case model.HasReceipt(m.ReadBy, uid):
			s.Read++
			s.Delivered++
		case model.HasReceipt(m.DeliveredTo, uid):
			s.Delivered++
		}
	}
	if s.Total == 0 {
		return s
	}
	switch {
	case s.Read == s.Total:
		s.Status = Read
	case s.Delivered == s.Total:
		s.Status = Delivered
	}
	return s
}

// For picks the receipt model matching conv, as seen by self.
func For(conv model.Conversation, self int64) Tracker {
	if !conv.IsGroup {
		if peer, ok := conv.Peer(self); ok {
			return SinglePeer{Peer: peer}
		}
	}
	return MultiPeer{Members: conv.OtherActiveMembers(self)}
}
