package model

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Participant struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

type Conversation struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name,omitempty"`
	IsGroup      bool          `json:"is_group"`
	CreatedBy    int64         `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
	Participants []Participant `json:"participants"`
}

func (c Conversation) Participant(userID int64) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c Conversation) IsActiveMember(userID int64) bool {
	p, ok := c.Participant(userID)
	return ok && p.IsActive
}

func (c Conversation) IsAdmin(userID int64) bool {
	p, ok := c.Participant(userID)
	return ok && p.IsActive && p.Role == RoleAdmin
}

// OtherActiveMembers lists active participants except self, in stored order.
func (c Conversation) OtherActiveMembers(self int64) []int64 {
	var out []int64
	for _, p := range c.Participants {
		if p.IsActive && p.UserID != self {
			out = append(out, p.UserID)
		}
	}
	return out
}

// Peer returns the other party of a 1:1 conversation.
func (c Conversation) Peer(self int64) (int64, bool) {
	if c.IsGroup {
		return 0, false
	}
	others := c.OtherActiveMembers(self)
	if len(others) != 1 {
		return 0, false
	}
	return others[0], true
}
