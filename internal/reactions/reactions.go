package reactions

import (
	"strings"

	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/forPelevin/gomoji"
)

// Group is the display form of every reaction sharing one emoji.
type Group struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users"`
	Mine  bool    `json:"mine"`
}

// Groups collapses a flat reaction list into per-emoji groups. Groups keep the
// order in which their emoji first appears in list, so a replaced snapshot
// with the same prefix renders identically.
func Groups(list []model.Reaction, self int64) []Group {
	var out []Group
	pos := make(map[string]int)
	seen := make(map[model.Reaction]struct{}, len(list))
	for _, r := range list {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}

		i, ok := pos[r.Emoji]
		if !ok {
			i = len(out)
			pos[r.Emoji] = i
			out = append(out, Group{Emoji: r.Emoji})
		}
		g := &out[i]
		g.Count++
		g.Users = append(g.Users, r.UserID)
		if r.UserID == self {
			g.Mine = true
		}
	}
	return out
}

// Dedupe drops repeated (emoji, user) pairs, keeping first occurrences.
func Dedupe(list []model.Reaction) []model.Reaction {
	if len(list) == 0 {
		return []model.Reaction{}
	}
	seen := make(map[model.Reaction]struct{}, len(list))
	out := make([]model.Reaction, 0, len(list))
	for _, r := range list {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Has reports whether user already reacted with emoji.
func Has(list []model.Reaction, userID int64, emoji string) bool {
	for _, r := range list {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ValidEmoji accepts keys made of emoji only, e.g. "👍" or "🎉🎉".
func ValidEmoji(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 64 {
		return false
	}
	if !gomoji.ContainsEmoji(s) {
		return false
	}
	return strings.TrimSpace(gomoji.RemoveEmojis(s)) == ""
}
