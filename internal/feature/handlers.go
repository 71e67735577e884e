package feature

import (
	"strconv"
	"strings"
	"time"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/gin-gonic/gin"
)

// Presence reports live socket state.
type Presence interface {
	Online(userID int64) bool
}

type Service struct {
	Store    *store.Store
	Presence Presence
}

func Register(rg *gin.RouterGroup, st *store.Store, p Presence) {
	s := Service{
		Store:    st,
		Presence: p,
	}
	rg.GET("/users/:id/last-seen", s.getLastSeen)
	rg.GET("/users/search", s.searchUsers)
}

func (s *Service) searchUsers(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		httpx.Fail(c, apperr.InvalidArg("query parameter is required"))
		return
	}

	list, err := s.Store.SearchUsers(c.Request.Context(), query, 10)
	if err != nil {
		httpx.Fail(c, apperr.Internal("user search failed", err))
		return
	}
	users := make([]gin.H, 0, len(list))
	for _, u := range list {
		users = append(users, gin.H{"id": u.ID, "username": u.Username})
	}
	httpx.OK(c, gin.H{"users": users})
}

func (s *Service) getLastSeen(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Fail(c, apperr.InvalidArg("invalid user id"))
		return
	}

	u, err := s.Store.UserByID(c.Request.Context(), userID)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	online := s.Presence != nil && s.Presence.Online(userID)
	httpx.OK(c, gin.H{"online": online, "last_seen": u.LastActive.UTC().Format(time.RFC3339)})
}
