package profile

import (
	"net/http"

	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/gin-gonic/gin"
)

type Service struct {
	Store *store.Store
}

func Register(rg *gin.RouterGroup, st *store.Store) {
	s := Service{
		Store: st,
	}
	rg.GET("/me", s.getMe)
}

func (s Service) getMe(c *gin.Context) {
	uid := auth.MustUserID(c)

	if uid == 0 {
		httpx.Err(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := s.Store.UserByID(c.Request.Context(), uid)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"user": u})
}
