package conversations

import (
	"net/http"
	"strconv"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/gin-gonic/gin"
)

type privateReq struct {
	OtherUserID int64 `json:"other_user_id" binding:"required,gt=0"`
}

type groupReq struct {
	Name      string  `json:"name" binding:"required,min=1,max=100"`
	MemberIDs []int64 `json:"member_ids" binding:"max=256,dive,gt=0"`
}

type renameReq struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

type addReq struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

type roleReq struct {
	Role string `json:"role" binding:"required,oneof=admin member"`
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.GET("/conversations", s.listMine)
	rg.GET("/conversations/:id", s.get)
	rg.POST("/conversations/private", s.createOrGetPrivate)
	rg.POST("/conversations/group", s.createGroup)
	rg.PATCH("/conversations/:id", s.rename)
	rg.DELETE("/conversations/:id", s.remove)
	rg.POST("/conversations/:id/participants", s.addParticipant)
	rg.DELETE("/conversations/:id/participants/:userId", s.removeParticipant)
	rg.PUT("/conversations/:id/participants/:userId/role", s.setRole)
	rg.POST("/conversations/:id/leave", s.leave)
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(c, apperr.InvalidArg("invalid "+name))
		return 0, false
	}
	return id, true
}

func (s *Service) listMine(c *gin.Context) {
	list, err := s.List(c.Request.Context(), auth.MustUserID(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversations": list})
}

func (s *Service) get(c *gin.Context) {
	cid, ok := idParam(c, "id")
	if !ok {
		return
	}
	conv, err := s.Get(c.Request.Context(), auth.MustUserID(c), cid)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s *Service) createOrGetPrivate(c *gin.Context) {
	var req privateReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	conv, err := s.OpenPrivate(c.Request.Context(), auth.MustUserID(c), req.OtherUserID)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s *Service) createGroup(c *gin.Context) {
	var req groupReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	conv, err := s.CreateGroup(c.Request.Context(), auth.MustUserID(c), req.Name, req.MemberIDs)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (s *Service) rename(c *gin.Context) {
	cid, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req renameReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	conv, err := s.Rename(c.Request.Context(), auth.MustUserID(c), cid, req.Name)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s *Service) remove(c *gin.Context) {
	cid, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := s.Delete(c.Request.Context(), auth.MustUserID(c), cid); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) addParticipant(c *gin.Context) {
	cid, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req addReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	conv, err := s.AddParticipant(c.Request.Context(), auth.MustUserID(c), cid, req.UserID)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s *Service) removeParticipant(c *gin.Context) {
	cid, ok := idParam(c, "id")
	if !ok {
		return
	}
	target, ok := idParam(c, "userId")
	if !ok {
		return
	}
	conv, err := s.RemoveParticipant(c.Request.Context(), auth.MustUserID(c), cid, target)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s *Service) setRole(c *gin.Context) {
	cid, ok := idParam(c, "id")
	if !ok {
		return
	}
	target, ok := idParam(c, "userId")
	if !ok {
		return
	}
	var req roleReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	conv, err := s.SetRole(c.Request.Context(), auth.MustUserID(c), cid, target, model.Role(req.Role))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s *Service) leave(c *gin.Context) {
	cid, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := s.Leave(c.Request.Context(), auth.MustUserID(c), cid); err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}
