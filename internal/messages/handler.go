package messages

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/reactions"
	"github.com/ageniuscoder/roomchat/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type sendReq struct {
	ConversationID int64         `json:"conversation_id" binding:"required,gt=0"`
	Content        string        `json:"content" binding:"max=4000"`
	Media          []model.Media `json:"media" binding:"max=10,dive"`
	ReplyTo        string        `json:"reply_to"`
}

type pageReq struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Before string `form:"before"`
}

type editReq struct {
	Content string `json:"content" binding:"required,max=4000"`
}

type reactReq struct {
	Emoji string `json:"emoji" binding:"required,emoji"`
}

type readReq struct {
	MessageIDs []string `json:"message_ids" binding:"required,min=1,max=500"`
}

var registerEmoji sync.Once

// RegisterValidators installs the "emoji" binding tag on gin's validator.
func RegisterValidators() {
	registerEmoji.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("emoji", func(fl validator.FieldLevel) bool {
				return reactions.ValidEmoji(fl.Field().String())
			})
		}
	})
}

func Register(rg *gin.RouterGroup, s *Service) {
	RegisterValidators()
	rg.POST("/messages", s.send)
	rg.GET("/conversations/:id/messages", s.list)
	rg.PATCH("/messages/:id", s.edit)
	rg.DELETE("/messages/:id", s.remove)
	rg.POST("/messages/:id/reactions", s.react)
	rg.POST("/messages/read", s.markRead)
}

func (s *Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	msg, err := s.SendMessage(c.Request.Context(), uid, req.ConversationID, wire.SendMessagePayload{
		Content: req.Content,
		Media:   req.Media,
		ReplyTo: req.ReplyTo,
	})
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (s *Service) list(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Fail(c, apperr.InvalidArg("invalid conversation id"))
		return
	}
	var q pageReq
	if err := c.ShouldBindQuery(&q); err != nil {
		httpx.Fail(c, apperr.InvalidArg("invalid paging parameters"))
		return
	}
	list, err := s.History(c.Request.Context(), uid, cid, q.Limit, q.Before)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"messages": list})
}

func (s *Service) edit(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req editReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	msg, err := s.EditMessage(c.Request.Context(), uid, c.Param("id"), req.Content)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"message": msg})
}

func (s *Service) remove(c *gin.Context) {
	uid := auth.MustUserID(c)
	if err := s.DeleteMessage(c.Request.Context(), uid, c.Param("id")); err != nil {
		httpx.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) react(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req reactReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	if err := s.ToggleReaction(c.Request.Context(), uid, c.Param("id"), req.Emoji); err != nil {
		httpx.Fail(c, err)
		return
	}
	m, err := s.Store.Message(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"message_id": m.ID, "reactions": m.Reactions, "seq": m.ReactionSeq})
}

func (s *Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req readReq
	if !httpx.BindJSON(c, &req) {
		return
	}
	for _, id := range req.MessageIDs {
		if err := s.MarkRead(c.Request.Context(), uid, id); err != nil {
			httpx.Fail(c, err)
			return
		}
	}
	httpx.OK(c, gin.H{"message": "marked as read"})
}
