package httpx

import (
	"errors"
	"log/slog"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func OK(c *gin.Context, v any) {
	c.JSON(200, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// Fail maps err onto an HTTP status and a caller-safe body. Internal causes
// are logged, never returned.
func Fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		slog.Error("request_failed", "path", c.FullPath(), "method", c.Request.Method, "err", err)
	}
	c.JSON(status, gin.H{"error": apperr.Message(err), "code": apperr.CodeOf(err)})
}

// BindJSON decodes the body into v and writes a 400 with field details when
// it fails. It reports whether the handler should continue.
func BindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			Err(c, 400, utils.ValidationErr(ve))
			return false
		}
		Err(c, 400, "invalid request body")
		return false
	}
	return true
}
