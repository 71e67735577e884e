package httpx

import (
	"log/slog"
	"time"

	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/gin-gonic/gin"
)

// RequestLogger logs one line per request. Websocket upgrades are logged when
// the connection ends, so their latency is the session length.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		}
		if uid, ok := c.Get(string(auth.CtxUserID)); ok {
			attrs = append(attrs, "user_id", uid)
		}
		switch {
		case status >= 500:
			slog.Error("http_request", attrs...)
		case status >= 400:
			slog.Warn("http_request", attrs...)
		default:
			slog.Info("http_request", attrs...)
		}
	}
}
