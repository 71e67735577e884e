package chat

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var errMalformed = apperr.InvalidArg("malformed envelope")

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

// originChecker admits requests without an Origin header (native clients),
// same-origin browsers, and any origin listed in allowed. "*" admits all.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// RegisterWS mounts GET /ws for authenticated clients.
// Auth works via:
// 1) Header: Authorization: Bearer <JWT>
// 2) Query:  ?token=<JWT>
//
// Browser upgrades are limited to the same origin plus allowedOrigins.
func RegisterWS(rg *gin.RouterGroup, hub *Hub, jwtSecret string, allowedOrigins []string) {
	upgrader := newUpgrader(allowedOrigins)
	rg.GET("/ws", func(c *gin.Context) {
		token := auth.BearerToken(c)
		if token == "" {
			httpx.Fail(c, apperr.Unauthorized("missing token"))
			return
		}
		cl, err := auth.ParseToken(jwtSecret, token)
		if err != nil {
			httpx.Fail(c, apperr.Unauthorized("invalid token"))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Debug("ws_upgrade_failed", "user_id", cl.UserID, "origin", c.GetHeader("Origin"), "err", err)
			return
		}
		hub.newClient(conn, cl.UserID).serve()
	})
}
