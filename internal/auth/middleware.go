package auth

import (
	"net/http"
	"strings"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/gin-gonic/gin"
)

type ctxKey string

const CtxUserID ctxKey = "uid"

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": apperr.CodeUnauthenticated})
}

// BearerToken extracts the token from "Authorization: Bearer" or, for
// websocket upgrades that cannot set headers, the "token" query parameter.
func BearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

func JWTMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c)
		if tok == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		claims, err := ParseToken(secret, tok)
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		c.Set(string(CtxUserID), claims.UserID)
		c.Next()
	}
}

func MustUserID(c *gin.Context) int64 {
	if v, ok := c.Get(string(CtxUserID)); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}
