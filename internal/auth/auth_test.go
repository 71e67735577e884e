package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken("secret", 42, 5)
	require.NoError(t, err)

	cl, err := ParseToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cl.UserID)

	_, err = ParseToken("other", tok)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	tok, err := NewToken("secret", 1, -1)
	require.NoError(t, err)
	_, err = ParseToken("secret", tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectsForeignTokens(t *testing.T) {
	now := time.Now()
	sign := func(m jwt.SigningMethod, iss string) string {
		s, err := jwt.NewWithClaims(m, Claims{UserID: 3, RegisteredClaims: jwt.RegisteredClaims{
			Issuer: iss, ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}).SignedString([]byte("secret"))
		require.NoError(t, err)
		return s
	}

	_, err := ParseToken("secret", sign(jwt.SigningMethodHS256, "roomchat"))
	assert.NoError(t, err)
	_, err = ParseToken("secret", sign(jwt.SigningMethodHS512, "roomchat"))
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = ParseToken("secret", sign(jwt.SigningMethodHS256, "someone-else"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(h, "hunter2"))
	assert.Error(t, CheckPassword(h, "hunter3"))
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware("secret"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": MustUserID(c)})
	})

	do := func(target, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "Bearer garbage").Code)

	tok, _ := NewToken("secret", 7, 5)
	w := do("/me", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"uid":7}`, w.Body.String())

	assert.Equal(t, http.StatusOK, do("/me?token="+tok, "").Code)
}
