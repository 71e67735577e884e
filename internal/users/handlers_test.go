package users

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/otp"
	"github.com/ageniuscoder/roomchat/internal/storage/sqlite"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct{ last string }

func (c *capture) Send(_ context.Context, _, _, code string) error {
	c.last = code
	return nil
}

func setup(t *testing.T) (*gin.Engine, *capture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := sqlite.New(fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	st := store.New(db.Db, store.SQLite)
	mail := &capture{}
	s := &Service{
		Store:     st,
		JWTSecret: "s",
		JWTTTLMin: 5,
		OTP:       &otp.Service{DB: st, Sender: mail, Digits: 6, TTL: time.Minute},
	}
	r := gin.New()
	RegisterPublic(r.Group("/api"), s)
	return r, mail
}

func post(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSignupLoginReset(t *testing.T) {
	r, mail := setup(t)
	signup := gin.H{"username": "alice", "email": "alice@example.com", "password": "correct-horse"}

	w := post(r, http.MethodPost, "/api/signup/initiate", gin.H{"username": "al", "email": "bad", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, http.MethodPost, "/api/signup/initiate", signup)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, mail.last, 6)

	verify := gin.H{"username": "alice", "email": "alice@example.com", "password": "correct-horse", "otp": "000000"}
	if mail.last == "000000" {
		verify["otp"] = "111111"
	}
	w = post(r, http.MethodPost, "/api/signup/verify", verify)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	verify["otp"] = mail.last
	w = post(r, http.MethodPost, "/api/signup/verify", verify)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	cl, err := auth.ParseToken("s", out.Token)
	require.NoError(t, err)
	assert.Equal(t, out.UserID, cl.UserID)

	w = post(r, http.MethodPost, "/api/signup/initiate", signup)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = post(r, http.MethodPost, "/api/login", gin.H{"username": "alice", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = post(r, http.MethodPost, "/api/login", gin.H{"username": "alice", "password": "correct-horse"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = post(r, http.MethodPost, "/api/forgot/initiate", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	w = post(r, http.MethodPut, "/api/forgot/reset", gin.H{"email": "alice@example.com", "otp": mail.last, "new_password": "battery-staple"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = post(r, http.MethodPost, "/api/login", gin.H{"username": "alice", "password": "battery-staple"})
	assert.Equal(t, http.StatusOK, w.Code)
}
