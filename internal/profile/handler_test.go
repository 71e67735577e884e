package profile

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/storage/sqlite"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := sqlite.New(fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	st := store.New(db.Db, store.SQLite)

	id, err := st.CreateUser(context.Background(), "erin", "erin@example.com", "hash")
	require.NoError(t, err)

	r := gin.New()
	g := r.Group("/api")
	g.Use(auth.JWTMiddleware("s"))
	Register(g, st)

	get := func(tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, get("").Code)

	tok, err := auth.NewToken("s", id, 5)
	require.NoError(t, err)
	w := get(tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"erin"`)
	assert.NotContains(t, w.Body.String(), "hash")

	ghost, err := auth.NewToken("s", id+100, 5)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, get(ghost).Code)
}
