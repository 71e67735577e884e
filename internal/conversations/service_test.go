package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/storage/sqlite"
	"github.com/ageniuscoder/roomchat/internal/store"
	"github.com/ageniuscoder/roomchat/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	users []int64
	env   wire.Envelope
}

type fakeHub struct {
	notices []notice
	evicted [][2]int64
	closed  []int64
}

func (h *fakeHub) SendToUsers(userIDs []int64, env wire.Envelope) []int64 {
	h.notices = append(h.notices, notice{users: userIDs, env: env})
	return userIDs
}

func (h *fakeHub) EvictFromRoom(convID, userID int64) {
	h.evicted = append(h.evicted, [2]int64{convID, userID})
}

func (h *fakeHub) CloseRoom(convID int64) { h.closed = append(h.closed, convID) }

func (h *fakeHub) last() notice { return h.notices[len(h.notices)-1] }

type fixture struct {
	svc *Service
	hub *fakeHub
	ids map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.New(fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	st := store.New(db.Db, store.SQLite)
	f := &fixture{hub: &fakeHub{}, ids: map[string]int64{}}
	f.svc = NewService(st, f.hub)
	for _, name := range []string{"owner", "ann", "ben", "cat"} {
		id, err := st.CreateUser(context.Background(), name, name+"@example.com", "x")
		require.NoError(t, err)
		f.ids[name] = id
	}
	return f
}

func TestOpenPrivateIsReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenPrivate(ctx, f.ids["ann"], f.ids["ann"])
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	c1, err := f.svc.OpenPrivate(ctx, f.ids["ann"], f.ids["ben"])
	require.NoError(t, err)
	assert.False(t, c1.IsGroup)
	require.Len(t, f.hub.notices, 1)
	assert.Equal(t, wire.ConversationUpdated, f.hub.last().env.Type)

	c2, err := f.svc.OpenPrivate(ctx, f.ids["ben"], f.ids["ann"])
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Len(t, f.hub.notices, 1, "reuse does not notify")

	peer, ok := c2.Peer(f.ids["ben"])
	require.True(t, ok)
	assert.Equal(t, f.ids["ann"], peer)

	_, err = f.svc.OpenPrivate(ctx, f.ids["ann"], 9999)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestGroupAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, ann, ben, cat := f.ids["owner"], f.ids["ann"], f.ids["ben"], f.ids["cat"]

	g, err := f.svc.CreateGroup(ctx, owner, "  team ", []int64{ann, ben})
	require.NoError(t, err)
	assert.Equal(t, "team", g.Name)
	assert.True(t, g.IsAdmin(owner))
	assert.ElementsMatch(t, []int64{owner, ann, ben}, f.hub.last().users)

	_, err = f.svc.Rename(ctx, ann, g.ID, "mine")
	assert.ErrorIs(t, err, apperr.ErrNotAdmin)

	g, err = f.svc.SetRole(ctx, owner, g.ID, ann, model.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, g.IsAdmin(ann))

	g, err = f.svc.Rename(ctx, ann, g.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", g.Name)

	_, err = f.svc.SetRole(ctx, ann, g.ID, owner, model.RoleMember)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	g, err = f.svc.AddParticipant(ctx, ann, g.ID, cat)
	require.NoError(t, err)
	assert.True(t, g.IsActiveMember(cat))

	g, err = f.svc.RemoveParticipant(ctx, owner, g.ID, ben)
	require.NoError(t, err)
	assert.False(t, g.IsActiveMember(ben))
	assert.Contains(t, f.hub.last().users, ben, "removed user hears about it")
	assert.Contains(t, f.hub.evicted, [2]int64{g.ID, ben})

	_, err = f.svc.RemoveParticipant(ctx, ann, g.ID, owner)
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))

	_, err = f.svc.Get(ctx, ben, g.ID)
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}

func TestLeaveAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, ann := f.ids["owner"], f.ids["ann"]

	g, err := f.svc.CreateGroup(ctx, owner, "g", []int64{ann})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Leave(ctx, owner, g.ID), apperr.ErrCreatorCannotLeave)
	require.NoError(t, f.svc.Leave(ctx, ann, g.ID))
	assert.ErrorIs(t, f.svc.Leave(ctx, ann, g.ID), apperr.ErrNotParticipant)

	list, err := f.svc.List(ctx, ann)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, f.svc.Delete(ctx, owner, g.ID))
	assert.Equal(t, wire.ConversationDeleted, f.hub.last().env.Type)
	assert.Equal(t, []int64{g.ID}, f.hub.closed)

	_, err = f.svc.Get(ctx, owner, g.ID)
	assert.ErrorIs(t, err, apperr.ErrConversationNotFound)

	p, err := f.svc.OpenPrivate(ctx, owner, ann)
	require.NoError(t, err)
	assert.Equal(t, apperr.CodeFailedPrecondition, apperr.CodeOf(f.svc.Leave(ctx, ann, p.ID)))
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	Register(r.Group("/api", auth.JWTMiddleware("s")), f.svc)

	tok, err := auth.NewToken("s", f.ids["owner"], 5)
	require.NoError(t, err)
	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/conversations/group", gin.H{"name": "", "member_ids": []int64{f.ids["ann"]}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPost, "/api/conversations/group", gin.H{"name": "crew", "member_ids": []int64{f.ids["ann"]}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Conversation model.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	gid := out.Conversation.ID

	w = do(http.MethodPut, fmt.Sprintf("/api/conversations/%d/participants/%d/role", gid, f.ids["ann"]), gin.H{"role": "boss"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(http.MethodPut, fmt.Sprintf("/api/conversations/%d/participants/%d/role", gid, f.ids["ann"]), gin.H{"role": "admin"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/api/conversations/private", gin.H{"other_user_id": f.ids["ben"]})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "crew")

	w = do(http.MethodGet, "/api/conversations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPost, fmt.Sprintf("/api/conversations/%d/leave", gid), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(http.MethodDelete, fmt.Sprintf("/api/conversations/%d", gid), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(http.MethodGet, fmt.Sprintf("/api/conversations/%d", gid), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
