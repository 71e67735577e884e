package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

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

type sent struct {
	users []int64
	room  int64
	env   wire.Envelope
}

type fakeHub struct {
	mu     sync.Mutex
	online map[int64]bool
	out    []sent
}

func (h *fakeHub) SendToUsers(userIDs []int64, env wire.Envelope) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.out = append(h.out, sent{users: userIDs, env: env})
	var reached []int64
	for _, u := range userIDs {
		if h.online[u] {
			reached = append(reached, u)
		}
	}
	return reached
}

func (h *fakeHub) BroadcastRoom(convID int64, env wire.Envelope, _ int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.out = append(h.out, sent{room: convID, env: env})
}

func (h *fakeHub) types() []wire.Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ts []wire.Type
	for _, s := range h.out {
		ts = append(ts, s.env.Type)
	}
	return ts
}

func (h *fakeHub) last(t wire.Type) (wire.Envelope, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.out) - 1; i >= 0; i-- {
		if h.out[i].env.Type == t {
			return h.out[i].env, true
		}
	}
	return wire.Envelope{}, false
}

type fakeObjects struct{ deleted []string }

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fixture struct {
	svc   *Service
	hub   *fakeHub
	objs  *fakeObjects
	now   time.Time
	alice int64
	bob   int64
	carol int64
	conv  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.New(fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	st := store.New(db.Db, store.SQLite)
	f := &fixture{hub: &fakeHub{online: map[int64]bool{}}, objs: &fakeObjects{}, now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	st.Now = func() time.Time { return f.now }
	f.svc = NewService(st, f.hub, f.objs)
	f.svc.Now = func() time.Time { return f.now }

	ctx := context.Background()
	f.alice, err = st.CreateUser(ctx, "alice", "alice@example.com", "x")
	require.NoError(t, err)
	f.bob, err = st.CreateUser(ctx, "bob", "bob@example.com", "x")
	require.NoError(t, err)
	f.carol, err = st.CreateUser(ctx, "carol", "carol@example.com", "x")
	require.NoError(t, err)
	f.conv, _, err = st.CreatePrivate(ctx, f.alice, f.bob)
	require.NoError(t, err)
	return f
}

func TestSendMessageFanOutAndDelivery(t *testing.T) {
	f := newFixture(t)
	f.hub.online[f.alice] = true
	f.hub.online[f.bob] = true

	msg, err := f.svc.SendMessage(context.Background(), f.alice, f.conv, wire.SendMessagePayload{Content: "  hi  "})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, model.TypeText, msg.Type)
	assert.Equal(t, "alice", msg.SenderUsername)
	require.Len(t, msg.DeliveredTo, 1)
	assert.Equal(t, f.bob, msg.DeliveredTo[0].UserID)

	assert.Equal(t, []wire.Type{wire.MessageReceived, wire.MessageDelivered}, f.hub.types())
	assert.ElementsMatch(t, []int64{f.alice, f.bob}, f.hub.out[0].users)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{Content: "   "})
	assert.ErrorIs(t, err, apperr.ErrEmptyMessage)

	_, err = f.svc.SendMessage(ctx, f.carol, f.conv, wire.SendMessagePayload{Content: "hey"})
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)

	_, err = f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{Content: "re", ReplyTo: "missing"})
	assert.ErrorIs(t, err, apperr.ErrReplyNotFound)

	_, err = f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{Media: []model.Media{{MimeType: "image/png"}}})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestSendTwoAttachmentsIsMediaGroup(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.SendMessage(context.Background(), f.alice, f.conv, wire.SendMessagePayload{
		Media: []model.Media{
			{URL: "u1", Key: "k1", MimeType: "image/png"},
			{URL: "u2", Key: "k2", MimeType: "video/mp4"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TypeMediaGroup, msg.Type)
	require.Len(t, msg.Media, 2)
	assert.Equal(t, model.TypeImage, msg.Media[0].Type)
	assert.Equal(t, model.TypeVideo, msg.Media[1].Type)
	assert.Empty(t, msg.DeliveredTo, "offline recipient gets no delivery receipt")
}

func TestHistoryMarksDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{Content: "m2"})
	require.NoError(t, err)
	require.Empty(t, m.DeliveredTo)

	list, err := f.svc.History(ctx, f.bob, f.conv, 50, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].DeliveredTo, 1)
	assert.Equal(t, f.bob, list[0].DeliveredTo[0].UserID)

	env, ok := f.hub.last(wire.MessageDelivered)
	require.True(t, ok)
	var p wire.ReceiptPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, m.ID, p.MessageID)

	_, err = f.svc.History(ctx, f.carol, f.conv, 50, "")
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}

func TestMarkReadOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{Content: "read me"})
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRead(ctx, f.alice, m.ID), "own message is a no-op")
	require.NoError(t, f.svc.MarkRead(ctx, f.bob, m.ID))
	require.NoError(t, f.svc.MarkRead(ctx, f.bob, m.ID))

	n := 0
	for _, ty := range f.hub.types() {
		if ty == wire.MessageRead {
			n++
		}
	}
	assert.Equal(t, 1, n)

	got, err := f.svc.Store.Message(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, got.ReadBy, 1)
	require.Len(t, got.DeliveredTo, 1, "read implies delivered")

	assert.ErrorIs(t, f.svc.MarkRead(ctx, f.carol, m.ID), apperr.ErrNotParticipant)
}

func TestToggleReactionBroadcastsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{Content: "react"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ToggleReaction(ctx, f.bob, m.ID, "nope"), apperr.ErrInvalidEmoji)

	require.NoError(t, f.svc.ToggleReaction(ctx, f.bob, m.ID, "👍"))
	env, _ := f.hub.last(wire.ReactionChanged)
	var p wire.ReactionsPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, uint64(1), p.Seq)
	assert.Equal(t, []model.Reaction{{Emoji: "👍", UserID: f.bob}}, p.Reactions)

	require.NoError(t, f.svc.ToggleReaction(ctx, f.bob, m.ID, "👍"))
	env, _ = f.hub.last(wire.ReactionChanged)
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, uint64(2), p.Seq)
	assert.Empty(t, p.Reactions)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{
		Media: []model.Media{{URL: "u", Key: "uploads/k", MimeType: "audio/ogg"}},
	})
	require.NoError(t, err)

	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(f.svc.DeleteMessage(ctx, f.bob, m.ID)))
	require.NoError(t, f.svc.DeleteMessage(ctx, f.alice, m.ID))
	assert.Equal(t, []string{"uploads/k"}, f.objs.deleted)

	_, ok := f.hub.last(wire.MessageDeleted)
	assert.True(t, ok)
	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, f.alice, m.ID), apperr.ErrMessageNotFound)
}

func TestEditMessageWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.svc.SendMessage(ctx, f.alice, f.conv, wire.SendMessagePayload{Content: "typo"})
	require.NoError(t, err)

	_, err = f.svc.EditMessage(ctx, f.bob, m.ID, "hijack")
	assert.ErrorIs(t, err, apperr.ErrNotEditable)

	f.now = f.now.Add(9*time.Minute + 59*time.Second)
	edited, err := f.svc.EditMessage(ctx, f.alice, m.ID, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	require.NotNil(t, edited.EditedAt)

	f.now = f.now.Add(2 * time.Second)
	_, err = f.svc.EditMessage(ctx, f.alice, m.ID, "late")
	assert.ErrorIs(t, err, apperr.ErrEditWindowClosed)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	api := r.Group("/api", auth.JWTMiddleware("s"))
	Register(api, f.svc)

	tok, err := auth.NewToken("s", f.alice, 5)
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

	w := do(http.MethodPost, "/api/messages", gin.H{"conversation_id": f.conv, "content": "hello"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Message model.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	id := out.Message.ID

	w = do(http.MethodPost, "/api/messages", gin.H{"content": "no conv"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages?limit=10", f.conv), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = do(http.MethodPost, "/api/messages/"+id+"/reactions", gin.H{"emoji": "not-emoji"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(http.MethodPost, "/api/messages/"+id+"/reactions", gin.H{"emoji": "🎉"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"seq":1`)

	w = do(http.MethodPatch, "/api/messages/"+id, gin.H{"content": "hello!"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/api/messages/read", gin.H{"message_ids": []string{id}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodDelete, "/api/messages/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(http.MethodDelete, "/api/messages/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
