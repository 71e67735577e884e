package client

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/convstore"
	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/ageniuscoder/roomchat/internal/reactions"
	"github.com/ageniuscoder/roomchat/internal/receipts"
	"github.com/ageniuscoder/roomchat/internal/typing"
	"github.com/ageniuscoder/roomchat/internal/upload"
	"github.com/ageniuscoder/roomchat/internal/wire"
)

type Options struct {
	HistoryLimit int
	Quiet        time.Duration
	Refresh      time.Duration
	Clock        typing.Clock
	// OnChange, if set, is called on the loop goroutine after every change
	// to the open conversation.
	OnChange func(View)
}

// View is a read-only snapshot of the open conversation.
type View struct {
	Self         int64
	Open         bool
	Conversation model.Conversation
	Messages     []model.Message
	Typing       []int64
}

// Status derives the delivery state of one of self's messages.
func (v View) Status(m model.Message) receipts.Summary {
	return receipts.For(v.Conversation, v.Self).Summarize(m)
}

func (v View) Reactions(m model.Message) []reactions.Group {
	return reactions.Groups(m.Reactions, v.Self)
}

type SendResult struct {
	Message model.Message
	// Dropped names attachments that failed to upload and were left out.
	Dropped []string
}

// Window owns the open conversation. Every state mutation happens on the
// goroutine running Run; public methods post work to it. Network calls run
// off the loop and their results are discarded if the conversation changed
// in the meantime.
type Window struct {
	self  int64
	api   API
	tr    Transport
	opts  Options
	clock typing.Clock

	ops     chan func()
	stopped chan struct{}

	// loop-owned
	ctx       context.Context
	stale     bool
	store     *convstore.Store
	indicator *typing.Indicator
	debouncer *typing.Debouncer
	gen       uint64
	loading   int64
	buffered  []wire.Envelope
	sending   bool
}

func NewWindow(s Session, api API, tr Transport, opts Options) *Window {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.Quiet <= 0 {
		opts.Quiet = typing.DefaultQuiet
	}
	if opts.Refresh <= 0 {
		opts.Refresh = typing.DefaultRefresh
	}
	if opts.Clock == nil {
		opts.Clock = typing.SystemClock
	}
	return &Window{
		self:      s.UserID,
		api:       api,
		tr:        tr,
		opts:      opts,
		clock:     opts.Clock,
		ops:       make(chan func()),
		stopped:   make(chan struct{}),
		store:     convstore.New(s.UserID),
		indicator: typing.NewIndicator(s.UserID),
	}
}

// Run serves the loop until ctx ends.
func (w *Window) Run(ctx context.Context) {
	defer close(w.stopped)
	w.ctx = ctx
	events := w.tr.Events()
	for {
		select {
		case <-ctx.Done():
			w.closeCurrent()
			return
		case op := <-w.ops:
			op()
		case env, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if env.Type == wire.Reconnected {
				w.resync()
				continue
			}
			w.handle(env)
		}
	}
}

// do runs fn on the loop and waits for it.
func (w *Window) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case w.ops <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Window) send(env wire.Envelope) {
	if err := w.tr.Send(env); err != nil {
		slog.Debug("client_send_dropped", "type", env.Type, "err", err)
	}
}

func (w *Window) view() View {
	v := View{Self: w.self, Typing: w.indicator.Typing()}
	v.Conversation, v.Open = w.store.Conversation()
	if v.Open {
		v.Messages = w.store.Messages()
	}
	return v
}

func (w *Window) changed() {
	if w.opts.OnChange != nil {
		w.opts.OnChange(w.view())
	}
}

// closeCurrent leaves the open room and drops all typing state.
func (w *Window) closeCurrent() {
	if id := w.store.ConversationID(); id != 0 {
		w.send(wire.MustNew(wire.LeaveRoom, id, nil))
	} else if w.loading != 0 {
		w.send(wire.MustNew(wire.LeaveRoom, w.loading, nil))
	}
	if w.debouncer != nil {
		w.debouncer.Stop()
		w.debouncer = nil
	}
	w.indicator.Clear()
	w.store.Close()
	w.loading = 0
	w.stale = false
	w.buffered = nil
	w.gen++
}

func (w *Window) handle(env wire.Envelope) {
	switch env.Type {
	case wire.UserTyping, wire.UserStoppedTyping:
		var p wire.TypingPayload
		if env.Decode(&p) != nil {
			return
		}
		var ok bool
		if env.Type == wire.UserTyping {
			ok = w.indicator.Start(env.ConversationID, p.UserID)
		} else {
			ok = w.indicator.Stop(env.ConversationID, p.UserID)
		}
		if ok {
			w.changed()
		}
		return
	case wire.ConversationDeleted:
		if env.ConversationID != 0 && env.ConversationID == w.store.ConversationID() {
			w.closeCurrent()
			w.changed()
		}
		return
	case wire.Error:
		var p wire.ErrorPayload
		_ = env.Decode(&p)
		slog.Warn("server_error", "code", p.Code, "message", p.Message, "request", p.Request)
		return
	}

	if w.loading != 0 && env.ConversationID == w.loading {
		w.buffered = append(w.buffered, env)
		return
	}
	w.apply(env)
}

// resync refetches the latest page of the open conversation after the
// socket came back and merges it, so messages, receipts and deletions sent
// while it was down are not lost. A conversation that is still loading is
// resynced once its history lands.
func (w *Window) resync() {
	if w.loading != 0 {
		w.stale = true
		return
	}
	convID := w.store.ConversationID()
	if convID == 0 {
		return
	}
	ctx, gen := w.ctx, w.gen
	go func() {
		page, err := w.api.History(ctx, convID, w.opts.HistoryLimit, "")
		if err != nil {
			slog.Warn("client_resync_failed", "conversation_id", convID, "err", err)
			return
		}
		_ = w.do(ctx, func() {
			if gen != w.gen {
				return
			}
			inserted, changed := w.store.Merge(page, len(page) < w.opts.HistoryLimit)
			for _, m := range inserted {
				if m.SenderID != w.self && !model.HasReceipt(m.ReadBy, w.self) {
					w.send(wire.MustNew(wire.MarkRead, convID, wire.MessageRef{MessageID: m.ID}))
				}
			}
			if changed {
				w.changed()
			}
		})
	}()
}

func (w *Window) apply(env wire.Envelope) {
	out := w.store.Apply(env)
	if out.ReadAck != nil {
		w.send(*out.ReadAck)
	}
	if out.Changed {
		w.changed()
	}
}

// Open switches to convID: the old room is left, typing is cleared, the new
// room is joined and history is loaded. Events for convID that arrive while
// history loads are replayed on top of it.
func (w *Window) Open(ctx context.Context, convID int64) error {
	var gen uint64
	err := w.do(ctx, func() {
		w.closeCurrent()
		gen = w.gen
		w.loading = convID
		w.send(wire.MustNew(wire.JoinRoom, convID, nil))
	})
	if err != nil {
		return err
	}

	conv, err := w.api.Conversation(ctx, convID)
	var history []model.Message
	if err == nil {
		history, err = w.api.History(ctx, convID, w.opts.HistoryLimit, "")
	}
	if apperr.CodeOf(err) == apperr.CodeNotFound {
		err = ErrConversationNotFound
	}

	var result error
	postErr := w.do(ctx, func() {
		if gen != w.gen {
			result = ErrStale
			return
		}
		if err != nil {
			w.closeCurrent()
			result = err
			return
		}
		w.loading = 0
		w.store.Reset(conv, history)
		w.indicator.Open(convID)
		w.debouncer = typing.NewDebouncer(w.clock, w.opts.Quiet, w.opts.Refresh, func(on bool) {
			t := wire.StopTyping
			if on {
				t = wire.StartTyping
			}
			w.send(wire.MustNew(t, convID, nil))
		})
		for _, m := range history {
			if m.SenderID != w.self && !model.HasReceipt(m.ReadBy, w.self) {
				w.send(wire.MustNew(wire.MarkRead, convID, wire.MessageRef{MessageID: m.ID}))
			}
		}
		pending := w.buffered
		w.buffered = nil
		for _, env := range pending {
			w.apply(env)
		}
		w.changed()
		if w.stale {
			w.stale = false
			w.resync()
		}
	})
	if postErr != nil {
		return postErr
	}
	return result
}

// Close leaves the open conversation, if any.
func (w *Window) Close(ctx context.Context) error {
	return w.do(ctx, func() {
		w.closeCurrent()
		w.changed()
	})
}

// View returns a snapshot of the open conversation.
func (w *Window) View(ctx context.Context) (View, error) {
	var v View
	err := w.do(ctx, func() { v = w.view() })
	return v, err
}

// Keystroke feeds the typing debouncer of the open conversation.
func (w *Window) Keystroke(ctx context.Context) error {
	return w.do(ctx, func() {
		if w.debouncer != nil {
			w.debouncer.Keystroke()
		}
	})
}

// Send uploads files, then sends text and the uploaded attachments. A file
// that fails to upload is left out and named in the result. Only one send
// may be in flight at a time.
func (w *Window) Send(ctx context.Context, text string, files []upload.File, replyTo string) (SendResult, error) {
	var convID int64
	var gen uint64
	var pre error
	err := w.do(ctx, func() {
		convID = w.store.ConversationID()
		switch {
		case convID == 0:
			pre = ErrNoConversation
		case w.sending:
			pre = ErrInFlight
		default:
			w.sending = true
			gen = w.gen
			if w.debouncer != nil {
				w.debouncer.Stop()
			}
		}
	})
	if err != nil {
		return SendResult{}, err
	}
	if pre != nil {
		return SendResult{}, pre
	}
	defer func() {
		_ = w.do(context.Background(), func() { w.sending = false })
	}()

	var res SendResult
	var media []model.Media
	for _, f := range files {
		up, err := w.api.Upload(ctx, f)
		if err != nil {
			res.Dropped = append(res.Dropped, f.Name)
			continue
		}
		media = append(media, up.Media)
	}
	text = strings.TrimSpace(text)
	if text == "" && len(media) == 0 {
		if len(res.Dropped) > 0 {
			return res, apperr.ErrUploadFailed
		}
		return res, ErrEmpty
	}

	msg, err := w.api.Send(ctx, convID, wire.SendMessagePayload{
		Content: text,
		Type:    model.InferType(media),
		Media:   media,
		ReplyTo: replyTo,
	})
	if err != nil {
		return res, err
	}
	res.Message = msg

	var stale bool
	if err := w.do(ctx, func() {
		if gen != w.gen {
			stale = true
			return
		}
		if w.store.Insert(msg) {
			w.changed()
		}
	}); err != nil {
		return res, err
	}
	if stale {
		return res, ErrStale
	}
	return res, nil
}

// React toggles emoji on messageID.
func (w *Window) React(ctx context.Context, messageID, emoji string) error {
	if !reactions.ValidEmoji(emoji) {
		return apperr.ErrInvalidEmoji
	}
	return w.roomAction(ctx, wire.AddReaction, wire.ReactionPayload{MessageID: messageID, Emoji: emoji})
}

// Delete removes one of self's messages.
func (w *Window) Delete(ctx context.Context, messageID string) error {
	return w.roomAction(ctx, wire.DeleteMessage, wire.MessageRef{MessageID: messageID})
}

func (w *Window) roomAction(ctx context.Context, t wire.Type, payload any) error {
	var pre error
	err := w.do(ctx, func() {
		id := w.store.ConversationID()
		if id == 0 {
			pre = ErrNoConversation
			return
		}
		w.send(wire.MustNew(t, id, payload))
	})
	if err != nil {
		return err
	}
	return pre
}

// Edit replaces the text of one of self's recent text messages.
func (w *Window) Edit(ctx context.Context, messageID, content string) error {
	var pre error
	var gen uint64
	err := w.do(ctx, func() {
		m, ok := w.store.Message(messageID)
		if !ok {
			pre = apperr.ErrMessageNotFound
			return
		}
		if !model.CanEdit(m, w.self, w.clock.Now()) {
			pre = ErrNotEditable
			return
		}
		gen = w.gen
	})
	if err != nil {
		return err
	}
	if pre != nil {
		return pre
	}

	msg, err := w.api.Edit(ctx, messageID, content)
	if err != nil {
		return err
	}
	var stale bool
	err = w.do(ctx, func() {
		if gen != w.gen {
			stale = true
			return
		}
		at := w.clock.Now()
		if msg.EditedAt != nil {
			at = *msg.EditedAt
		}
		w.apply(wire.MustNew(wire.MessageEdited, msg.ConversationID,
			wire.EditedPayload{MessageID: msg.ID, Content: msg.Content, EditedAt: at}))
	})
	if err != nil {
		return err
	}
	if stale {
		return ErrStale
	}
	return nil
}

// IsNotFound reports whether err means the conversation is gone and the
// caller should go back to its list.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}
