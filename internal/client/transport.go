package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ageniuscoder/roomchat/internal/wire"
	"github.com/gorilla/websocket"
)

// Transport is the socket half: fire-and-forget outbound envelopes and a
// stream of inbound ones.
type Transport interface {
	Send(env wire.Envelope) error
	Events() <-chan wire.Envelope
}

var ErrBackpressure = errors.New("client: outbound queue is full")

type WSOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Queue      int
}

// WSTransport keeps one websocket open to the server, redialling with
// exponential backoff. After every reconnect it re-joins the room that was
// last joined and emits a local wire.Reconnected envelope, so the consumer
// can refetch whatever it missed while the socket was down.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
	opts   WSOptions

	out    chan wire.Envelope
	events chan wire.Envelope

	mu        sync.Mutex
	room      int64
	connected bool
}

func DialWS(ctx context.Context, s Session, opts WSOptions) (*WSTransport, error) {
	u, err := s.WSURL()
	if err != nil {
		return nil, err
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	t := &WSTransport{
		url:    u,
		dialer: websocket.DefaultDialer,
		opts:   opts,
		out:    make(chan wire.Envelope, opts.Queue),
		events: make(chan wire.Envelope, 256),
	}
	go t.run(ctx)
	return t, nil
}

func (t *WSTransport) Events() <-chan wire.Envelope { return t.events }

func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Send queues env for the writer. Join and leave also update the room that
// is re-joined after a reconnect.
func (t *WSTransport) Send(env wire.Envelope) error {
	t.mu.Lock()
	switch env.Type {
	case wire.JoinRoom:
		t.room = env.ConversationID
	case wire.LeaveRoom:
		if t.room == env.ConversationID {
			t.room = 0
		}
	}
	t.mu.Unlock()

	select {
	case t.out <- env:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *WSTransport) activeRoom() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.room
}

func (t *WSTransport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *WSTransport) run(ctx context.Context) {
	defer close(t.events)
	backoff := t.opts.MinBackoff
	resumed := false
	for {
		conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("ws_dial_failed", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > t.opts.MaxBackoff {
				backoff = t.opts.MaxBackoff
			}
			continue
		}
		backoff = t.opts.MinBackoff
		t.setConnected(true)
		t.serve(ctx, conn, resumed)
		t.setConnected(false)
		resumed = true
		if ctx.Err() != nil {
			return
		}
	}
}

// serve pumps one connection until it fails or ctx ends.
func (t *WSTransport) serve(ctx context.Context, conn *websocket.Conn, resumed bool) {
	readerDone := make(chan struct{})
	defer func() {
		conn.Close()
		<-readerDone
	}()
	go func() {
		defer close(readerDone)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Parse(b)
			if err != nil {
				continue
			}
			select {
			case t.events <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	room := t.activeRoom()
	if room != 0 {
		if err := t.write(conn, wire.MustNew(wire.JoinRoom, room, nil)); err != nil {
			return
		}
	}
	if resumed {
		slog.Info("ws_reconnected", "room", room)
		select {
		case t.events <- wire.MustNew(wire.Reconnected, room, nil):
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-readerDone:
			return
		case env := <-t.out:
			if err := t.write(conn, env); err != nil {
				slog.Debug("ws_write_failed", "type", env.Type, "err", err)
				return
			}
		}
	}
}

func (t *WSTransport) write(conn *websocket.Conn, env wire.Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
