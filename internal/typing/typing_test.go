package typing

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) emit(typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typing)
}

func (r *recorder) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestDebouncer_StopOncePerBurst(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	d := NewDebouncer(clock, time.Second, 0, rec.emit)

	for i := 0; i < 5; i++ {
		d.Keystroke()
		clock.Advance(300 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, rec.got())
	assert.True(t, d.Typing())

	clock.Advance(time.Second)
	assert.Equal(t, []bool{true, false}, rec.got())
	assert.False(t, d.Typing())

	clock.Advance(10 * time.Second)
	assert.Equal(t, []bool{true, false}, rec.got(), "no second stop without a new burst")

	d.Keystroke()
	clock.Advance(time.Second)
	assert.Equal(t, []bool{true, false, true, false}, rec.got())
}

func TestDebouncer_QuietWindowBoundary(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	d := NewDebouncer(clock, time.Second, 0, rec.emit)

	d.Keystroke()
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, []bool{true}, rec.got())
	clock.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.got())
}

func TestDebouncer_Refresh(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	d := NewDebouncer(clock, time.Second, 2*time.Second, rec.emit)

	for i := 0; i < 10; i++ {
		d.Keystroke()
		clock.Advance(500 * time.Millisecond)
	}
	// Keystrokes at 0, 0.5 .. 4.5s: start at 0s, refresh at 2s and 4s.
	assert.Equal(t, []bool{true, true, true}, rec.got())
	clock.Advance(time.Second)
	assert.Equal(t, []bool{true, true, true, false}, rec.got())
}

func TestDebouncer_StopAndReset(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	d := NewDebouncer(clock, time.Second, 0, rec.emit)

	d.Keystroke()
	d.Stop()
	clock.Advance(5 * time.Second)
	assert.Equal(t, []bool{true, false}, rec.got())

	d.Stop()
	assert.Equal(t, []bool{true, false}, rec.got(), "stop when idle emits nothing")

	d.Keystroke()
	d.Reset()
	clock.Advance(5 * time.Second)
	assert.Equal(t, []bool{true, false, true}, rec.got())
}

func TestDebouncer_KeystrokeDuringStopEmitIsOrdered(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	entered := make(chan struct{})
	release := make(chan struct{})
	d := NewDebouncer(clock, time.Second, 0, func(on bool) {
		if !on {
			close(entered)
			<-release
		}
		rec.emit(on)
	})

	d.Keystroke()
	go clock.Advance(time.Second)
	<-entered

	typed := make(chan struct{})
	go func() {
		d.Keystroke()
		close(typed)
	}()
	assert.Never(t, func() bool { return len(rec.got()) > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"a new start must wait for the pending stop")

	close(release)
	<-typed
	assert.Equal(t, []bool{true, false, true}, rec.got())
	assert.True(t, d.Typing())
}

func TestIndicator(t *testing.T) {
	ind := NewIndicator(1)
	ind.Open(10)

	assert.False(t, ind.Start(10, 1), "self is ignored")
	assert.False(t, ind.Start(11, 2), "other conversation is ignored")
	assert.True(t, ind.Start(10, 2))
	assert.False(t, ind.Start(10, 2))
	assert.True(t, ind.Start(10, 3))
	assert.Equal(t, []int64{2, 3}, ind.Typing())

	assert.True(t, ind.Stop(10, 2))
	assert.Equal(t, []int64{3}, ind.Typing())

	ind.Open(11)
	assert.Empty(t, ind.Typing())
}

func TestRegistry_TTL(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(6*time.Second, clock)
	k := Key{ConversationID: 1, UserID: 2}

	assert.True(t, r.Start(k))
	clock.Advance(4 * time.Second)
	assert.False(t, r.Start(k), "refresh extends the deadline")

	clock.Advance(4 * time.Second)
	assert.Empty(t, r.Sweep(clock.Now()))

	clock.Advance(2 * time.Second)
	assert.Equal(t, []Key{k}, r.Sweep(clock.Now()))
	assert.False(t, r.IsTyping(k))
	assert.Empty(t, r.Sweep(clock.Now()))
}

func TestRegistry_StopAndDropUser(t *testing.T) {
	r := NewRegistry(time.Minute, newFakeClock())
	r.Start(Key{ConversationID: 1, UserID: 2})
	r.Start(Key{ConversationID: 3, UserID: 2})
	r.Start(Key{ConversationID: 1, UserID: 4})

	assert.True(t, r.Stop(Key{ConversationID: 1, UserID: 4}))
	assert.False(t, r.Stop(Key{ConversationID: 1, UserID: 4}))

	dropped := r.DropUser(2)
	require.Len(t, dropped, 2)
	assert.Equal(t, int64(1), dropped[0].ConversationID)
	assert.Equal(t, int64(3), dropped[1].ConversationID)
}
