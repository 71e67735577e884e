package typing

import (
	"sync"
	"time"
)

const (
	DefaultQuiet   = 1000 * time.Millisecond
	DefaultRefresh = 3 * time.Second
	DefaultTTL     = 6 * time.Second
)

// Debouncer turns a keystroke stream into start/stop typing signals. The
// first keystroke of a burst emits start; the burst ends, and stop is emitted
// once, after quiet passes with no keystroke. With refresh > 0 a long burst
// re-emits start every refresh so server-side TTLs keep the typist alive.
type Debouncer struct {
	clock   Clock
	quiet   time.Duration
	refresh time.Duration
	emit    func(typing bool)

	// emitMu orders emits the same way as the state changes behind them.
	emitMu sync.Mutex

	mu        sync.Mutex
	typing    bool
	lastStart time.Time
	timer     Timer
	gen       uint64
}

func NewDebouncer(clock Clock, quiet, refresh time.Duration, emit func(typing bool)) *Debouncer {
	if clock == nil {
		clock = SystemClock
	}
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Debouncer{clock: clock, quiet: quiet, refresh: refresh, emit: emit}
}

func (d *Debouncer) Keystroke() {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.Lock()
	now := d.clock.Now()
	start := false
	switch {
	case !d.typing:
		d.typing = true
		d.lastStart = now
		start = true
	case d.refresh > 0 && now.Sub(d.lastStart) >= d.refresh:
		d.lastStart = now
		start = true
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.quiet, func() { d.expire(gen) })
	d.mu.Unlock()

	if start {
		d.emit(true)
	}
}

func (d *Debouncer) expire(gen uint64) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.Lock()
	if gen != d.gen || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()
	d.emit(false)
}

// Stop ends the current burst immediately, emitting stop if one was running.
func (d *Debouncer) Stop() {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	if d.halt() {
		d.emit(false)
	}
}

// Reset ends the current burst without emitting anything.
func (d *Debouncer) Reset() {
	d.halt()
}

func (d *Debouncer) halt() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	was := d.typing
	d.typing = false
	return was
}

func (d *Debouncer) Typing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}
