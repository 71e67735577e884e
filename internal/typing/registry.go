package typing

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Key struct {
	ConversationID int64
	UserID         int64
}

// Registry is the server's view of who is typing where. Every start carries
// a TTL; entries that are not refreshed in time are swept and reported so the
// server can emit the stop event the sender never sent.
type Registry struct {
	ttl   time.Duration
	clock Clock

	mu      sync.Mutex
	entries map[Key]time.Time
}

func NewRegistry(ttl time.Duration, clock Clock) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Registry{ttl: ttl, clock: clock, entries: make(map[Key]time.Time)}
}

// Start records or refreshes k. It reports whether k was not typing before.
func (r *Registry) Start(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.entries[k]
	r.entries[k] = r.clock.Now().Add(r.ttl)
	return !existed
}

// Stop removes k and reports whether it was typing.
func (r *Registry) Stop(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.entries[k]
	delete(r.entries, k)
	return existed
}

func (r *Registry) IsTyping(k Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[k]
	return ok
}

// Sweep removes and returns every entry whose deadline is not after now.
func (r *Registry) Sweep(now time.Time) []Key {
	r.mu.Lock()
	var expired []Key
	for k, deadline := range r.entries {
		if !deadline.After(now) {
			expired = append(expired, k)
			delete(r.entries, k)
		}
	}
	r.mu.Unlock()
	sortKeys(expired)
	return expired
}

// DropUser removes every entry of userID, e.g. when their last socket closes.
func (r *Registry) DropUser(userID int64) []Key {
	r.mu.Lock()
	var dropped []Key
	for k := range r.entries {
		if k.UserID == userID {
			dropped = append(dropped, k)
			delete(r.entries, k)
		}
	}
	r.mu.Unlock()
	sortKeys(dropped)
	return dropped
}

// Run sweeps every interval until ctx ends, calling onExpire per stale entry.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onExpire func(Key)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, k := range r.Sweep(r.clock.Now()) {
				onExpire(k)
			}
		}
	}
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ConversationID != keys[j].ConversationID {
			return keys[i].ConversationID < keys[j].ConversationID
		}
		return keys[i].UserID < keys[j].UserID
	})
}
