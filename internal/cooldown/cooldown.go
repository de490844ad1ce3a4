// Package cooldown tracks per-(user, command) cooldown windows in memory.
package cooldown

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

type entry struct {
	expires time.Time
	timer   *time.Timer
}

// Tracker is a mutex-guarded map of cooldown expiries. Entries remove
// themselves once they lapse.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New returns an empty Tracker using the cached process clock.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]*entry),
		now:     timecache.CachedTime,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Key builds the map key for a user and command.
func Key(userID, command string) string {
	return userID + ":" + command
}

// OnCooldown reports whether the pair is still inside its window.
func (t *Tracker) OnCooldown(userID, command string) bool {
	return t.Remaining(userID, command) > 0
}

// Remaining returns the time left on the pair's window, or zero.
func (t *Tracker) Remaining(userID, command string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[Key(userID, command)]
	if !ok {
		return 0
	}
	left := e.expires.Sub(t.now())
	if left <= 0 {
		return 0
	}
	return left
}

// Set arms the pair for d, replacing any existing window. A non-positive d
// clears it.
func (t *Tracker) Set(userID, command string, d time.Duration) {
	key := Key(userID, command)

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.entries[key]; ok {
		prev.timer.Stop()
		delete(t.entries, key)
	}
	if d <= 0 {
		return
	}

	e := &entry{expires: t.now().Add(d)}
	e.timer = time.AfterFunc(d, func() { t.evict(key, e) })
	t.entries[key] = e
}

// Len returns the number of tracked windows, including lapsed ones not yet evicted.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop cancels all eviction timers and clears the map.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}

func (t *Tracker) evict(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.entries[key]; ok && current == e {
		delete(t.entries, key)
	}
}
