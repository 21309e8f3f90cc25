// Package dedup suppresses redisplay of messages a session has already
// rendered: its own optimistic echoes and replays within a short window.
package dedup

import (
	"sync"
	"time"

	"github.com/MoldoAndr/EL8S-Shop/internal/chat"
)

const (
	// DefaultWindow suppresses UI echoes and quick replays.
	DefaultWindow     = 5 * time.Second
	// DefaultRetention bounds how long a key is remembered at all.
	DefaultRetention  = time.Minute
	// DefaultPurgeEvery is how many processed messages pass between purges.
	DefaultPurgeEvery = 100
)

// Filter remembers when each message key was last recorded. It is safe for
// concurrent use.
type Filter struct {
	window     time.Duration
	retention  time.Duration
	purgeEvery int
	now        func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	processed int
}

// Option customizes a Filter.
type Option func(*Filter)

// WithWindow sets how long a recorded key suppresses another copy.
func WithWindow(d time.Duration) Option {
	return func(f *Filter) { f.window = d }
}

// WithRetention sets the age after which purges drop a key.
func WithRetention(d time.Duration) Option {
	return func(f *Filter) { f.retention = d }
}

// WithPurgeEvery sets how many processed messages trigger a purge.
func WithPurgeEvery(n int) Option {
	return func(f *Filter) { f.purgeEvery = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// New creates an empty Filter.
func New(opts ...Option) *Filter {
	f := &Filter{
		window:     DefaultWindow,
		retention:  DefaultRetention,
		purgeEvery: DefaultPurgeEvery,
		now:        time.Now,
		seen:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.retention < f.window {
		f.retention = f.window
	}
	if f.purgeEvery < 1 {
		f.purgeEvery = 1
	}
	return f
}

// Key returns the dedup key for msg: its id, or a fingerprint of username,
// body and timestamp. It returns "" when neither can be built.
func Key(msg chat.Message) string {
	if msg.ID != "" {
		return msg.ID
	}
	if msg.Username == "" || msg.Message == "" || msg.Timestamp.IsZero() {
		return ""
	}
	return msg.Username + "\x00" + msg.Message + "\x00" + msg.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Accept reports whether msg should be rendered and records it if so. A copy
// arriving inside the window is rejected without extending it. Messages
// without a key are always accepted.
func (f *Filter) Accept(msg chat.Message) bool {
	key := Key(msg)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick()

	if key == "" {
		return true
	}
	now := f.now()
	if last, ok := f.seen[key]; ok && now.Sub(last) < f.window {
		return false
	}
	f.seen[key] = now
	return true
}

// Record marks key as seen now, for messages rendered ahead of their echo.
func (f *Filter) Record(key string) {
	if key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick()
	f.seen[key] = f.now()
}

// Seen reports whether key was recorded within the window.
func (f *Filter) Seen(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.seen[key]
	return ok && f.now().Sub(last) < f.window
}

// Forget drops key.
func (f *Filter) Forget(key string) {
	f.mu.Lock()
	delete(f.seen, key)
	f.mu.Unlock()
}

// Clear drops every key.
func (f *Filter) Clear() {
	f.mu.Lock()
	clear(f.seen)
	f.processed = 0
	f.mu.Unlock()
}

// Len returns the number of remembered keys, expired ones included until the
// next purge.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// tick must be called with mu held.
func (f *Filter) tick() {
	f.processed++
	if f.processed%f.purgeEvery != 0 {
		return
	}
	cutoff := f.now().Add(-f.retention)
	for key, last := range f.seen {
		if last.Before(cutoff) {
			delete(f.seen, key)
		}
	}
}
