// Package cursor keeps ephemeral remote pointer positions with time-based expiry.
package cursor

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/and161185/collabify/internal/model"
)

// DefaultTTL is how long a cursor survives without a refresh from its owner.
const DefaultTTL = 3000 * time.Millisecond

// Tracker holds at most one cursor per remote user.
//
// A Tracker is owned by a single goroutine (the engine loop). Eviction timers
// hand their work back to that goroutine through post.
type Tracker struct {
	clock    clockwork.Clock
	ttl      time.Duration
	post     func(func())
	onChange func()

	localID string
	entries map[string]*entry
	seq     uint64
	stopped bool
}

type entry struct {
	cur   model.CursorEntry
	seq   uint64
	timer clockwork.Timer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option { return func(t *Tracker) { t.ttl = d } }

// WithPost routes timer callbacks through the owner's event loop.
func WithPost(post func(func())) Option { return func(t *Tracker) { t.post = post } }

// WithOnChange registers a hook invoked after every observe or eviction.
func WithOnChange(fn func()) Option { return func(t *Tracker) { t.onChange = fn } }

// New constructs a Tracker.
func New(clock clockwork.Clock, opts ...Option) *Tracker {
	t := &Tracker{
		clock:    clock,
		ttl:      DefaultTTL,
		post:     func(f func()) { f() },
		onChange: func() {},
		entries:  make(map[string]*entry),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetLocal records the local user id; an existing cursor for it is dropped.
func (t *Tracker) SetLocal(id string) {
	t.localID = id
	t.Forget(id)
}

// Observe replaces the owner's cursor and schedules its eviction.
// Reports false for the local user, an unassigned owner, or a stopped tracker.
func (t *Tracker) Observe(owner model.UserIdentity, pos model.Position) bool {
	if t.stopped || owner.IsZero() || owner.UserID == t.localID {
		return false
	}
	id := owner.UserID
	if old, ok := t.entries[id]; ok {
		old.timer.Stop()
	}
	t.seq++
	seq := t.seq
	e := &entry{
		cur: model.CursorEntry{Owner: owner, Position: pos, LastSeenAt: t.clock.Now()},
		seq: seq,
	}
	e.timer = t.clock.AfterFunc(t.ttl, func() {
		t.post(func() { t.evict(id, seq) })
	})
	t.entries[id] = e
	t.onChange()
	return true
}

// Forget drops a user's cursor, e.g. when the user leaves the session.
func (t *Tracker) Forget(id string) {
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(t.entries, id)
	t.onChange()
}

// evict removes the entry only if it still carries the sequence number the
// timer was armed with; refreshed entries have a newer one.
func (t *Tracker) evict(id string, seq uint64) {
	if t.stopped {
		return
	}
	e, ok := t.entries[id]
	if !ok || e.seq != seq {
		return
	}
	delete(t.entries, id)
	t.onChange()
}

// Current returns live cursors at this instant, in no particular order.
func (t *Tracker) Current() []model.CursorEntry {
	now := t.clock.Now()
	out := make([]model.CursorEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if now.Before(e.cur.LastSeenAt.Add(t.ttl)) {
			out = append(out, e.cur)
		}
	}
	return out
}

// Stop cancels all eviction timers and clears state. Idempotent.
func (t *Tracker) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	for id, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, id)
	}
}
