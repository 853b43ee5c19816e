// Package outbound rate-limits local edit broadcasts with a throttle and a debounce
// running side by side over the same stream of edits.
package outbound

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/model"
)

// Cadence is a pair of throttle window and debounce quiet period.
type Cadence struct {
	Throttle time.Duration
	Debounce time.Duration
}

var (
	// TextCadence suits rich-text editing.
	TextCadence = Cadence{Throttle: 200 * time.Millisecond, Debounce: 400 * time.Millisecond}
	// PointerCadence suits pointer-only streams such as the whiteboard.
	PointerCadence = Cadence{Throttle: 100 * time.Millisecond, Debounce: 300 * time.Millisecond}
)

// SendFunc hands an edit to the transport.
type SendFunc func(model.OutboundEdit)

// Scheduler emits the first edit of every throttle window immediately and the
// last edit once submissions go quiet for the debounce period. Both may carry
// the same content; receivers replace full content so duplicates are harmless.
//
// A Scheduler is owned by a single goroutine; timers come back through post.
type Scheduler struct {
	clock   clockwork.Clock
	cadence Cadence
	send    SendFunc
	post    func(func())
	log     *zap.Logger

	throttling    bool
	throttleTimer clockwork.Timer

	pending       model.OutboundEdit
	debounceTimer clockwork.Timer
	debounceSeq   uint64

	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPost routes timer callbacks through the owner's event loop.
func WithPost(post func(func())) Option { return func(s *Scheduler) { s.post = post } }

// WithLogger sets the logger (no-op by default).
func WithLogger(l *zap.Logger) Option { return func(s *Scheduler) { s.log = l } }

// New constructs a Scheduler. Zero cadence fields fall back to TextCadence.
func New(clock clockwork.Clock, cadence Cadence, send SendFunc, opts ...Option) *Scheduler {
	if cadence.Throttle <= 0 {
		cadence.Throttle = TextCadence.Throttle
	}
	if cadence.Debounce <= 0 {
		cadence.Debounce = TextCadence.Debounce
	}
	s := &Scheduler{
		clock:   clock,
		cadence: cadence,
		send:    send,
		post:    func(f func()) { f() },
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit schedules an edit. It never blocks on the network.
func (s *Scheduler) Submit(edit model.OutboundEdit) {
	if s.stopped {
		return
	}

	// throttle: leading edge, window resets only when it expires
	if !s.throttling {
		s.throttling = true
		s.log.Debug("throttle send", zap.Int("len", len(edit.Content)))
		s.send(edit)
		s.throttleTimer = s.clock.AfterFunc(s.cadence.Throttle, func() {
			s.post(s.endWindow)
		})
	}

	// debounce: every submit restarts the quiet period
	s.pending = edit
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceSeq++
	seq := s.debounceSeq
	s.debounceTimer = s.clock.AfterFunc(s.cadence.Debounce, func() {
		s.post(func() { s.fireDebounce(seq) })
	})
}

func (s *Scheduler) endWindow() {
	if s.stopped {
		return
	}
	s.throttling = false
	s.throttleTimer = nil
}

func (s *Scheduler) fireDebounce(seq uint64) {
	if s.stopped || seq != s.debounceSeq {
		return
	}
	s.debounceTimer = nil
	s.log.Debug("debounce send", zap.Int("len", len(s.pending.Content)))
	s.send(s.pending)
}

// Stop cancels both timers. Callbacks already queued become no-ops. Idempotent.
func (s *Scheduler) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.throttleTimer != nil {
		s.throttleTimer.Stop()
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
}
