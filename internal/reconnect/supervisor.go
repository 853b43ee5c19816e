// Package reconnect restarts a session after a drop the caller did not ask for.
// It is opt-in; the engine itself never reconnects.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/engine"
	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/model"
)

// DefaultDelay is the pause between restart attempts.
const DefaultDelay = 2 * time.Second

// Policy bounds restart attempts per outage. Zero Retries disables reconnecting.
type Policy struct {
	Retries int
	Delay   time.Duration
}

// Session is the part of engine.Engine the supervisor drives.
type Session interface {
	Start(ctx context.Context, desc model.SessionDescriptor, cb engine.Callbacks) error
	Stop()
}

// Supervisor wraps a Session and restarts it on unrequested Closed.
type Supervisor struct {
	sess   Session
	policy Policy
	log    *zap.Logger

	mu      sync.Mutex
	desc    model.SessionDescriptor
	cb      engine.Callbacks
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Supervisor.
func New(sess Session, policy Policy, log *zap.Logger) *Supervisor {
	if policy.Delay <= 0 {
		policy.Delay = DefaultDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{sess: sess, policy: policy, log: log}
}

// Start starts the session once; restarts only follow a later drop.
// After a drop, Status may be called from the restart goroutine.
func (s *Supervisor) Start(ctx context.Context, desc model.SessionDescriptor, cb engine.Callbacks) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errs.ErrAlreadyStarted
	}
	s.desc, s.cb = desc, cb
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.mu.Unlock()

	if err := s.sess.Start(ctx, desc, s.wrap(cb)); err != nil {
		s.mu.Lock()
		s.running = false
		s.cancel()
		s.mu.Unlock()
		return err
	}
	return nil
}

// Stop cancels pending restarts and stops the session.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.sess.Stop()
}

// wrap observes state changes; the surface still sees every one of them.
func (s *Supervisor) wrap(cb engine.Callbacks) engine.Callbacks {
	inner := cb.ConnectionStateChanged
	cb.ConnectionStateChanged = func(st model.ConnState) {
		if inner != nil {
			inner(st)
		}
		if st == model.Closed {
			s.dropped()
		}
	}
	return cb
}

// dropped runs on the engine loop, so the restart happens elsewhere.
func (s *Supervisor) dropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.policy.Retries <= 0 {
		return
	}
	s.wg.Add(1)
	go s.restart(s.ctx)
}

func (s *Supervisor) restart(ctx context.Context) {
	defer s.wg.Done()
	s.sess.Stop()

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.policy.Delay), uint64(s.policy.Retries-1)),
		ctx,
	)
	attempt := 0
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(errs.ErrStopped)
		}
		attempt++
		err := s.sess.Start(ctx, s.desc, s.wrap(s.cb))
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
	}

	// first attempt waits too so a flapping relay is not hammered
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.policy.Delay):
	}
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		s.log.Info("reconnected", zap.Int("attempt", attempt))
	case errors.Is(err, errs.ErrStopped), errors.Is(err, context.Canceled):
	default:
		s.log.Error("reconnect gave up", zap.Int("attempts", attempt), zap.Error(err))
		if s.cb.Status != nil {
			s.cb.Status("connection lost: " + err.Error())
		}
	}
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, errs.ErrMissingToken) ||
		errors.Is(err, errs.ErrMissingSession) ||
		errors.Is(err, errs.ErrUnauthorized) ||
		errors.Is(err, errs.ErrAlreadyStarted)
}
