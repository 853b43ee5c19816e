// Package engine is the session synchronization engine: the façade an editing
// surface drives with local edits and that calls the surface back with remote
// content, presence, cursors and connection state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/cursor"
	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/model"
	"github.com/and161185/collabify/internal/outbound"
	"github.com/and161185/collabify/internal/presence"
	"github.com/and161185/collabify/internal/transport"
	"github.com/and161185/collabify/internal/wire"
)

// Store is the persistence collaborator consulted on start and on explicit save.
type Store interface {
	// Load returns the saved snapshot; a missing document is an empty snapshot, not an error.
	Load(ctx context.Context, kind model.Kind, id string) (model.DocumentSnapshot, error)
	// Save persists full content.
	Save(ctx context.Context, kind model.Kind, id, content string) (model.DocumentSnapshot, error)
}

// Callbacks connect the engine to an editing surface. Nil fields are skipped.
// Callbacks run one at a time on the engine loop goroutine, except the final
// Closed state change which is delivered by Stop.
type Callbacks struct {
	ApplyRemoteContent     func(content string)
	PresenceChanged        func(users []model.UserIdentity)
	CursorsChanged         func(cursors []model.CursorEntry)
	ConnectionStateChanged func(state model.ConnState)
	// Loaded delivers the persisted snapshot unless live content arrived first.
	Loaded func(snap model.DocumentSnapshot)
	// Status carries user-visible persistence messages.
	Status func(msg string)
}

// Options configures an Engine.
type Options struct {
	RelayURL  string
	Cadence   outbound.Cadence
	CursorTTL time.Duration
	Kind      model.Kind
	// DocID defaults to the session id.
	DocID  string
	Store  Store
	Clock  clockwork.Clock
	Logger *zap.Logger
	Dialer *websocket.Dialer
	// Queue bounds inbound events waiting for the loop.
	Queue int
}

// Engine owns one live session at a time. It may be started again after Stop.
type Engine struct {
	opts     Options
	log      *zap.Logger
	clientID string

	presence *presence.Registry

	mu          sync.Mutex
	sess        *session
	starting    bool
	lastKey     string
	lastContent string
	lastState   model.ConnState
	pending     *localEdit
	cursorSnap  []model.CursorEntry
}

type localEdit struct {
	content string
	pos     model.Position
}

// session is the per-Start state. Everything except the channels is owned by the loop goroutine.
type session struct {
	desc    model.SessionDescriptor
	docID   string
	cb      Callbacks
	conn    *transport.Conn
	sched   *outbound.Scheduler
	cursors *cursor.Tracker

	// number of remote content envelopes applied; guards the load race
	remoteApplied uint64
	// set once the connection dropped; local edits are discarded from then on
	dead bool

	events   chan func()
	edits    chan struct{}
	quit     chan struct{}
	loopDone chan struct{}
	cancel   context.CancelFunc
}

// New constructs an idle Engine.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Kind == "" {
		opts.Kind = model.KindDocument
	}
	if opts.Cadence == (outbound.Cadence{}) {
		opts.Cadence = outbound.TextCadence
		if opts.Kind == model.KindDrawing {
			opts.Cadence = outbound.PointerCadence
		}
	}
	if opts.CursorTTL <= 0 {
		opts.CursorTTL = cursor.DefaultTTL
	}
	if opts.Queue <= 0 {
		opts.Queue = 1024
	}
	id := uuid.Must(uuid.NewV4()).String()
	return &Engine{
		opts:      opts,
		log:       opts.Logger.With(zap.String("client", id)),
		clientID:  id,
		presence:  presence.NewRegistry(),
		lastState: model.Closed,
	}
}

// Start opens the session connection, wires dispatch to cb and triggers the
// persistence load in the background. Preconditions fail before any I/O.
func (e *Engine) Start(ctx context.Context, desc model.SessionDescriptor, cb Callbacks) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.sess != nil || e.starting {
		e.mu.Unlock()
		return errs.ErrAlreadyStarted
	}
	e.starting = true
	e.mu.Unlock()

	s := &session{
		desc:     desc,
		docID:    e.opts.DocID,
		cb:       cb,
		events:   make(chan func(), e.opts.Queue),
		edits:    make(chan struct{}, 1),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if s.docID == "" {
		s.docID = desc.SessionID
	}

	e.presence.Reset()
	post := func(f func()) { s.post(f) }
	s.sched = outbound.New(e.opts.Clock, e.opts.Cadence, func(ed model.OutboundEdit) {
		s.conn.Send(wire.ContentFromEdit(ed))
	}, outbound.WithPost(post), outbound.WithLogger(e.log))
	s.cursors = cursor.New(e.opts.Clock,
		cursor.WithTTL(e.opts.CursorTTL),
		cursor.WithPost(post),
		cursor.WithOnChange(func() { e.cursorsChanged(s) }),
	)

	// Transport callbacks queue into s.events until the loop starts.
	log := e.log.With(zap.String("session", desc.SessionID))
	conn, err := transport.Open(ctx, desc, transport.Options{
		URL:    e.opts.RelayURL,
		Dialer: e.opts.Dialer,
		Logger: log,
		OnState: func(st model.ConnState) {
			if st == model.Closed {
				s.post(func() { e.dropped(s) })
				return
			}
			s.post(func() { e.setState(s, st) })
		},
		OnFrame: func(b []byte) { s.post(func() { e.handleFrame(s, b) }) },
	})
	if err != nil {
		close(s.quit)
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}
	s.conn = conn
	lctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	e.mu.Lock()
	e.sess = s
	e.starting = false
	e.pending = nil
	e.cursorSnap = nil
	// a restart of the same document keeps its content; another one starts empty
	if key := desc.SessionID + "/" + s.docID; key != e.lastKey {
		e.lastKey = key
		e.lastContent = ""
	}
	e.mu.Unlock()

	go e.loop(s)
	if e.opts.Store != nil {
		go e.load(lctx, s)
	}
	log.Info("session started", zap.String("doc", s.docID), zap.String("kind", string(e.opts.Kind)))
	return nil
}

// OnLocalEdit records a local edit. It never blocks: edits are coalesced into
// a single slot and picked up by the loop, which stamps the current identity.
func (e *Engine) OnLocalEdit(content string, pos model.Position) {
	e.mu.Lock()
	e.lastContent = content
	s := e.sess
	if s == nil {
		e.mu.Unlock()
		return
	}
	e.pending = &localEdit{content: content, pos: pos}
	e.mu.Unlock()

	select {
	case s.edits <- struct{}{}:
	default:
	}
}

// Stop closes the connection and cancels every pending timer. Once Stop
// returns no send happens and no callback runs. Must not be called from a callback.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.sess
	e.sess = nil
	e.pending = nil
	e.mu.Unlock()
	if s == nil {
		return
	}
	e.teardown(s)
	e.log.Info("session stopped", zap.String("session", s.desc.SessionID))
}

// teardown stops the loop first so nothing can send, then closes the
// connection. The final Closed notification is delivered from here.
func (e *Engine) teardown(s *session) {
	s.cancel()
	close(s.quit)
	<-s.loopDone
	s.conn.Close()
	e.mu.Lock()
	e.cursorSnap = nil
	e.mu.Unlock()
	e.setState(s, model.Closed)
}

// dropped handles a connection that closed underneath a running session:
// timers are cancelled, remote cursors are cleared and Closed is reported.
// The loop keeps serving callbacks until Stop.
func (e *Engine) dropped(s *session) {
	if s.dead {
		return
	}
	s.dead = true
	s.sched.Stop()
	s.cursors.Stop()
	e.mu.Lock()
	e.pending = nil
	e.cursorSnap = nil
	e.mu.Unlock()
	if s.cb.CursorsChanged != nil {
		e.guard("CursorsChanged", func() { s.cb.CursorsChanged([]model.CursorEntry{}) })
	}
	e.log.Info("connection dropped", zap.String("session", s.desc.SessionID))
	e.setState(s, model.Closed)
}

// Save persists the latest local content. Failures are reported through the
// Status callback and returned; the live channel is unaffected.
func (e *Engine) Save(ctx context.Context) (model.DocumentSnapshot, error) {
	if e.opts.Store == nil {
		return model.DocumentSnapshot{}, errors.New("save: no store configured")
	}
	e.mu.Lock()
	s := e.sess
	content := e.lastContent
	docID := e.opts.DocID
	if docID == "" && s != nil {
		docID = s.docID
	}
	e.mu.Unlock()

	snap, err := e.opts.Store.Save(ctx, e.opts.Kind, docID, content)
	if err != nil {
		e.status(s, fmt.Sprintf("save failed: %v", err))
		return model.DocumentSnapshot{}, err
	}
	e.status(s, "saved")
	return snap, nil
}

// Identity returns the local identity assigned by the relay.
func (e *Engine) Identity() model.UserIdentity { return e.presence.Local() }

// Presence returns the remote roster.
func (e *Engine) Presence() []model.UserIdentity { return e.presence.List() }

// Cursors returns live remote cursors; nil when stopped. Safe to call from callbacks.
func (e *Engine) Cursors() []model.CursorEntry {
	now := e.opts.Clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	out := make([]model.CursorEntry, 0, len(e.cursorSnap))
	for _, c := range e.cursorSnap {
		if now.Before(c.LastSeenAt.Add(e.opts.CursorTTL)) {
			out = append(out, c)
		}
	}
	return out
}

// Content returns the latest known full content, local or remote.
func (e *Engine) Content() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastContent
}

// post queues f for the loop; it reports false once the session is shutting down.
func (s *session) post(f func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.events <- f:
		return true
	case <-s.quit:
		return false
	}
}

func (e *Engine) loop(s *session) {
	defer close(s.loopDone)
	defer func() {
		s.sched.Stop()
		s.cursors.Stop()
	}()
	done := s.conn.Done()
	for {
		select {
		case <-s.quit:
			return
		case f := <-s.events:
			f()
		case <-s.edits:
			e.flushLocalEdit(s)
		case <-done:
			done = nil
			e.dropped(s)
		}
	}
}

func (e *Engine) flushLocalEdit(s *session) {
	e.mu.Lock()
	p := e.pending
	e.pending = nil
	e.mu.Unlock()
	if p == nil || s.dead {
		return
	}
	s.sched.Submit(model.OutboundEdit{
		Content:  p.content,
		Position: p.pos,
		UserData: e.presence.Local(),
	})
}

func (e *Engine) load(ctx context.Context, s *session) {
	snap, err := e.opts.Store.Load(ctx, e.opts.Kind, s.docID)
	if ctx.Err() != nil {
		return
	}
	s.post(func() { e.applyLoaded(s, snap, err) })
}

// applyLoaded delivers a loaded snapshot unless live or local content got there first.
func (e *Engine) applyLoaded(s *session, snap model.DocumentSnapshot, err error) {
	if err != nil {
		e.log.Warn("load failed", zap.String("doc", s.docID), zap.Error(err))
		e.callStatus(s, fmt.Sprintf("load failed: %v", err))
		return
	}
	if s.remoteApplied > 0 {
		e.log.Info("load superseded by live content", zap.String("doc", s.docID))
		return
	}
	e.mu.Lock()
	fresh := e.lastContent == ""
	if fresh {
		e.lastContent = snap.Content
	}
	e.mu.Unlock()
	if !fresh {
		e.log.Info("load superseded by local edits", zap.String("doc", s.docID))
		return
	}
	if s.cb.Loaded != nil {
		e.guard("Loaded", func() { s.cb.Loaded(snap) })
	}
}

func (e *Engine) setState(s *session, st model.ConnState) {
	e.mu.Lock()
	if e.lastState == st {
		e.mu.Unlock()
		return
	}
	e.lastState = st
	e.mu.Unlock()
	if s.cb.ConnectionStateChanged != nil {
		e.guard("ConnectionStateChanged", func() { s.cb.ConnectionStateChanged(st) })
	}
}

func (e *Engine) cursorsChanged(s *session) {
	cur := s.cursors.Current()
	e.mu.Lock()
	e.cursorSnap = cur
	e.mu.Unlock()
	if s.cb.CursorsChanged == nil {
		return
	}
	cur = append([]model.CursorEntry(nil), cur...)
	e.guard("CursorsChanged", func() { s.cb.CursorsChanged(cur) })
}

func (e *Engine) presenceChanged(s *session) {
	if s.cb.PresenceChanged == nil {
		return
	}
	users := e.presence.List()
	e.guard("PresenceChanged", func() { s.cb.PresenceChanged(users) })
}

// status reports a message on the loop when a session is running, inline otherwise.
func (e *Engine) status(s *session, msg string) {
	if s != nil && s.post(func() { e.callStatus(s, msg) }) {
		return
	}
	e.log.Info("status", zap.String("msg", msg))
}

func (e *Engine) callStatus(s *session, msg string) {
	if s.cb.Status != nil {
		e.guard("Status", func() { s.cb.Status(msg) })
	}
}

// guard runs a surface callback, logging a panic instead of killing the loop.
func (e *Engine) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic",
				zap.Any("reason", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("callback", name),
			)
		}
	}()
	fn()
}
