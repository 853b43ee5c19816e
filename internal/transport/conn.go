// Package transport owns the websocket connection to the session relay.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/model"
	"github.com/and161185/collabify/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	defaultSendQueue = 256
)

// Options configures a connection.
type Options struct {
	// URL is the relay base, e.g. ws://localhost:8080 or ws://host/ws.
	URL string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// OnState is called on every state transition, from the goroutine that caused it.
	OnState func(model.ConnState)
	// OnFrame is called from the read goroutine for every text frame, in arrival order.
	OnFrame func([]byte)
	Logger  *zap.Logger
	// SendQueue bounds frames waiting for the write pump.
	SendQueue int
}

// Conn is one live session connection: Connecting → Open → Closed.
type Conn struct {
	opts Options
	log  *zap.Logger
	ws   *websocket.Conn

	mu    sync.Mutex
	state model.ConnState

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// BuildURL returns <base>/ws?session=<id>&token=<token>.
func BuildURL(base string, d model.SessionDescriptor) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u = u.JoinPath("ws")
	}
	q := u.Query()
	q.Set("session", d.SessionID)
	q.Set("token", d.AuthToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open validates the descriptor, dials the relay and starts the pumps.
// A missing token or session fails before any network I/O.
func Open(ctx context.Context, d model.SessionDescriptor, opts Options) (*Conn, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	target, err := BuildURL(opts.URL, d)
	if err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnState == nil {
		opts.OnState = func(model.ConnState) {}
	}
	if opts.OnFrame == nil {
		opts.OnFrame = func([]byte) {}
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = defaultSendQueue
	}

	c := &Conn{
		opts:  opts,
		log:   opts.Logger.With(zap.String("session", d.SessionID)),
		state: model.Connecting,
		send:  make(chan []byte, opts.SendQueue),
		done:  make(chan struct{}),
	}
	opts.OnState(model.Connecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.AuthToken)
	ws, resp, err := opts.Dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.setState(model.Closed)
		close(c.done)
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			err = errors.Join(errs.ErrUnauthorized, err)
		}
		c.log.Warn("dial failed", zap.Error(err))
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.ws = ws
	c.setState(model.Open)
	c.log.Info("connected")

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Done is closed once the connection reaches Closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues an envelope. It never blocks: frames sent while not Open, or
// while the queue is full, are dropped.
func (c *Conn) Send(env wire.Envelope) {
	b, err := wire.Encode(env)
	if err != nil {
		c.log.Warn("encode outbound", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.Open {
		c.log.Debug("send dropped: not open", zap.String("type", env.Type()))
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warn("send dropped: queue full", zap.String("type", env.Type()))
	}
}

// Close tears the connection down. Idempotent; does not wait for the pumps.
func (c *Conn) Close() { c.shutdown(nil) }

func (c *Conn) setState(s model.ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.opts.OnState(s)
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		if cause != nil {
			c.log.Info("connection lost", zap.Error(cause))
		} else {
			c.log.Info("closing")
		}
		c.setState(model.Closed)
		close(c.done)
	})
}

func (c *Conn) readPump() {
	defer c.ws.Close()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read", zap.Error(err))
			}
			c.shutdown(err)
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		if mt != websocket.TextMessage {
			continue
		}
		c.opts.OnFrame(msg)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
