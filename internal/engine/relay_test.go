package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/and161185/collabify/internal/model"
	"github.com/and161185/collabify/internal/wire"
)

// relay is a pure per-session fan-out used as a test fixture. Like the real
// relay it assigns identities from the token, announces presence and echoes
// content back to every client including the sender.
type relay struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	clients  map[*relayClient]bool
	received []wire.Content
}

type relayClient struct {
	user model.UserIdentity
	ws   *websocket.Conn
	wmu  sync.Mutex
}

func (c *relayClient) write(b []byte) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, b)
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	r := &relay{t: t, clients: make(map[*relayClient]bool)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tok := req.URL.Query().Get("token")
		if !strings.HasPrefix(tok, "tok-") || req.URL.Query().Get("session") == "" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		id := strings.TrimPrefix(tok, "tok-")
		c := &relayClient{ws: ws, user: model.UserIdentity{UserID: id, DisplayName: "name-" + id, ColorTag: "#123456"}}
		r.serve(c)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *relay) url() string { return r.srv.URL }

func (r *relay) serve(c *relayClient) {
	defer c.ws.Close()
	c.write(mustEncode(r.t, wire.UserData{UserData: c.user}))

	r.mu.Lock()
	for other := range r.clients {
		c.write(mustEncode(r.t, wire.UserAdded{UserData: other.user}))
	}
	r.clients[c] = true
	r.mu.Unlock()
	r.broadcast(mustEncode(r.t, wire.UserAdded{UserData: c.user}))

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		var f struct {
			Type string       `json:"type"`
			Data wire.Content `json:"data"`
		}
		if json.Unmarshal(msg, &f) == nil && f.Type == wire.TypeContent {
			r.mu.Lock()
			r.received = append(r.received, f.Data)
			r.mu.Unlock()
		}
		r.broadcast(msg)
	}

	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
	r.broadcast(mustEncode(r.t, wire.UserRemoved{UserData: c.user}))
}

func (r *relay) broadcast(b []byte) {
	r.mu.Lock()
	targets := make([]*relayClient, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.Unlock()
	for _, c := range targets {
		c.write(b)
	}
}

// contentFrom counts content envelopes the relay received from a user.
func (r *relay) contentFrom(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.received {
		if c.UserData.UserID == id {
			n++
		}
	}
	return n
}

func (r *relay) lastContentFrom(id string) (wire.Content, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.received) - 1; i >= 0; i-- {
		if r.received[i].UserData.UserID == id {
			return r.received[i], true
		}
	}
	return wire.Content{}, false
}

// client returns the connection of user id, or nil.
func (r *relay) client(id string) *relayClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c.user.UserID == id {
			return c
		}
	}
	return nil
}

// sendTo writes b to user id only.
func (r *relay) sendTo(id string, b []byte) {
	if c := r.client(id); c != nil {
		c.write(b)
	}
}

// kick drops the connection of user id from the relay side.
func (r *relay) kick(id string) {
	if c := r.client(id); c != nil {
		_ = c.ws.Close()
	}
}

func (r *relay) clientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func mustEncode(t *testing.T, env wire.Envelope) []byte {
	t.Helper()
	b, err := wire.Encode(env)
	if err != nil {
		// may run on a server goroutine, so no Fatal here
		t.Errorf("encode: %v", err)
	}
	return b
}
