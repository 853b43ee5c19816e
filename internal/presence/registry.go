// Package presence tracks the local identity and the roster of remote session members.
package presence

import (
	"sync"

	"github.com/and161185/collabify/internal/model"
)

// Registry holds the local identity and the set of other known users.
// Safe for concurrent use; surfaces may read it from any goroutine.
type Registry struct {
	mu      sync.RWMutex
	local   model.UserIdentity
	members map[string]model.UserIdentity
	order   []string
}

// NewRegistry returns an empty registry with no local identity.
func NewRegistry() *Registry {
	return &Registry{members: make(map[string]model.UserIdentity)}
}

// Add inserts a remote user. No-op for an empty id, an already present id, or the local id.
// Reports whether the roster changed.
func (r *Registry) Add(u model.UserIdentity) bool {
	if u.IsZero() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.UserID == r.local.UserID {
		return false
	}
	if _, ok := r.members[u.UserID]; ok {
		return false
	}
	r.members[u.UserID] = u
	r.order = append(r.order, u.UserID)
	return true
}

// Remove deletes a remote user. No-op if absent. Reports whether the roster changed.
func (r *Registry) Remove(u model.UserIdentity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(u.UserID)
}

func (r *Registry) removeLocked(id string) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns a copy of the remote roster in join order.
func (r *Registry) List() []model.UserIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.UserIdentity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

// SetLocal replaces the local identity wholesale. A roster member carrying
// the new local id is dropped. Reports whether the roster changed.
func (r *Registry) SetLocal(u model.UserIdentity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = u
	if u.IsZero() {
		return false
	}
	return r.removeLocked(u.UserID)
}

// Reset forgets the local identity and every member.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = model.UserIdentity{}
	r.members = make(map[string]model.UserIdentity)
	r.order = nil
}

// Local returns the current local identity.
func (r *Registry) Local() model.UserIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}
