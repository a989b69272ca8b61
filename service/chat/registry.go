package chat

import (
	"sync"

	"PRelay/service/identity"
)

// Entry ties an authenticated user to its connection and subscription handle.
type Entry struct {
	User   *identity.User
	Client *Client
	Sub    *Subscription
}

// Channels is the last-known channel membership of the entry.
func (e *Entry) Channels() []string {
	if e == nil || e.Sub == nil {
		return nil
	}
	return e.Sub.Channels()
}

// Registry maps user ids to their live entry. It is the only structure shared
// by every connection and the single source of truth for "is user X online".
type Registry interface {
	// Register inserts or replaces and returns the previous entry, if any.
	Register(userID string, e *Entry) (prev *Entry)
	Get(userID string) (*Entry, bool)
	// Remove deletes userID if present. Idempotent.
	Remove(userID string)
	// RemoveEntry deletes e only if it is still the registered entry for its user.
	RemoveEntry(e *Entry) bool
	// All returns a point-in-time snapshot.
	All() []*Entry
	Len() int
}

type MemRegistry struct {
	mu     sync.RWMutex
	byUser map[string]*Entry
}

func NewRegistry() *MemRegistry {
	return &MemRegistry{byUser: make(map[string]*Entry)}
}

func (r *MemRegistry) Register(userID string, e *Entry) *Entry {
	if userID == "" || e == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byUser[userID]
	r.byUser[userID] = e
	return prev
}

func (r *MemRegistry) Get(userID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUser[userID]
	return e, ok
}

func (r *MemRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUser, userID)
}

func (r *MemRegistry) RemoveEntry(e *Entry) bool {
	if e == nil || e.User == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byUser[e.User.ID]; ok && cur == e {
		delete(r.byUser, e.User.ID)
		return true
	}
	return false
}

func (r *MemRegistry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.byUser))
	for _, e := range r.byUser {
		out = append(out, e)
	}
	return out
}

func (r *MemRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
