package session

import (
	"sort"
	"sync"
	"time"
)

// Record is one live session held by the registry. Records are
// immutable; a reconnect publishes a fresh Record under the same key.
type Record struct {
	Key       IdentityKey
	Conn      Conn
	CreatedAt time.Time

	// Restarts counts how many reconnects this registration survived.
	Restarts int
}

// Registry is the process-wide table of live sessions. Register is atomic:
// at most one Record exists per IdentityKey, and later callers for the same
// key are told to back off instead of opening a second connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[IdentityKey]*Record
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[IdentityKey]*Record),
		now:      time.Now,
	}
}

// Register installs conn as the live session for key. The first caller
// wins; every later caller receives ErrAlreadyActive and must close its
// own connection.
func (r *Registry) Register(key IdentityKey, conn Conn) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[key]; exists {
		return nil, ErrAlreadyActive
	}
	rec := &Record{Key: key, Conn: conn, CreatedAt: r.now()}
	r.sessions[key] = rec
	return rec, nil
}

// update swaps in the connection obtained by a reconnect, preserving the
// original registration time.
func (r *Registry) update(key IdentityKey, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.sessions[key]
	if !ok {
		return false
	}
	r.sessions[key] = &Record{Key: key, Conn: conn, CreatedAt: old.CreatedAt, Restarts: old.Restarts + 1}
	return true
}

func (r *Registry) Get(key IdentityKey) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[key]
	if !ok {
		return nil, ErrNotRegistered
	}
	return rec, nil
}

// Unregister removes the record for key and reports whether one existed.
// It does not close the connection; that is the owner's job.
func (r *Registry) Unregister(key IdentityKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[key]
	delete(r.sessions, key)
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Keys returns the registered identities in stable order.
func (r *Registry) Keys() []IdentityKey {
	r.mu.RLock()
	keys := make([]IdentityKey, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Range calls fn for every live session on a snapshot of the table, so fn
// may itself register or unregister sessions.
func (r *Registry) Range(fn func(*Record)) {
	r.mu.RLock()
	records := make([]*Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		records = append(records, rec)
	}
	r.mu.RUnlock()
	for _, rec := range records {
		fn(rec)
	}
}
