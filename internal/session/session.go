// Package session holds the in-memory registry of active recording sessions.
//
// The registry is the sole owner of session state; connection handlers read
// and mutate sessions only through its lock. Sessions live from
// StartRecording until a stop or clear removes them — nothing here persists
// across daemon restarts.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StatusKind enumerates a session's lifecycle states.
type StatusKind string

const (
	StatusRecording  StatusKind = "Recording"
	StatusProcessing StatusKind = "Processing"
	StatusCompleted  StatusKind = "Completed"
	StatusFailed     StatusKind = "Failed"
)

// Session is one recording-to-transcript unit of work.
type Session struct {
	ID            uuid.UUID
	Status        StatusKind
	FailureReason string
	Text          string
	Confidence    *float32
	CreatedAt     time.Time
}

// Registry maps session identifiers to session state. All methods are safe
// for concurrent use from multiple connection handlers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Create inserts a fresh session in Recording status and returns a copy.
func (r *Registry) Create() Session {
	s := &Session{
		ID:        uuid.New(),
		Status:    StatusRecording,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return *s
}

// Exists reports whether the given session is registered.
func (r *Registry) Exists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Get returns a copy of the session, if registered.
func (r *Registry) Get(id uuid.UUID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Update mutates the session under the registry lock and reports whether it
// was found.
func (r *Registry) Update(id uuid.UUID, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// Remove deletes the session, if registered.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Clear empties the registry and returns copies of the removed sessions.
func (r *Registry) Clear() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		removed = append(removed, *s)
	}
	r.sessions = make(map[uuid.UUID]*Session)
	return removed
}

// IDs returns the identifiers of all registered sessions.
func (r *Registry) IDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
