package wizard

import (
	"context"
	"sync"
	"time"

	"respirakids/internal/metrics"

	"github.com/google/uuid"
)

// SessionStore keeps wizards in memory. Nothing is persisted: a lost session restarts at
// whatsapp-validation.
type SessionStore struct {
	sessions map[string]*Wizard
	mu       sync.RWMutex
	timeout  time.Duration
	deps     Dependencies
}

// NewSessionStore creates a store whose wizards share deps.
func NewSessionStore(deps Dependencies, timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Wizard),
		timeout:  timeout,
		deps:     deps,
	}
}

// Create starts a new wizard for scheduleID.
func (ss *SessionStore) Create(scheduleID string, onSuccess func(appointmentID string)) *Wizard {
	w := New(uuid.NewString(), scheduleID, ss.deps, onSuccess)

	ss.mu.Lock()
	ss.sessions[w.ID()] = w
	n := len(ss.sessions)
	ss.mu.Unlock()

	metrics.SetActiveSessions(n)
	return w
}

// Get returns a live wizard. Expired wizards are dropped.
func (ss *SessionStore) Get(id string) (*Wizard, bool) {
	ss.mu.RLock()
	w, ok := ss.sessions[id]
	ss.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if w.Expired(ss.timeout) {
		ss.Delete(id)
		return nil, false
	}
	return w, true
}

// Delete removes a session.
func (ss *SessionStore) Delete(id string) {
	ss.mu.Lock()
	delete(ss.sessions, id)
	n := len(ss.sessions)
	ss.mu.Unlock()
	metrics.SetActiveSessions(n)
}

// Len returns the number of sessions held.
func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// Cleanup removes expired sessions.
func (ss *SessionStore) Cleanup() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	removed := 0
	for id, w := range ss.sessions {
		if w.Expired(ss.timeout) {
			delete(ss.sessions, id)
			removed++
		}
	}
	metrics.SetActiveSessions(len(ss.sessions))
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (ss *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ss.Cleanup()
		}
	}
}
