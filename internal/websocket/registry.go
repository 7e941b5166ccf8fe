package websocket

import (
	"sync"

	"github.com/sirupsen/logrus"

	"pixelgrid/pkg/interfaces"
)

// Registry tracks connected sessions by session id, with a secondary index
// by user id.
type Registry struct {
	mu              sync.RWMutex
	sessions        map[string]interfaces.Subscriber // sessionID -> subscriber
	userSessions    map[string]map[string]struct{}   // userID -> set of sessionIDs
	order           map[string][]string              // userID -> sessionIDs, oldest first
	maxUserSessions int
}

// NewRegistry creates a registry. maxUserSessions caps the sessions one user
// may hold open; the oldest is closed when a new one exceeds the cap. Zero
// means unlimited.
func NewRegistry(maxUserSessions int) *Registry {
	return &Registry{
		sessions:        make(map[string]interfaces.Subscriber),
		userSessions:    make(map[string]map[string]struct{}),
		order:           make(map[string][]string),
		maxUserSessions: maxUserSessions,
	}
}

// Register adds sub. Session ids are unique; registering a second
// subscriber under an id already present fails.
func (r *Registry) Register(sub interfaces.Subscriber) error {
	if sub == nil {
		return ErrNilConnection
	}
	sessionID := sub.SessionID()
	if sessionID == "" {
		return ErrEmptySessionID
	}
	userID := sub.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return ErrDuplicateSession
	}
	r.sessions[sessionID] = sub
	if r.userSessions[userID] == nil {
		r.userSessions[userID] = make(map[string]struct{})
	}
	r.userSessions[userID][sessionID] = struct{}{}
	r.order[userID] = append(r.order[userID], sessionID)

	if r.maxUserSessions > 0 && len(r.order[userID]) > r.maxUserSessions {
		oldest := r.sessions[r.order[userID][0]]
		r.removeLocked(oldest)
		// Close outside the lock; Close may block on the socket
		go func() {
			if err := oldest.Close(); err != nil {
				logrus.WithError(err).WithField("session_id", oldest.SessionID()).Debug("Failed to close evicted session")
			}
		}()
	}
	return nil
}

// Unregister removes sub if it is the subscriber registered under its
// session id. Idempotent.
func (r *Registry) Unregister(sub interfaces.Subscriber) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.sessions[sub.SessionID()]; !exists || registered != sub {
		return
	}
	r.removeLocked(sub)
}

func (r *Registry) removeLocked(sub interfaces.Subscriber) {
	sessionID, userID := sub.SessionID(), sub.UserID()
	delete(r.sessions, sessionID)

	if set, exists := r.userSessions[userID]; exists {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.userSessions, userID)
		}
	}
	ids := r.order[userID]
	for i, id := range ids {
		if id == sessionID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.order, userID)
	} else {
		r.order[userID] = ids
	}
}

// Get returns the subscriber for sessionID.
func (r *Registry) Get(sessionID string) (interfaces.Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, exists := r.sessions[sessionID]
	return sub, exists
}

// Snapshot returns every registered subscriber.
func (r *Registry) Snapshot() []interfaces.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]interfaces.Subscriber, 0, len(r.sessions))
	for _, sub := range r.sessions {
		subs = append(subs, sub)
	}
	return subs
}

// UserSessions returns the sessions currently held by userID.
func (r *Registry) UserSessions(userID string) []interfaces.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var subs []interfaces.Subscriber
	for sessionID := range r.userSessions[userID] {
		subs = append(subs, r.sessions[sessionID])
	}
	return subs
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := make([]interfaces.Subscriber, 0, len(r.sessions))
	for _, sub := range r.sessions {
		subs = append(subs, sub)
	}
	r.sessions = make(map[string]interfaces.Subscriber)
	r.userSessions = make(map[string]map[string]struct{})
	r.order = make(map[string][]string)
	r.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.sessions),
		"unique_users":      len(r.userSessions),
	}
}
