package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Registration describes the outcome of a successful Register.
type Registration struct {
	SessionID string
	Username  string
	// Refreshed is true when the same session registered the same username again.
	Refreshed bool
	// Previous is the username the session was bound to before, if it changed.
	Previous string
}

type Counts struct {
	Sessions  int `json:"sessions"`
	Present   int `json:"present"`
	Connected int `json:"connected"`
	Groups    int `json:"groups"`
}

// Registry holds every piece of shared chat state behind one lock:
// sessions, presence, groups and the live connection table.
// Check-then-act sequences (register, create group) run under the write lock.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]string        // sessionID -> username
	presence    map[string]string        // username -> sessionID
	groups      map[string]*domain.Group // name -> group
	connections map[string]contract.Sink // username -> live sink
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]string),
		presence:    make(map[string]string),
		groups:      make(map[string]*domain.Group),
		connections: make(map[string]contract.Sink),
	}
}

// Register binds a username to a session.
// A username bound to another session is rejected, the same pair is a no-op refresh.
// A session registering a new username leaves its old one behind.
func (r *Registry) Register(sessionID, username string) (Registration, error) {
	sessionID = strings.TrimSpace(sessionID)
	username = strings.TrimSpace(username)
	if sessionID == "" || username == "" {
		return Registration{}, errors.ErrNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registration := Registration{SessionID: sessionID, Username: username}
	if owner, ok := r.presence[username]; ok {
		if owner != sessionID {
			return Registration{}, errors.ErrUsernameInUse
		}
		registration.Refreshed = true
		return registration, nil
	}

	if previous, ok := r.sessions[sessionID]; ok && previous != username {
		delete(r.presence, previous)
		delete(r.connections, previous)
		registration.Previous = previous
	}
	r.sessions[sessionID] = username
	r.presence[username] = sessionID
	return registration, nil
}

// Unregister forgets a session with its presence and connection handle.
func (r *Registry) Unregister(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	delete(r.sessions, sessionID)
	if r.presence[username] == sessionID {
		delete(r.presence, username)
		delete(r.connections, username)
	}
	return username, true
}

// Attach makes sink the live connection of username, replacing any older one.
func (r *Registry) Attach(username string, sink contract.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[username] = sink
}

// Detach removes the connection of username only if sink is still the attached one,
// so closing an old connection never drops a newer one.
func (r *Registry) Detach(username string, sink contract.Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.connections[username]; ok && current == sink {
		delete(r.connections, username)
		return true
	}
	return false
}

func (r *Registry) Username(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	username, ok := r.sessions[sessionID]
	return username, ok
}

func (r *Registry) Sink(username string) (contract.Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.connections[username]
	return sink, ok
}

func (r *Registry) IsPresent(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.presence[username]
	return ok
}

// Users returns a sorted snapshot of Presence.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usersLocked()
}

func (r *Registry) usersLocked() []string {
	users := lo.Keys(r.presence)
	slices.Sort(users)
	return users
}

func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Counts{
		Sessions:  len(r.sessions),
		Present:   len(r.presence),
		Connected: len(r.connections),
		Groups:    len(r.groups),
	}
}
