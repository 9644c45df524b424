package node

import (
	"sort"
	"sync"

	"vcmesh/datamodel/message"
)

// Registry tracks sessions that completed the identity exchange.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Session]struct{})}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

// Recipients returns the active sessions as broadcast targets.
func (r *Registry) Recipients() []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Recipient, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Peers returns the sorted identities of the active sessions.
func (r *Registry) Peers() []message.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]message.PeerID, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s.RemoteID())
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
