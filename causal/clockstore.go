// Package causal implements vector-clock causal delivery: the shared clock table,
// the buffer of messages that are not yet deliverable and the engine tying them together.
package causal

import (
	"errors"
	"fmt"
	"sync"

	"vcmesh/datamodel/message"
)

var ErrNotRegistered = errors.New("peer not registered")

// ClockStore is the node's record of what it has causally observed.
// Entries are never removed and never decrease.
type ClockStore struct {
	mu     sync.Mutex
	clocks message.VectorClock
}

func NewClockStore() *ClockStore {
	return &ClockStore{clocks: make(message.VectorClock)}
}

// Register adds id at 0 unless it is already known.
func (s *ClockStore) Register(id message.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clocks[id]; !ok {
		s.clocks[id] = 0
	}
}

// SelfIncrement bumps the entry of the local node and returns a copy of the whole clock
// for stamping an outgoing message.
func (s *ClockStore) SelfIncrement(id message.PeerID) (message.VectorClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.clocks[id]
	if !ok {
		return nil, fmt.Errorf("SelfIncrement(%s): %w", id, ErrNotRegistered)
	}
	s.clocks[id] = v + 1
	return s.clocks.Clone(), nil
}

// Merge takes the pointwise maximum with update, registering unknown ids at their
// incoming value. It reports whether any entry increased.
func (s *ClockStore) Merge(update message.VectorClock) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for k, v := range update {
		cur, ok := s.clocks[k]
		if !ok {
			s.clocks[k] = v
			changed = changed || v > 0
			continue
		}
		if v > cur {
			s.clocks[k] = v
			changed = true
		}
	}
	return changed
}

func (s *ClockStore) Snapshot() message.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clocks.Clone()
}

func (s *ClockStore) Get(id message.PeerID) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.clocks[id]
	return v, ok
}
