package store

import "sync"

// Store holds the local snapshot of every message visible to the current
// user: the confirmed set, replaced wholesale on each poll, plus the pending
// overlay of optimistic sends. It is the only mutable shared state in the
// engine; all mutations run to completion under one mutex and it performs
// no I/O.
type Store struct {
	mu        sync.Mutex
	confirmed map[string]Message // keyed by server id
	pending   []Message          // insertion order = submission order
}

// New creates an empty store.
func New() *Store {
	return &Store{confirmed: make(map[string]Message)}
}

// Merge replaces the confirmed contents with the incoming snapshot. The feed
// is always the complete visible set for the user, so this is a full replace,
// not a diff. A duplicated id in the input must not happen, but if it does
// the last occurrence wins.
func (s *Store) Merge(incoming []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Message, len(incoming))
	for _, m := range incoming {
		m.Pending = false
		next[m.ID] = m
	}
	s.confirmed = next
}

// InsertPending adds an optimistic local message so the sender sees it before
// the server confirms.
func (s *Store) InsertPending(m Message) {
	m.Pending = true
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, m)
}

// RemovePending drops the pending entry with the given temporary id.
// Reports whether an entry was removed.
func (s *Store) RemovePending(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.pending {
		if m.ID == tempID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns a copy of the pending overlay in submission order.
func (s *Store) Pending() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.pending))
	copy(out, s.pending)
	return out
}

// Confirmed returns a copy of the confirmed set in unspecified order.
func (s *Store) Confirmed() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, len(s.confirmed))
	for _, m := range s.confirmed {
		out = append(out, m)
	}
	return out
}

// Snapshot returns confirmed plus pending messages as one flat copy, the
// input the conversation index rebuilds from.
func (s *Store) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, len(s.confirmed)+len(s.pending))
	for _, m := range s.confirmed {
		out = append(out, m)
	}
	out = append(out, s.pending...)
	return out
}

// Len returns the number of confirmed and pending messages.
func (s *Store) Len() (confirmed, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.confirmed), len(s.pending)
}

// Reset drops all state. Used when the active account changes: the previous
// user's snapshot must not leak into the next session.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = make(map[string]Message)
	s.pending = nil
}
