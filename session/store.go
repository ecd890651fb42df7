package session

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the state cell holding the current session state. It carries no
// validation or backend logic; the Manager is its sole writer, everything
// else reads via Get or Subscribe.
type Store struct {
	mu          sync.RWMutex
	state       State
	subscribers map[string]func(State)
}

// NewStore creates a store holding the Unresolved state.
func NewStore() *Store {
	return &Store{
		state:       Unresolved(),
		subscribers: make(map[string]func(State)),
	}
}

// Get returns an immutable snapshot of the current state. The user/token
// pair in the snapshot is always consistent; readers never observe a
// half-updated pair.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Set atomically overwrites the state and notifies subscribers. Subscribers
// run synchronously on the mutating goroutine, after the store lock has been
// released, and must not call back into state-mutating operations.
func (s *Store) Set(next State) {
	s.mu.Lock()
	s.state = next.clone()
	snapshot := s.state.clone()
	subscribers := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot.clone())
	}
}

// Subscribe registers fn to be called on every state change and returns a
// function that removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	id := uuid.New().String()

	s.mu.Lock()
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}
