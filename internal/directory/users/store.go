package users

import (
	"sync"

	"go.uber.org/zap"
)

// Store holds the directory state. Dispatch is the only way to change it and
// every event goes through Reduce under the store lock.
type Store struct {
	mu         sync.RWMutex
	state      DirectoryState
	listeners  map[int]func(DirectoryState)
	nextHandle int
	logger     *zap.Logger
}

// NewStore creates a store in the initial state
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		state:     InitialState(),
		listeners: make(map[int]func(DirectoryState)),
		logger:    logger,
	}
}

// Dispatch reduces the event into the state, notifies subscribers and returns
// the new state. Listeners run outside the lock, so concurrent dispatches may
// deliver snapshots out of order; Version tells them apart.
func (s *Store) Dispatch(ev Event) DirectoryState {
	s.mu.Lock()
	version := s.state.Version + 1
	s.state = Reduce(s.state, ev)
	s.state.Version = version
	snapshot := s.state.Clone()
	listeners := make([]func(DirectoryState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("Directory event applied",
		zap.String("event", EventName(ev)),
		zap.Int("users", len(snapshot.Users)),
		zap.Bool("loading", snapshot.IsLoading),
		zap.Int("page", snapshot.CurrentPage),
		zap.Bool("has_more_pages", snapshot.HasMorePages))

	for _, fn := range listeners {
		fn(snapshot.Clone())
	}
	return snapshot
}

// State returns a snapshot of the current state
func (s *Store) State() DirectoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Get returns the first user with the given id
func (s *Store) Get(id ID) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.state.Users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// Subscribe registers fn to receive a snapshot after every event. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(DirectoryState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := s.nextHandle
	s.nextHandle++
	s.listeners[handle] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, handle)
	}
}
