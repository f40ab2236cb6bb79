package readstore

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/victorivanov/readreceipts/internal/models"
)

// State is an immutable snapshot of the read receipts store. Callers must not
// modify the maps it contains.
type State struct {
	Cursors        CursorState
	PostReadCounts CountState
}

// Cursor returns the cursor of userID in channelID, if one is known.
func (s State) Cursor(channelID, userID string) (models.ReadCursor, bool) {
	c, ok := s.Cursors[channelID][userID]
	return c, ok
}

// ReadCount returns the known read count of a post, or 0.
func (s State) ReadCount(postID string) int {
	return s.PostReadCounts[postID]
}

func emptyState() State {
	return State{
		Cursors:        CursorState{},
		PostReadCounts: CountState{},
	}
}

// Store is the session-wide container for read receipts state. Each Dispatch
// is applied completely before the next one starts.
type Store struct {
	mu     sync.Mutex
	state  State
	logger *slog.Logger

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(State)
}

// NewStore creates a Store with empty cursor and count maps.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:  emptyState(),
		logger: logger,
		subs:   make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies ev to the store and notifies subscribers with the new
// snapshot. Events that leave the state unchanged notify nobody.
func (s *Store) Dispatch(ev Event) {
	s.mu.Lock()
	prev := s.state
	next := State{
		Cursors:        ReduceCursors(prev.Cursors, ev),
		PostReadCounts: ReduceReadCounts(prev.PostReadCounts, ev),
	}
	s.state = next
	s.mu.Unlock()

	if sameMap(prev.Cursors, next.Cursors) && sameMap(prev.PostReadCounts, next.PostReadCounts) {
		return
	}

	s.logger.Debug("read receipts state updated", "event", EventName(ev))
	s.notify(next)
}

// Reset discards the whole session state.
func (s *Store) Reset() {
	s.Dispatch(SessionReset{})
}

// Subscribe registers fn to be called after every state change. The returned
// function removes the subscription. Under concurrent dispatches fn may see
// snapshots out of order; State always returns the latest one.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(state State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// sameMap reports whether a and b are the same map value, not merely equal.
func sameMap[M ~map[K]V, K comparable, V any](a, b M) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
