package messaging

import (
	"slices"
	"sync"
)

// ListenerID identifies one registration in a ListenerSet.
type ListenerID uint64

type listenerEntry[T any] struct {
	id ListenerID
	l  T
}

// ListenerSet is a copy-on-write subscriber set. Each dispatch round walks
// the snapshot taken when it started, so handlers may add or remove
// listeners (themselves included) without affecting the round in progress.
// The zero value is ready to use.
type ListenerSet[T any] struct {
	mu      sync.Mutex
	nextID  ListenerID
	entries []listenerEntry[T]
}

func (s *ListenerSet[T]) Add(l T) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	next := make([]listenerEntry[T], len(s.entries), len(s.entries)+1)
	copy(next, s.entries)
	s.entries = append(next, listenerEntry[T]{id: s.nextID, l: l})
	return s.nextID
}

func (s *ListenerSet[T]) Remove(id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.entries, func(e listenerEntry[T]) bool { return e.id == id })
	if i < 0 {
		return false
	}
	next := make([]listenerEntry[T], 0, len(s.entries)-1)
	next = append(next, s.entries[:i]...)
	s.entries = append(next, s.entries[i+1:]...)
	return true
}

func (s *ListenerSet[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Each calls fn for every listener registered when Each was called.
func (s *ListenerSet[T]) Each(fn func(T)) {
	s.mu.Lock()
	snapshot := s.entries
	s.mu.Unlock()
	for _, e := range snapshot {
		fn(e.l)
	}
}

// ConnectionHandler is the capability set of Connection events. Nil fields
// are skipped.
type ConnectionHandler struct {
	Opened       func(c *Connection)
	IncomingData func(c *Connection, msg Message)
	Closed       func(c *Connection, cause error)
}

// ServerHandler is the capability set of Server events.
type ServerHandler struct {
	Started          func()
	Accepted         func(c *Connection)
	ConnectionClosed func(c *Connection, cause error)
	Shutdown         func()
	Error            func(err error)
}

// ClientHandler is the capability set of Client events.
type ClientHandler struct {
	Opened func(c *Connection)
	Closed func(c *Connection, cause error)
	Error  func(err error)
}
