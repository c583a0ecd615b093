// Package memory provides an in-process implementation of storage.Store.
//
// A Hub holds the shared data; each call to Open returns a handle that plays
// the role of one instance. Suitable for testing, demos, and deployments where
// every instance lives in the same process.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/sessionguard/internal/uuid"
	"github.com/jmcleod/sessionguard/storage"
)

// Hub is the shared backing store for a set of handles.
type Hub struct {
	mu     sync.RWMutex
	data   map[string]string
	nextID uint64
	subs   map[uint64]subscription
}

type subscription struct {
	source string
	fn     func(storage.Change)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		data: make(map[string]string),
		subs: make(map[uint64]subscription),
	}
}

// Open returns a new handle with a random source identifier.
func (h *Hub) Open() *Store {
	return h.OpenAs(uuid.New())
}

// OpenAs returns a handle stamped with the given source identifier.
func (h *Hub) OpenAs(source string) *Store {
	return &Store{hub: h, source: source}
}

// Snapshot returns a copy of the shared data.
func (h *Hub) Snapshot() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]string, len(h.data))
	for k, v := range h.data {
		cp[k] = v
	}
	return cp
}

// Subscribers returns the number of live subscriptions across all handles.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// notify delivers c to every subscriber except those owned by the writer.
// Subscribers run on the writer's goroutine, outside the hub lock.
func (h *Hub) notify(c storage.Change) {
	h.mu.RLock()
	targets := make([]func(storage.Change), 0, len(h.subs))
	for _, s := range h.subs {
		if s.source != c.Source {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(c)
	}
}

// Store is one instance's handle onto a Hub.
type Store struct {
	hub    *Hub
	source string
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Source() string {
	return s.source
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	v, ok := s.hub.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.hub.mu.Lock()
	s.hub.data[key] = value
	s.hub.mu.Unlock()

	s.hub.notify(storage.Change{Key: key, Value: value, Present: true, Source: s.source})
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.hub.mu.Lock()
	_, existed := s.hub.data[key]
	delete(s.hub.data, key)
	s.hub.mu.Unlock()

	if existed {
		s.hub.notify(storage.Change{Key: key, Source: s.source})
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.hub.mu.Lock()
	s.hub.data = make(map[string]string)
	s.hub.mu.Unlock()

	s.hub.notify(storage.Change{Source: s.source})
	return nil
}

func (s *Store) Subscribe(_ context.Context, fn func(storage.Change)) (func(), error) {
	s.hub.mu.Lock()
	s.hub.nextID++
	id := s.hub.nextID
	s.hub.subs[id] = subscription{source: s.source, fn: fn}
	s.hub.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.hub.mu.Lock()
			delete(s.hub.subs, id)
			s.hub.mu.Unlock()
		})
	}, nil
}
