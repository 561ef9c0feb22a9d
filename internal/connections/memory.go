package connections

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps connections for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]AIConnection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]AIConnection{}}
}

func (s *MemoryStore) List(_ context.Context) ([]AIConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AIConnection, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (AIConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[strings.TrimSpace(name)]
	if !ok {
		return AIConnection{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) Add(_ context.Context, conn AIConnection) error {
	conn = normalize(conn)
	if err := Validate(conn); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[conn.Name]; ok {
		return ErrExists
	}
	s.items[conn.Name] = conn
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimSpace(name)
	if _, ok := s.items[name]; !ok {
		return ErrNotFound
	}
	delete(s.items, name)
	return nil
}
