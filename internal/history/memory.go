package history

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]map[string]Entry{}, now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, entry Entry) (Entry, error) {
	entry, err := Prepare(entry, m.now())
	if err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.entries[entry.ConnectionName]
	if !ok {
		byID = map[string]Entry{}
		m.entries[entry.ConnectionName] = byID
	}
	byID[entry.ID] = entry
	return entry, nil
}

func (m *MemoryStore) List(_ context.Context, connectionName string, favoritesOnly bool) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries[connectionName]))
	for _, entry := range m.entries[connectionName] {
		if favoritesOnly && !entry.Favorite {
			continue
		}
		out = append(out, entry)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) SetFavorite(_ context.Context, connectionName, id string, favorite bool) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[connectionName][id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.Favorite = favorite
	m.entries[connectionName][id] = entry
	return entry, nil
}

func (m *MemoryStore) Delete(_ context.Context, connectionName, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[connectionName][id]; !ok {
		return ErrNotFound
	}
	delete(m.entries[connectionName], id)
	return nil
}
