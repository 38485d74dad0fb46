package artifact

import (
	"context"
	"sync"
	"time"

	"github.com/menta2k/membercard/pkg/types"
)

type entry struct {
	art     types.Artifact
	expires time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Put(_ context.Context, art *types.Artifact, ttl time.Duration) (string, error) {
	if art == nil || len(art.Data) == 0 {
		return "", ErrEmpty
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := newID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge()
	m.entries[id] = entry{art: *art, expires: m.now().Add(ttl)}
	return id, nil
}

func (m *Memory) Get(_ context.Context, id string) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || !m.now().Before(e.expires) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	art := e.art
	return &art, nil
}

func (m *Memory) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included until purged.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// purge drops expired entries; callers hold mu.
func (m *Memory) purge() {
	now := m.now()
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
		}
	}
}
