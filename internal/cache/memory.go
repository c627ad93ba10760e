package cache

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Entry
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]*Entry)}
}

func (m *Memory) Put(_ context.Context, collection, key string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = make(map[string]*Entry)
		m.collections[collection] = c
	}
	cp := *e
	cp.Header = e.Header.Clone()
	c[key] = &cp
	return nil
}

func (m *Memory) Match(_ context.Context, collection, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.collections[collection][key]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.Header = e.Header.Clone()
	return &cp, nil
}

func (m *Memory) Collections(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.collections))
	for name := range m.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}
