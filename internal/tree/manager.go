package tree

import (
	"context"
	"sync"

	"github.com/dkeye/collab/internal/domain"
)

type entry struct {
	ready chan struct{}
	store *Store
	err   error
}

// Manager hands out one Store per project. Loading one project never blocks
// lookups of another.
type Manager struct {
	persist Persister

	mu     sync.Mutex
	stores map[domain.ProjectKey]*entry
}

// NewManager keeps trees in memory only when p is nil.
func NewManager(p Persister) *Manager {
	return &Manager{
		persist: p,
		stores:  make(map[domain.ProjectKey]*entry),
	}
}

// Get returns the project's store, loading it on first use.
func (m *Manager) Get(ctx context.Context, key domain.ProjectKey) (*Store, error) {
	m.mu.Lock()
	e, ok := m.stores[key]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		m.stores[key] = e
	}
	m.mu.Unlock()

	if ok {
		select {
		case <-e.ready:
			return e.store, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.store, e.err = Open(ctx, key, m.persist)
	if e.err != nil {
		m.mu.Lock()
		delete(m.stores, key)
		m.mu.Unlock()
	}
	close(e.ready)
	return e.store, e.err
}

// Peek returns a store only if it is already loaded.
func (m *Manager) Peek(key domain.ProjectKey) (*Store, bool) {
	m.mu.Lock()
	e, ok := m.stores[key]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		return e.store, e.err == nil
	default:
		return nil, false
	}
}

// View returns the loaded store of a project, or a detached read-only copy
// built from the persister. Reads never keep a project loaded.
func (m *Manager) View(ctx context.Context, key domain.ProjectKey) (*Store, error) {
	if s, ok := m.Peek(key); ok {
		return s, nil
	}
	return Open(ctx, key, m.persist)
}

// Release unloads a project once nothing would be lost by it: the tree is
// persisted, or it holds nothing but the root.
func (m *Manager) Release(key domain.ProjectKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.stores[key]
	if !ok {
		return false
	}
	select {
	case <-e.ready:
	default:
		return false
	}
	if e.err == nil && m.persist == nil && e.store.Len() > 1 {
		return false
	}
	delete(m.stores, key)
	return true
}

// Loaded reports how many project trees are held in memory.
func (m *Manager) Loaded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}
