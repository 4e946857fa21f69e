package reconcile

import (
	"sync"
	"time"

	"tabstash/api/internal/tree"
)

// ManagedSet holds the locators the stash contained after the last
// committed pass. Only the engine writes it.
type ManagedSet struct {
	mu        sync.RWMutex
	set       tree.LocatorSet
	updatedAt time.Time
}

func NewManagedSet() *ManagedSet {
	return &ManagedSet{set: tree.LocatorSet{}}
}

func (m *ManagedSet) Replace(set tree.LocatorSet, at time.Time) {
	if set == nil {
		set = tree.LocatorSet{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = set
	m.updatedAt = at
}

// Snapshot returns a copy safe to use after the lock is released.
func (m *ManagedSet) Snapshot() tree.LocatorSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(tree.LocatorSet, len(m.set))
	for url := range m.set {
		out[url] = struct{}{}
	}
	return out
}

func (m *ManagedSet) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.set)
}

// UpdatedAt is zero until the first Replace.
func (m *ManagedSet) UpdatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt
}
