package session

import (
	"context"
	"sync"
)

// Manager holds the synchronizer of every device that has talked to the
// auth endpoints since start.
type Manager struct {
	deps Deps

	mu    sync.Mutex
	syncs map[string]*Synchronizer
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, syncs: make(map[string]*Synchronizer)}
}

// For returns the device's synchronizer, starting one on first use.
func (m *Manager) For(ctx context.Context, deviceID string) (*Synchronizer, error) {
	m.mu.Lock()
	s, ok := m.syncs[deviceID]
	if ok {
		m.mu.Unlock()
		return s, nil
	}
	s = newSynchronizer(deviceID, m.deps)
	m.syncs[deviceID] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.Forget(deviceID)
		return nil, err
	}
	return s, nil
}

// Get returns the device's synchronizer if one is running.
func (m *Manager) Get(deviceID string) (*Synchronizer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.syncs[deviceID]
	return s, ok
}

// All returns every running synchronizer.
func (m *Manager) All() []*Synchronizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Synchronizer, 0, len(m.syncs))
	for _, s := range m.syncs {
		out = append(out, s)
	}
	return out
}

// Forget stops tracking a device, typically after it signed out.
func (m *Manager) Forget(deviceID string) {
	m.mu.Lock()
	s, ok := m.syncs[deviceID]
	delete(m.syncs, deviceID)
	m.mu.Unlock()
	if ok {
		go s.Close()
	}
}

// Close stops every synchronizer.
func (m *Manager) Close() {
	m.mu.Lock()
	syncs := m.syncs
	m.syncs = make(map[string]*Synchronizer)
	m.mu.Unlock()
	for _, s := range syncs {
		s.Close()
	}
}
