package circuitbreaker

import "sync"

// Manager owns one Breaker per identifier, creating them lazily on first
// use with a shared set of options.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewManager creates a Manager that applies opts to every Breaker it
// creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// Get returns the Breaker for identifier, creating it if it does not
// already exist.
func (m *Manager) Get(identifier string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[identifier]
	if !ok {
		b = New(identifier, m.opts...)
		m.breakers[identifier] = b
	}
	return b
}

// IsOpen is a convenience wrapper over Get(identifier).IsOpen().
func (m *Manager) IsOpen(identifier string) bool {
	return m.Get(identifier).IsOpen()
}

// Snapshots returns a point-in-time copy of every breaker's state, keyed
// by identifier.
func (m *Manager) Snapshots() map[string]struct{ State string } {
	m.mu.Lock()
	ids := make([]string, 0, len(m.breakers))
	breakers := make([]*Breaker, 0, len(m.breakers))
	for id, b := range m.breakers {
		ids = append(ids, id)
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	out := make(map[string]struct{ State string }, len(ids))
	for i, id := range ids {
		snap := breakers[i].Snapshot()
		out[id] = struct{ State string }{State: string(snap.State)}
	}
	return out
}

// Reset resets the breaker for identifier, if it exists.
func (m *Manager) Reset(identifier string) {
	m.mu.Lock()
	b, ok := m.breakers[identifier]
	m.mu.Unlock()
	if ok {
		b.Reset()
	}
}
