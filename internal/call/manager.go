package call

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Manager keeps the live flows, one per visitor.
type Manager struct {
	opts  Options
	flows map[string]*Flow
	mu    sync.RWMutex
}

// NewManager creates a manager whose flows share opts.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:  opts,
		flows: make(map[string]*Flow),
	}
}

// Create registers a new flow on the home view.
func (m *Manager) Create() *Flow {
	flow := NewFlow(uuid.NewString(), m.opts)

	m.mu.Lock()
	m.flows[flow.ID()] = flow
	m.mu.Unlock()

	return flow
}

// Get retrieves a flow by ID.
func (m *Manager) Get(id string) *Flow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flows[id]
}

// Delete closes and removes a flow. It reports whether the flow existed.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	m.mu.Lock()
	flow, ok := m.flows[id]
	delete(m.flows, id)
	m.mu.Unlock()

	if ok {
		flow.Close(ctx)
	}
	return ok
}

// Len returns the number of live flows.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.flows)
}

// Close closes every flow.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	flows := m.flows
	m.flows = make(map[string]*Flow)
	m.mu.Unlock()

	for _, flow := range flows {
		flow.Close(ctx)
	}
}
