package store

import (
	"context"
	"sync"

	"github.com/Agrid-Dev/monehvac/internal/ports"
)

// Memory keeps state for the lifetime of the process only.
type Memory struct {
	mu     sync.RWMutex
	states map[string]ports.PersistedState
}

func NewMemory() *Memory {
	return &Memory{states: make(map[string]ports.PersistedState)}
}

func (m *Memory) Load(_ context.Context, deviceID string) (ports.PersistedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[deviceID]
	if !ok {
		return ports.PersistedState{}, ports.ErrStateNotFound
	}
	return st, nil
}

func (m *Memory) Save(_ context.Context, st ports.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.DeviceID] = st
	return nil
}

func (m *Memory) Close() error { return nil }
