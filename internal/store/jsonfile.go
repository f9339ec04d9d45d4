package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Agrid-Dev/monehvac/internal/ports"
)

// JSONFile stores every device's state in one JSON document keyed by device ID.
type JSONFile struct {
	path string
	mu   sync.RWMutex
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

func (r *JSONFile) read() (map[string]ports.PersistedState, error) {
	states := make(map[string]ports.PersistedState)
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return states, nil
	}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return states, nil
}

func (r *JSONFile) Load(_ context.Context, deviceID string) (ports.PersistedState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states, err := r.read()
	if err != nil {
		return ports.PersistedState{}, err
	}
	st, ok := states[deviceID]
	if !ok {
		return ports.PersistedState{}, ports.ErrStateNotFound
	}
	return st, nil
}

func (r *JSONFile) Save(_ context.Context, st ports.PersistedState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	states, err := r.read()
	if err != nil {
		return err
	}
	states[st.DeviceID] = st

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0644)
}

func (r *JSONFile) Close() error { return nil }
