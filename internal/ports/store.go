package ports

import (
	"context"
	"errors"
	"time"
)

var ErrStateNotFound = errors.New("no persisted state")

// PersistedState is what survives a restart: the last serialised JSON.
type PersistedState struct {
	DeviceID  string    `json:"device_id"`
	JSON      string    `json:"json"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StateStore interface {
	Load(ctx context.Context, deviceID string) (PersistedState, error)
	Save(ctx context.Context, st PersistedState) error
	Close() error
}
