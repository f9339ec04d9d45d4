// Package store persists the last serialised climate state between runs.
package store

import (
	"fmt"

	"github.com/Agrid-Dev/monehvac/internal/ports"
)

const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
	DriverMemory = "memory"
)

type Config struct {
	Driver string
	Path   string
}

// Open returns the StateStore selected by cfg.Driver.
func Open(cfg Config) (ports.StateStore, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return OpenSQLite(cfg.Path)
	case DriverJSON:
		return NewJSONFile(cfg.Path), nil
	case DriverMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}
