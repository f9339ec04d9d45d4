package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/monehvac/internal/ports"
)

func openAll(t *testing.T) map[string]ports.StateStore {
	t.Helper()
	dir := t.TempDir()

	sq, err := Open(Config{Driver: DriverSQLite, Path: filepath.Join(dir, "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	js, err := Open(Config{Driver: DriverJSON, Path: filepath.Join(dir, "state.json")})
	require.NoError(t, err)

	mem, err := Open(Config{Driver: DriverMemory})
	require.NoError(t, err)

	return map[string]ports.StateStore{
		DriverSQLite: sq,
		DriverJSON:   js,
		DriverMemory: mem,
	}
}

func TestStores_RoundTrip(t *testing.T) {
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Load(ctx, "living")
			assert.ErrorIs(t, err, ports.ErrStateNotFound)

			first := ports.PersistedState{
				DeviceID:  "living",
				JSON:      `{"power":"On","mode":"Cool","temp":24}`,
				Source:    "HASS",
				UpdatedAt: time.Now(),
			}
			require.NoError(t, s.Save(ctx, first))

			got, err := s.Load(ctx, "living")
			require.NoError(t, err)
			assert.Equal(t, first.JSON, got.JSON)
			assert.Equal(t, "HASS", got.Source)

			// overwrite, and keep other devices apart
			second := first
			second.JSON = `{"power":"Off"}`
			second.Source = "IRRemote"
			require.NoError(t, s.Save(ctx, second))
			require.NoError(t, s.Save(ctx, ports.PersistedState{DeviceID: "bedroom", JSON: "{}"}))

			got, err = s.Load(ctx, "living")
			require.NoError(t, err)
			assert.Equal(t, `{"power":"Off"}`, got.JSON)
			assert.Equal(t, "IRRemote", got.Source)

			other, err := s.Load(ctx, "bedroom")
			require.NoError(t, err)
			assert.Equal(t, "{}", other.JSON)
		})
	}
}

func TestJSONFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	require.NoError(t, NewJSONFile(path).Save(ctx, ports.PersistedState{DeviceID: "a", JSON: `{"power":"On"}`}))

	got, err := NewJSONFile(path).Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"power":"On"}`, got.JSON)
}

func TestJSONFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0644))

	_, err := NewJSONFile(path).Load(context.Background(), "a")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrStateNotFound)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, ports.PersistedState{DeviceID: "a", JSON: `{"power":"On"}`, UpdatedAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"power":"On"}`, got.JSON)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"})
	assert.Error(t, err)
}
