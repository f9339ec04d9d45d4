// Package device plays the host side of a climate entity: it validates
// commands against the configured option lists, persists every new state
// and restores the last one at start.
package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Agrid-Dev/monehvac/internal/climate"
	"github.com/Agrid-Dev/monehvac/internal/ports"
)

const saveTimeout = 5 * time.Second

type Device struct {
	ID   string
	Name string
	C    *climate.Climate

	store ports.StateStore
	log   *slog.Logger

	mu    sync.Mutex
	saved string
	stop  func()
}

func New(id, name string, c *climate.Climate, store ports.StateStore, log *slog.Logger) *Device {
	if log == nil {
		log = slog.Default()
	}
	d := &Device{
		ID:    id,
		Name:  name,
		C:     c,
		store: store,
		log:   log.With("device_id", id),
		saved: c.Get().JSON,
	}
	if store != nil {
		d.stop = c.OnChange(d.persist)
	}
	return d
}

// Restore rehydrates the climate from the last persisted state, if any.
func (d *Device) Restore(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	st, err := d.store.Load(ctx, d.ID)
	if errors.Is(err, ports.ErrStateNotFound) {
		d.log.Info("no persisted state, starting from defaults")
		return nil
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.saved = st.JSON
	d.mu.Unlock()

	if d.C.Rehydrate(st.JSON) {
		d.log.Info("state restored", "json", st.JSON, "updated_at", st.UpdatedAt)
	}
	return nil
}

// Close detaches persistence from the climate.
func (d *Device) Close() {
	if d.stop != nil {
		d.stop()
	}
}

// persist saves the live state, not the notified one: observers run outside
// the climate lock, so notifications may arrive out of order.
func (d *Device) persist(climate.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.C.Get()
	if s.JSON == d.saved {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	err := d.store.Save(ctx, ports.PersistedState{
		DeviceID:  d.ID,
		JSON:      s.JSON,
		Source:    s.Source,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		d.log.Error("persist state", "err", err)
		return
	}
	d.saved = s.JSON
}

func (d *Device) Get() climate.Snapshot { return d.C.Get() }

func (d *Device) Options() climate.Options { return d.C.Options() }

func (d *Device) Attributes() climate.Attributes { return d.C.Attributes() }

func (d *Device) SetTargetTemperature(v float64) error {
	if !d.C.Options().AllowsTemperature(v) {
		return climate.ErrTemperatureOutOfRange
	}
	d.C.SetTargetTemperature(v)
	return nil
}

func (d *Device) SetHVACMode(m climate.HVACMode) error {
	if !d.C.Options().AllowsHVACMode(m) {
		return climate.ErrInvalidMode
	}
	d.C.SetHVACMode(m)
	return nil
}

func (d *Device) SetFanMode(mode string) error {
	if !d.C.Options().AllowsFanMode(mode) {
		return climate.ErrInvalidFanMode
	}
	d.C.SetFanMode(mode)
	return nil
}

func (d *Device) SetSwingMode(mode string) error {
	if !d.C.Options().AllowsSwingMode(mode) {
		return climate.ErrInvalidSwingMode
	}
	d.C.SetSwingMode(mode)
	return nil
}

func (d *Device) SetSwingHMode(mode string) error {
	if !d.C.Options().AllowsSwingHMode(mode) {
		return climate.ErrInvalidSwingHMode
	}
	d.C.SetSwingHMode(mode)
	return nil
}

func (d *Device) SetJSON(raw string) bool {
	d.log.Debug("set_json", "json", raw)
	return d.C.ParseJSON(raw)
}

func (d *Device) ApplyOnlineFlag(raw string) bool { return d.C.ApplyOnlineFlag(raw) }

func (d *Device) ApplyCurrentTemperature(raw string) bool { return d.C.ApplyCurrentTemperature(raw) }

func (d *Device) ApplyCurrentHumidity(raw string) bool { return d.C.ApplyCurrentHumidity(raw) }

func (d *Device) Watch(fn func(climate.Snapshot)) func() { return d.C.OnChange(fn) }

var _ ports.ClimateService = (*Device)(nil)
