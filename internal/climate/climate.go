package climate

import (
	"errors"
	"strconv"
	"strings"
	"sync"
)

type Snapshot struct {
	Operation          Operation
	TargetTemperature  float64
	FanMode            string
	SwingMode          string
	SwingHMode         string
	Online             bool
	CurrentTemperature *float64
	CurrentHumidity    *float64

	// JSON is the last serialised state and Source the tag it was built with.
	JSON   string
	Source string
}

func (s Snapshot) HVACMode() HVACMode {
	return s.Operation.HVACMode()
}

// Attributes are the auxiliary values published next to the native climate fields.
type Attributes struct {
	SwingHMode  string   `json:"swingh_mode"`
	SwingHModes []string `json:"swingh_modes"`
	JSON        string   `json:"json"`
	JSONFormat  string   `json:"json_format"`
	IRIsOnline  bool     `json:"ir_is_online"`
}

type Climate struct {
	mu   sync.RWMutex
	s    Snapshot
	opts Options
	log  Logger

	obsMu     sync.Mutex
	nextObsID int
	observers map[int]func(Snapshot)
}

func New(opts Options) (*Climate, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	op, _ := Stopped(DefaultMode)
	c := &Climate{
		opts: opts.clone(),
		log:  opts.Logger,
		s: Snapshot{
			Operation:         op,
			TargetTemperature: DefaultTargetTemperature,
			FanMode:           DefaultFanMode,
			SwingMode:         DefaultSwingMode,
			SwingHMode:        DefaultSwingHMode,
		},
		observers: make(map[int]func(Snapshot)),
	}
	c.serialize(opts.PlatformSource)
	return c, nil
}

func (c *Climate) Get() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s
}

func (c *Climate) Options() Options {
	return c.opts.clone()
}

func (c *Climate) Attributes() Attributes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Attributes{
		SwingHMode:  c.s.SwingHMode,
		SwingHModes: append([]string(nil), c.opts.SwingHModes...),
		JSON:        c.s.JSON,
		JSONFormat:  string(c.opts.Template),
		IRIsOnline:  c.s.Online,
	}
}

// OnChange registers fn to run after every effective state change. The
// returned func removes it again.
func (c *Climate) OnChange(fn func(Snapshot)) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Climate) notify(s Snapshot) {
	c.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// serialize rebuilds the JSON string. Callers hold c.mu.
func (c *Climate) serialize(source string) {
	c.s.JSON = c.opts.Template.Render(fieldsOf(c.s, source))
	c.s.Source = source
}

// mutate runs fn and the serialisation as one unit, then notifies observers.
func (c *Climate) mutate(fn func(s *Snapshot)) {
	c.mu.Lock()
	fn(&c.s)
	c.serialize(c.opts.PlatformSource)
	s := c.s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Climate) SetTargetTemperature(v float64) {
	c.mutate(func(s *Snapshot) { s.TargetTemperature = v })
}

// SetHVACMode turns the unit off while remembering its mode, or switches it
// on in m.
func (c *Climate) SetHVACMode(m HVACMode) {
	if m == HVACOff {
		c.mutate(func(s *Snapshot) { s.Operation = s.Operation.TurnOff() })
		return
	}
	op, err := Running(m)
	if err != nil {
		c.log.Warn("ignoring hvac mode", "mode", m.String(), "err", err)
		return
	}
	c.mutate(func(s *Snapshot) { s.Operation = op })
}

func (c *Climate) SetFanMode(mode string) {
	c.mutate(func(s *Snapshot) { s.FanMode = mode })
}

func (c *Climate) SetSwingMode(mode string) {
	c.mutate(func(s *Snapshot) { s.SwingMode = mode })
}

func (c *Climate) SetSwingHMode(mode string) {
	c.mutate(func(s *Snapshot) { s.SwingHMode = mode })
}

// ParseJSON merges an inbound state string into the current state and reports
// whether anything was applied. Empty input, a repeat of the last serialised
// string and malformed JSON are no-ops.
func (c *Climate) ParseJSON(raw string) bool {
	c.mu.Lock()
	if raw == "" || raw == c.s.JSON {
		c.mu.Unlock()
		return false
	}
	w, err := decodeState(raw)
	if err != nil {
		c.mu.Unlock()
		c.log.Error("json decode failed", "err", err)
		return false
	}
	next := c.s
	source := c.merge(&next, w)
	c.s = next
	c.serialize(source)
	s := c.s
	c.mu.Unlock()

	c.log.Debug("state merged", "json", s.JSON, "source", source)
	c.notify(s)
	return true
}

// Rehydrate restores the state persisted by a previous run.
func (c *Climate) Rehydrate(lastJSON string) bool {
	if lastJSON == "" {
		return false
	}
	c.log.Debug("restoring state", "json", lastJSON)
	return c.ParseJSON(lastJSON)
}

// ApplyOnlineFlag records the IR bridge's reachability.
func (c *Climate) ApplyOnlineFlag(raw string) bool {
	v, err := coerceBool(raw)
	if err != nil {
		c.reportCoercion("ir_is_online", raw, err)
		return false
	}
	c.applySensor(func(s *Snapshot) { s.Online = v })
	return true
}

func (c *Climate) ApplyCurrentTemperature(raw string) bool {
	v, err := coerceFloat(raw)
	if err != nil {
		c.reportCoercion("temperature", raw, err)
		return false
	}
	c.applySensor(func(s *Snapshot) { s.CurrentTemperature = &v })
	return true
}

func (c *Climate) ApplyCurrentHumidity(raw string) bool {
	v, err := coerceFloat(raw)
	if err != nil {
		c.reportCoercion("humidity", raw, err)
		return false
	}
	c.applySensor(func(s *Snapshot) { s.CurrentHumidity = &v })
	return true
}

// Sensor readings are not part of the wire format, so JSON is left alone.
func (c *Climate) applySensor(fn func(s *Snapshot)) {
	c.mu.Lock()
	fn(&c.s)
	s := c.s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Climate) reportCoercion(field, raw string, err error) {
	if errors.Is(err, ErrUnavailable) {
		return
	}
	c.log.Error("sensor update rejected", "err", &CoercionError{Field: field, Value: raw, Err: err})
}

// IsUnavailable reports whether raw is one of the placeholder payloads
// (unknown, unavailable, none, empty) that carry no reading.
func IsUnavailable(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "unknown", "unavailable", "none":
		return true
	}
	return false
}

func coerceBool(raw string) (bool, error) {
	if IsUnavailable(raw) {
		return false, ErrUnavailable
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "yes", "online":
		return true, nil
	case "off", "no", "offline":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(raw))
}

func coerceFloat(raw string) (float64, error) {
	if IsUnavailable(raw) {
		return 0, ErrUnavailable
	}
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}
