package climate

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNotObject = errors.New("state is not a json object")

// wireState is the inbound shape. Every field is optional: absent keys leave
// the current value untouched.
type wireState struct {
	Power    *string      `json:"power"`
	Mode     *string      `json:"mode"`
	Temp     *json.Number `json:"temp"`
	FanSpeed *string      `json:"fanspeed"`
	SwingV   *string      `json:"swingv"`
	SwingH   *string      `json:"swingh"`
	Source   *string      `json:"source"`
}

func decodeState(raw string) (wireState, error) {
	var w wireState
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return wireState{}, &ParseError{Input: raw, Err: err}
	}
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return wireState{}, &ParseError{Input: raw, Err: errNotObject}
	}
	return w, nil
}

// merge applies w onto s and returns the resolved source tag.
func (c *Climate) merge(s *Snapshot, w wireState) string {
	if w.Power != nil {
		p, err := ParsePower(*w.Power)
		if err != nil {
			c.log.Warn("ignoring power", "value", *w.Power, "err", err)
		} else if p == PowerOn {
			s.Operation = s.Operation.TurnOn()
		} else {
			s.Operation = s.Operation.TurnOff()
		}
	}
	if w.Mode != nil {
		m, err := ParseHVACMode(*w.Mode)
		switch {
		case err != nil:
			c.log.Warn("ignoring mode", "value", *w.Mode, "err", err)
		case m == HVACOff:
			s.Operation = s.Operation.TurnOff()
		default:
			s.Operation = s.Operation.WithMode(m)
		}
	}
	if w.Temp != nil {
		v, err := w.Temp.Float64()
		if err != nil {
			c.log.Warn("ignoring temp", "value", w.Temp.String(), "err", err)
		} else {
			s.TargetTemperature = v
		}
	}
	if w.FanSpeed != nil {
		s.FanMode = *w.FanSpeed
	}
	if w.SwingV != nil {
		s.SwingMode = *w.SwingV
	}
	if w.SwingH != nil {
		s.SwingHMode = *w.SwingH
	}
	if w.Source != nil {
		return *w.Source
	}
	return c.opts.PlatformSource
}
