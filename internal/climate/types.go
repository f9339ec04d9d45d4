package climate

import (
	"fmt"
	"strings"
)

// HVACMode is the platform-facing mode enum.
type HVACMode int

const (
	HVACUnknown HVACMode = iota
	HVACOff
	HVACHeat
	HVACDry
	HVACCool
	HVACAuto
	HVACFanOnly
)

func (m HVACMode) Valid() bool {
	return m >= HVACOff && m <= HVACFanOnly
}

func (m HVACMode) String() string {
	switch m {
	case HVACOff:
		return "off"
	case HVACHeat:
		return "heat"
	case HVACDry:
		return "dry"
	case HVACCool:
		return "cool"
	case HVACAuto:
		return "auto"
	case HVACFanOnly:
		return "fan_only"
	default:
		return "unknown"
	}
}

// VendorString is the spelling the air conditioner uses on the wire.
func (m HVACMode) VendorString() string {
	switch m {
	case HVACHeat:
		return "Heat"
	case HVACDry:
		return "Dry"
	case HVACCool:
		return "Cool"
	case HVACAuto:
		return "Auto"
	case HVACFanOnly:
		return "Fan"
	default:
		return ""
	}
}

// ParseHVACMode accepts both the platform and the vendor spelling, case-insensitively.
func ParseHVACMode(s string) (HVACMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return HVACOff, nil
	case "heat":
		return HVACHeat, nil
	case "dry":
		return HVACDry, nil
	case "cool":
		return HVACCool, nil
	case "auto":
		return HVACAuto, nil
	case "fan_only", "fan":
		return HVACFanOnly, nil
	default:
		return HVACUnknown, fmt.Errorf("invalid hvac mode: %q", s)
	}
}

// Power is the vendor-side power flag.
type Power bool

const (
	PowerOff Power = false
	PowerOn  Power = true
)

func (p Power) String() string {
	if p {
		return "On"
	}
	return "Off"
}

func ParsePower(s string) (Power, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return PowerOn, nil
	case "off":
		return PowerOff, nil
	default:
		return PowerOff, fmt.Errorf("invalid power: %q", s)
	}
}

// Operation is the unit's power state together with the mode it runs in,
// or will resume into once it is switched back on. The mode is never HVACOff.
type Operation struct {
	on   bool
	mode HVACMode
}

// Running returns an operation powered on in mode m.
func Running(m HVACMode) (Operation, error) {
	if !m.Valid() || m == HVACOff {
		return Operation{}, ErrInvalidMode
	}
	return Operation{on: true, mode: m}, nil
}

// Stopped returns a powered-off operation that resumes into mode m.
func Stopped(m HVACMode) (Operation, error) {
	op, err := Running(m)
	if err != nil {
		return Operation{}, err
	}
	op.on = false
	return op, nil
}

func (o Operation) Power() Power {
	return Power(o.on)
}

// Mode is the vendor mode, remembered across an off/on cycle.
func (o Operation) Mode() HVACMode {
	if o.mode == HVACUnknown {
		return DefaultMode
	}
	return o.mode
}

// HVACMode projects the operation onto the platform enum.
func (o Operation) HVACMode() HVACMode {
	if !o.on {
		return HVACOff
	}
	return o.Mode()
}

func (o Operation) TurnOff() Operation {
	return Operation{on: false, mode: o.Mode()}
}

func (o Operation) TurnOn() Operation {
	return Operation{on: true, mode: o.Mode()}
}

// WithMode switches the remembered mode and keeps the power flag.
func (o Operation) WithMode(m HVACMode) Operation {
	if !m.Valid() || m == HVACOff {
		return o
	}
	return Operation{on: o.on, mode: m}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(%s)", o.Power(), o.Mode().VendorString())
}
