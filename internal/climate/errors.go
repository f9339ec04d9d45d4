package climate

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMode           = errors.New("invalid hvac mode")
	ErrInvalidFanMode        = errors.New("invalid fan mode")
	ErrInvalidSwingMode      = errors.New("invalid swing mode")
	ErrInvalidSwingHMode     = errors.New("invalid swingh mode")
	ErrTemperatureOutOfRange = errors.New("target temperature out of range")
	ErrInvalidMinMax         = errors.New("invalid min/max temperature")
	ErrInvalidStep           = errors.New("temperature step must be greater than zero")
	ErrEmptyTemplate         = errors.New("json template is empty")
	ErrUnavailable           = errors.New("value unknown or unavailable")
)

// ParseError reports an inbound state string that is not valid JSON.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse state json %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CoercionError reports a sensor push that could not be converted.
type CoercionError struct {
	Field string
	Value string
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("could not parse %s from %q: %v", e.Field, e.Value, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}
