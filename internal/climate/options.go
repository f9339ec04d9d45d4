package climate

import "slices"

const (
	DefaultMinTemperature    = 16.0
	DefaultMaxTemperature    = 32.0
	DefaultTemperatureStep   = 1.0
	DefaultTargetTemperature = 24.0

	DefaultMode       = HVACCool
	DefaultFanMode    = "Auto"
	DefaultSwingMode  = "Middle"
	DefaultSwingHMode = "Middle"

	// SourcePlatform tags state produced by this side of the bridge.
	SourcePlatform = "HASS"
	// SourceIRRemote is what IR bridges conventionally send for remote presses.
	SourceIRRemote = "IRRemote"
)

func DefaultHVACModes() []HVACMode {
	return []HVACMode{HVACOff, HVACHeat, HVACDry, HVACCool, HVACAuto}
}

func DefaultFanModes() []string {
	return []string{"Auto", "Min", "Low", "Medium", "High", "Quiet"}
}

func DefaultSwingModes() []string {
	return []string{"Auto", "Highest", "High", "Middle", "Low", "Lowest", "Swing"}
}

func DefaultSwingHModes() []string {
	return []string{"Max Left", "Left", "Middle", "Right", "Max Right", "Wide"}
}

// Options configures a Climate. Zero values fall back to the defaults above.
type Options struct {
	MinTemperature  float64
	MaxTemperature  float64
	TemperatureStep float64

	Template Template

	HVACModes   []HVACMode
	FanModes    []string
	SwingModes  []string
	SwingHModes []string

	// PlatformSource is the origin tag for setter-driven changes and for
	// inbound JSON that carries no source of its own.
	PlatformSource string

	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.MinTemperature == 0 {
		o.MinTemperature = DefaultMinTemperature
	}
	if o.MaxTemperature == 0 {
		o.MaxTemperature = DefaultMaxTemperature
	}
	if o.TemperatureStep == 0 {
		o.TemperatureStep = DefaultTemperatureStep
	}
	if o.Template == "" {
		o.Template = DefaultTemplate
	}
	if len(o.HVACModes) == 0 {
		o.HVACModes = DefaultHVACModes()
	}
	if len(o.FanModes) == 0 {
		o.FanModes = DefaultFanModes()
	}
	if len(o.SwingModes) == 0 {
		o.SwingModes = DefaultSwingModes()
	}
	if len(o.SwingHModes) == 0 {
		o.SwingHModes = DefaultSwingHModes()
	}
	if o.PlatformSource == "" {
		o.PlatformSource = SourcePlatform
	}
	if o.Logger == nil {
		o.Logger = NoOpLogger{}
	}
	return o
}

func (o Options) Validate() error {
	if o.MinTemperature > o.MaxTemperature {
		return ErrInvalidMinMax
	}
	if o.TemperatureStep <= 0 {
		return ErrInvalidStep
	}
	if o.Template == "" {
		return ErrEmptyTemplate
	}
	for _, m := range o.HVACModes {
		if !m.Valid() {
			return ErrInvalidMode
		}
	}
	return nil
}

func (o Options) clone() Options {
	o.HVACModes = slices.Clone(o.HVACModes)
	o.FanModes = slices.Clone(o.FanModes)
	o.SwingModes = slices.Clone(o.SwingModes)
	o.SwingHModes = slices.Clone(o.SwingHModes)
	return o
}

// The Allows* helpers back the command validation done by the service layer;
// Climate's own setters accept whatever they are handed.

func (o Options) AllowsHVACMode(m HVACMode) bool {
	return slices.Contains(o.HVACModes, m)
}

func (o Options) AllowsFanMode(s string) bool {
	return slices.Contains(o.FanModes, s)
}

func (o Options) AllowsSwingMode(s string) bool {
	return slices.Contains(o.SwingModes, s)
}

func (o Options) AllowsSwingHMode(s string) bool {
	return slices.Contains(o.SwingHModes, s)
}

func (o Options) AllowsTemperature(v float64) bool {
	return v >= o.MinTemperature && v <= o.MaxTemperature
}
