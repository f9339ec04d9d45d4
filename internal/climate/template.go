package climate

import (
	"strconv"
	"strings"
)

// Template is the operator-supplied wire format. Placeholders are replaced
// verbatim: values are not JSON-escaped, so a template is only valid JSON as
// long as the substituted tokens are plain words and numbers.
type Template string

const DefaultTemplate Template = `{"power":"$power","mode":"$hvac_mode","temp":$temperature,"fanspeed":"$fan_mode","swingv":"$swing_mode","swingh":"$swingh_mode","source":"$source"}`

const (
	PlaceholderPower       = "$power"
	PlaceholderMode        = "$hvac_mode"
	PlaceholderTemperature = "$temperature"
	PlaceholderFanMode     = "$fan_mode"
	PlaceholderSwingMode   = "$swing_mode"
	PlaceholderSwingHMode  = "$swingh_mode"
	PlaceholderSource      = "$source"
)

// Fields are the values substituted into a Template.
type Fields struct {
	Power       string
	Mode        string
	Temperature string
	FanMode     string
	SwingMode   string
	SwingHMode  string
	Source      string
}

// Render substitutes every placeholder in a single pass.
func (t Template) Render(f Fields) string {
	r := strings.NewReplacer(
		PlaceholderPower, f.Power,
		PlaceholderMode, f.Mode,
		PlaceholderTemperature, f.Temperature,
		PlaceholderFanMode, f.FanMode,
		PlaceholderSwingMode, f.SwingMode,
		PlaceholderSwingHMode, f.SwingHMode,
		PlaceholderSource, f.Source,
	)
	return r.Replace(string(t))
}

func formatTemperature(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fieldsOf(s Snapshot, source string) Fields {
	return Fields{
		Power:       s.Operation.Power().String(),
		Mode:        s.Operation.Mode().VendorString(),
		Temperature: formatTemperature(s.TargetTemperature),
		FanMode:     s.FanMode,
		SwingMode:   s.SwingMode,
		SwingHMode:  s.SwingHMode,
		Source:      source,
	}
}
