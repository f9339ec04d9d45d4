package ports

import "github.com/Agrid-Dev/monehvac/internal/climate"

// ClimateService is the control-plane port used by controllers (HTTP/MQTT/Modbus).
// Setters validate against the configured option lists before touching state.
type ClimateService interface {
	Get() climate.Snapshot
	Options() climate.Options
	Attributes() climate.Attributes

	SetTargetTemperature(float64) error
	SetHVACMode(climate.HVACMode) error
	SetFanMode(string) error
	SetSwingMode(string) error
	SetSwingHMode(string) error
	// SetJSON feeds a raw bridge state string and reports whether it changed anything.
	SetJSON(string) bool

	ApplyOnlineFlag(string) bool
	ApplyCurrentTemperature(string) bool
	ApplyCurrentHumidity(string) bool

	// Watch calls fn after every state change until the returned func is called.
	Watch(fn func(climate.Snapshot)) (stop func())
}
