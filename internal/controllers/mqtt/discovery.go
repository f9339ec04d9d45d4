package mqttctrl

import (
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// discoveryPayload is the Home Assistant MQTT climate config.
type discoveryPayload struct {
	Name     string          `json:"name"`
	UniqueID string          `json:"unique_id"`
	Device   discoveryDevice `json:"device"`

	AvailabilityTopic string `json:"availability_topic"`

	Modes      []string `json:"modes"`
	FanModes   []string `json:"fan_modes"`
	SwingModes []string `json:"swing_modes"`
	MinTemp    float64  `json:"min_temp"`
	MaxTemp    float64  `json:"max_temp"`
	TempStep   float64  `json:"temp_step"`

	ModeCommandTopic        string `json:"mode_command_topic"`
	TemperatureCommandTopic string `json:"temperature_command_topic"`
	FanModeCommandTopic     string `json:"fan_mode_command_topic"`
	SwingModeCommandTopic   string `json:"swing_mode_command_topic"`

	ModeStateTopic           string `json:"mode_state_topic"`
	ModeStateTemplate        string `json:"mode_state_template"`
	TemperatureStateTopic    string `json:"temperature_state_topic"`
	TemperatureStateTemplate string `json:"temperature_state_template"`
	FanModeStateTopic        string `json:"fan_mode_state_topic"`
	FanModeStateTemplate     string `json:"fan_mode_state_template"`
	SwingModeStateTopic      string `json:"swing_mode_state_topic"`
	SwingModeStateTemplate   string `json:"swing_mode_state_template"`

	CurrentTemperatureTopic    string `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string `json:"current_temperature_template"`
	CurrentHumidityTopic       string `json:"current_humidity_topic"`
	CurrentHumidityTemplate    string `json:"current_humidity_template"`

	JSONAttributesTopic string `json:"json_attributes_topic"`
}

func (c *Controller) discoveryTopic() string {
	return c.cfg.DiscoveryPrefix + "/climate/" + c.cfg.DeviceID + "/config"
}

func (c *Controller) discovery() discoveryPayload {
	o := c.svc.Options()
	modes := make([]string, 0, len(o.HVACModes))
	for _, m := range o.HVACModes {
		modes = append(modes, m.String())
	}
	state := c.topic("state")
	return discoveryPayload{
		Name:     c.cfg.Name,
		UniqueID: "monehvac_" + c.cfg.DeviceID,
		Device: discoveryDevice{
			Identifiers:  []string{"monehvac_" + c.cfg.DeviceID},
			Name:         c.cfg.Name,
			Manufacturer: "Mitsubishi",
			Model:        "IR bridge",
		},
		AvailabilityTopic: c.topic("availability"),

		Modes:      modes,
		FanModes:   o.FanModes,
		SwingModes: o.SwingModes,
		MinTemp:    o.MinTemperature,
		MaxTemp:    o.MaxTemperature,
		TempStep:   o.TemperatureStep,

		ModeCommandTopic:        c.topic("set/hvac_mode"),
		TemperatureCommandTopic: c.topic("set/temperature"),
		FanModeCommandTopic:     c.topic("set/fan_mode"),
		SwingModeCommandTopic:   c.topic("set/swing_mode"),

		ModeStateTopic:           state,
		ModeStateTemplate:        "{{ value_json.hvac_mode }}",
		TemperatureStateTopic:    state,
		TemperatureStateTemplate: "{{ value_json.temperature }}",
		FanModeStateTopic:        state,
		FanModeStateTemplate:     "{{ value_json.fan_mode }}",
		SwingModeStateTopic:      state,
		SwingModeStateTemplate:   "{{ value_json.swing_mode }}",

		CurrentTemperatureTopic:    state,
		CurrentTemperatureTemplate: "{{ value_json.current_temperature }}",
		CurrentHumidityTopic:       state,
		CurrentHumidityTemplate:    "{{ value_json.current_humidity }}",

		JSONAttributesTopic: state,
	}
}

func (c *Controller) publishDiscovery(cl mqtt.Client) {
	b, err := json.Marshal(c.discovery())
	if err != nil {
		c.log.Error("discovery encode failed", "err", err)
		return
	}
	cl.Publish(c.discoveryTopic(), c.cfg.QoS, true, b)
}
