package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/monehvac/internal/climate"
	mqttctrl "github.com/Agrid-Dev/monehvac/internal/controllers/mqtt"
	"github.com/Agrid-Dev/monehvac/internal/store"
)

// EnvPrefix is stripped from environment variables before key mapping.
const EnvPrefix = "MONEHVAC_"

type Config struct {
	DeviceID string `koanf:"device_id" json:"device_id" yaml:"device_id"`
	Name     string `koanf:"name" json:"name" yaml:"name"`

	Climate ClimateConfig `koanf:"climate" json:"climate" yaml:"climate"`
	Store   StoreConfig   `koanf:"store" json:"store" yaml:"store"`
	Log     LogConfig     `koanf:"log" json:"log" yaml:"log"`

	Controllers struct {
		HTTP   HTTPConfig   `koanf:"http" json:"http" yaml:"http"`
		MQTT   MQTTConfig   `koanf:"mqtt" json:"mqtt" yaml:"mqtt"`
		MODBUS ModbusConfig `koanf:"modbus" json:"modbus" yaml:"modbus"`
	} `koanf:"controllers" json:"controllers" yaml:"controllers"`
}

type ClimateConfig struct {
	MinTemp        float64  `koanf:"min_temp" json:"min_temp" yaml:"min_temp"`
	MaxTemp        float64  `koanf:"max_temp" json:"max_temp" yaml:"max_temp"`
	TargetTempStep float64  `koanf:"target_temp_step" json:"target_temp_step" yaml:"target_temp_step"`
	JSONFormat     string   `koanf:"json_format" json:"json_format" yaml:"json_format"`
	HVACModes      []string `koanf:"hvac_modes" json:"hvac_modes" yaml:"hvac_modes"`
	FanModes       []string `koanf:"fan_modes" json:"fan_modes" yaml:"fan_modes"`
	SwingVModes    []string `koanf:"swingv_modes" json:"swingv_modes" yaml:"swingv_modes"`
	SwingHModes    []string `koanf:"swingh_modes" json:"swingh_modes" yaml:"swingh_modes"`
	Source         string   `koanf:"source" json:"source" yaml:"source"` // origin tag for platform changes
}

type StoreConfig struct {
	Driver string `koanf:"driver" json:"driver" yaml:"driver"` // "sqlite" | "json" | "memory"
	Path   string `koanf:"path" json:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"` // "console" | "text" | "json"
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" json:"addr" yaml:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	BrokerURL       string        `koanf:"broker_url" json:"broker_url" yaml:"broker_url"`
	ClientID        string        `koanf:"client_id" json:"client_id" yaml:"client_id"`
	BaseTopic       string        `koanf:"base_topic" json:"base_topic" yaml:"base_topic"`
	QoS             byte          `koanf:"qos" json:"qos" yaml:"qos"`
	RetainState     bool          `koanf:"retain_state" json:"retain_state" yaml:"retain_state"`
	PublishInterval time.Duration `koanf:"publish_interval" json:"publish_interval" yaml:"publish_interval"`
	Username        string        `koanf:"username" json:"username" yaml:"username"`
	Password        string        `koanf:"password" json:"password" yaml:"password"`
	Discovery       bool          `koanf:"discovery" json:"discovery" yaml:"discovery"`
	DiscoveryPrefix string        `koanf:"discovery_prefix" json:"discovery_prefix" yaml:"discovery_prefix"`

	Bridge  BridgeConfig  `koanf:"bridge" json:"bridge" yaml:"bridge"`
	Sensors SensorsConfig `koanf:"sensors" json:"sensors" yaml:"sensors"`
}

type BridgeConfig struct {
	CommandTopic string `koanf:"command_topic" json:"command_topic" yaml:"command_topic"`
	StateTopic   string `koanf:"state_topic" json:"state_topic" yaml:"state_topic"`
}

type SensorsConfig struct {
	Online             SensorConfig `koanf:"online" json:"online" yaml:"online"`
	CurrentTemperature SensorConfig `koanf:"current_temperature" json:"current_temperature" yaml:"current_temperature"`
	CurrentHumidity    SensorConfig `koanf:"current_humidity" json:"current_humidity" yaml:"current_humidity"`
}

type SensorConfig struct {
	Topic      string `koanf:"topic" json:"topic" yaml:"topic"`
	Expression string `koanf:"expression" json:"expression" yaml:"expression"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" json:"addr" yaml:"addr"`
	UnitID  byte   `koanf:"unit_id" json:"unit_id" yaml:"unit_id"`
}

// Default is the configuration used before any file or environment layer.
func Default() Config {
	var cfg Config
	cfg.DeviceID = "default"
	cfg.Climate = ClimateConfig{
		MinTemp:        climate.DefaultMinTemperature,
		MaxTemp:        climate.DefaultMaxTemperature,
		TargetTempStep: climate.DefaultTemperatureStep,
		JSONFormat:     string(climate.DefaultTemplate),
		FanModes:       climate.DefaultFanModes(),
		SwingVModes:    climate.DefaultSwingModes(),
		SwingHModes:    climate.DefaultSwingHModes(),
		Source:         climate.SourcePlatform,
	}
	for _, m := range climate.DefaultHVACModes() {
		cfg.Climate.HVACModes = append(cfg.Climate.HVACModes, m.String())
	}
	cfg.Store = StoreConfig{Driver: store.DriverMemory}
	cfg.Log = LogConfig{Level: "info", Format: "console"}
	cfg.Controllers.HTTP.Addr = ":8080"
	cfg.Controllers.MQTT.PublishInterval = 1 * time.Second
	cfg.Controllers.MQTT.DiscoveryPrefix = "homeassistant"
	cfg.Controllers.MODBUS.Addr = "127.0.0.1:1502"
	cfg.Controllers.MODBUS.UnitID = 1
	return cfg
}

// LoadConfig layers defaults, the file at path (when present) and MONEHVAC_*
// environment variables.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = envKeyTransform(strings.TrimPrefix(key, EnvPrefix))
			if isListKey(key) {
				return key, splitList(value)
			}
			return key, value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = TOMLParser()
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		// Config file missing → use defaults
		return nil
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.DeviceID == "" {
		cfg.DeviceID = "default"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.DeviceID
	}
	if cfg.Controllers.HTTP.Addr == "" {
		cfg.Controllers.HTTP.Addr = ":8080"
	}
	// Containers commonly hand the port over as PORT.
	if v := os.Getenv("PORT"); v != "" && os.Getenv(EnvPrefix+"CONTROLLERS_HTTP_ADDR") == "" {
		cfg.Controllers.HTTP.Addr = ":" + v
	}
	if !cfg.Controllers.HTTP.Enabled && !cfg.Controllers.MQTT.Enabled && !cfg.Controllers.MODBUS.Enabled {
		cfg.Controllers.HTTP.Enabled = true
	}
	if cfg.Controllers.MQTT.PublishInterval == 0 {
		cfg.Controllers.MQTT.PublishInterval = 1 * time.Second
	}
	if cfg.Controllers.MODBUS.UnitID == 0 {
		cfg.Controllers.MODBUS.UnitID = 1
	}
	if cfg.Store.Driver != store.DriverMemory && cfg.Store.Path == "" {
		switch cfg.Store.Driver {
		case store.DriverSQLite:
			cfg.Store.Path = "monehvac.db"
		case store.DriverJSON:
			cfg.Store.Path = "monehvac-state.json"
		}
	}
}

// ClimateOptions converts the climate section. Bounds and the template are
// checked here so a bad file fails at startup.
func (c Config) ClimateOptions(log climate.Logger) (climate.Options, error) {
	modes := make([]climate.HVACMode, 0, len(c.Climate.HVACModes))
	for _, s := range c.Climate.HVACModes {
		m, err := climate.ParseHVACMode(s)
		if err != nil {
			return climate.Options{}, fmt.Errorf("climate.hvac_modes: %w", err)
		}
		modes = append(modes, m)
	}
	if strings.TrimSpace(c.Climate.JSONFormat) == "" {
		return climate.Options{}, climate.ErrEmptyTemplate
	}
	opts := climate.Options{
		MinTemperature:  c.Climate.MinTemp,
		MaxTemperature:  c.Climate.MaxTemp,
		TemperatureStep: c.Climate.TargetTempStep,
		Template:        climate.Template(c.Climate.JSONFormat),
		HVACModes:       modes,
		FanModes:        c.Climate.FanModes,
		SwingModes:      c.Climate.SwingVModes,
		SwingHModes:     c.Climate.SwingHModes,
		PlatformSource:  c.Climate.Source,
		Logger:          log,
	}
	if err := opts.Validate(); err != nil {
		return climate.Options{}, err
	}
	return opts, nil
}

// Redacted returns a copy safe to print: secrets are masked.
func (c Config) Redacted() Config {
	if c.Controllers.MQTT.Password != "" {
		c.Controllers.MQTT.Password = "********"
	}
	return c
}

func (c Config) StoreConfig() store.Config {
	return store.Config{Driver: c.Store.Driver, Path: c.Store.Path}
}

func (c Config) MQTTConfig() mqttctrl.Config {
	m := c.Controllers.MQTT
	sensor := func(s SensorConfig) mqttctrl.SensorConfig {
		return mqttctrl.SensorConfig{Topic: s.Topic, Expression: s.Expression}
	}
	return mqttctrl.Config{
		DeviceID:        c.DeviceID,
		Name:            c.Name,
		BrokerURL:       m.BrokerURL,
		ClientID:        m.ClientID,
		BaseTopic:       m.BaseTopic,
		QoS:             m.QoS,
		RetainState:     m.RetainState,
		PublishInterval: m.PublishInterval,
		Username:        m.Username,
		Password:        m.Password,
		Discovery:       m.Discovery,
		DiscoveryPrefix: m.DiscoveryPrefix,
		Bridge: mqttctrl.BridgeConfig{
			CommandTopic: m.Bridge.CommandTopic,
			StateTopic:   m.Bridge.StateTopic,
		},
		Sensors: mqttctrl.SensorsConfig{
			Online:             sensor(m.Sensors.Online),
			CurrentTemperature: sensor(m.Sensors.CurrentTemperature),
			CurrentHumidity:    sensor(m.Sensors.CurrentHumidity),
		},
	}
}

var topSections = []string{"climate", "store", "log"}

var sensorNames = []string{"online", "current_temperature", "current_humidity"}

// envKeyTransform maps an unprefixed variable name to a koanf key path:
// CONTROLLERS_MQTT_BRIDGE_STATE_TOPIC → controllers.mqtt.bridge.state_topic.
// Names it cannot place are lowercased and kept flat.
func envKeyTransform(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return ""
	}

	for _, s := range topSections {
		if rest, ok := strings.CutPrefix(k, s+"_"); ok && rest != "" {
			return s + "." + rest
		}
	}

	rest, ok := strings.CutPrefix(k, "controllers_")
	if !ok {
		return k
	}
	ctrl, field, ok := strings.Cut(rest, "_")
	if !ok {
		return k
	}
	key := "controllers." + ctrl + "."
	if ctrl == "mqtt" {
		if f, ok := strings.CutPrefix(field, "bridge_"); ok {
			return key + "bridge." + f
		}
		if f, ok := strings.CutPrefix(field, "sensors_"); ok {
			for _, name := range sensorNames {
				if leaf, ok := strings.CutPrefix(f, name+"_"); ok {
					return key + "sensors." + name + "." + leaf
				}
			}
		}
	}
	return key + field
}

func isListKey(key string) bool {
	return strings.HasPrefix(key, "climate.") && strings.HasSuffix(key, "_modes")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
