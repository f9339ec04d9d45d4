package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/monehvac/internal/climate"
	"github.com/Agrid-Dev/monehvac/internal/expr"
	"github.com/Agrid-Dev/monehvac/internal/ports"
)

type Config struct {
	// Identity
	DeviceID string
	Name     string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainState     bool
	PublishInterval time.Duration

	Username string
	Password string

	// Home Assistant discovery
	Discovery       bool
	DiscoveryPrefix string

	Bridge  BridgeConfig
	Sensors SensorsConfig

	Logger *slog.Logger
}

// BridgeConfig names the topics of the IR bridge. Platform-originated state
// is published on CommandTopic; whatever the bridge decodes from the remote
// arrives on StateTopic.
type BridgeConfig struct {
	CommandTopic string
	StateTopic   string
}

type SensorsConfig struct {
	Online             SensorConfig
	CurrentTemperature SensorConfig
	CurrentHumidity    SensorConfig
}

// SensorConfig binds a topic to one sensor input. Expression, when set, maps
// the payload to the value handed to the climate.
type SensorConfig struct {
	Topic      string
	Expression string
}

type sensorRoute struct {
	name  string
	expr  *expr.Expression
	apply func(string) bool
}

type Controller struct {
	svc ports.ClimateService
	cfg Config
	log *slog.Logger

	client mqtt.Client

	// topic -> routes; several sensors may share a JSON payload topic.
	sensors map[string][]sensorRoute

	// owned by Run
	last      climate.Snapshot
	published bool

	bridgeMu       sync.Mutex
	pendingBridge  string // platform-originated JSON not yet sent
	lastBridgeJSON string
	unwatchBridge  func()
}

func New(svc ports.ClimateService, cfg Config) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}

	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.DeviceID
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "monehvac/" + cfg.DeviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "monehvac-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		svc:     svc,
		cfg:     cfg,
		log:     cfg.Logger.With("controller", "mqtt"),
		sensors: make(map[string][]sensorRoute),
	}

	bindings := []struct {
		name  string
		sc    SensorConfig
		apply func(string) bool
	}{
		{"online", cfg.Sensors.Online, svc.ApplyOnlineFlag},
		{"current_temperature", cfg.Sensors.CurrentTemperature, svc.ApplyCurrentTemperature},
		{"current_humidity", cfg.Sensors.CurrentHumidity, svc.ApplyCurrentHumidity},
	}
	for _, b := range bindings {
		if b.sc.Topic == "" {
			continue
		}
		x, err := expr.Compile(b.sc.Expression)
		if err != nil {
			return nil, fmt.Errorf("mqtt: sensor %s: %w", b.name, err)
		}
		c.sensors[b.sc.Topic] = append(c.sensors[b.sc.Topic], sensorRoute{name: b.name, expr: x, apply: b.apply})
	}

	// The state present at startup was either restored or is the default;
	// neither is a fresh command for the unit.
	c.lastBridgeJSON = svc.Get().JSON
	if cfg.Bridge.CommandTopic != "" {
		c.unwatchBridge = svc.Watch(c.trackBridge)
	}
	return c, nil
}

// Close detaches the controller from the climate service.
func (c *Controller) Close() {
	if c.unwatchBridge != nil {
		c.unwatchBridge()
	}
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2*time.Second).
		SetWill(c.topic("availability"), "offline", c.cfg.QoS, true)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.log.Warn("connection lost", "err", err)
	}

	defer c.Close()

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	changed := make(chan struct{}, 1)
	stop := c.svc.Watch(func(climate.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	// Publish loop: publish state on change, with the ticker as a fallback.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	c.sync()

	for {
		select {
		case <-ctx.Done():
			c.client.Publish(c.topic("availability"), c.cfg.QoS, true, "offline").Wait()
			c.client.Disconnect(250)
			return ctx.Err()

		case <-changed:
			c.sync()

		case <-ticker.C:
			c.sync()
		}
	}
}

// sync publishes the state when it differs from the last publication and
// forwards pending platform changes to the bridge.
func (c *Controller) sync() {
	cur := c.svc.Get()
	if !c.published || !reflect.DeepEqual(cur, c.last) {
		c.publishState(cur)
		c.last = cur
		c.published = true
	}
	c.forwardToBridge()
}

// trackBridge records platform-originated changes as they happen; the
// publish loop coalesces notifications and may only see a later state.
func (c *Controller) trackBridge(s climate.Snapshot) {
	c.bridgeMu.Lock()
	defer c.bridgeMu.Unlock()
	if s.Source == c.svc.Options().PlatformSource {
		c.pendingBridge = s.JSON
		return
	}
	// the unit already is in a state decoded from outside
	if c.pendingBridge == "" {
		c.lastBridgeJSON = s.JSON
	}
}

// forwardToBridge sends the current state once a platform change is pending.
// The current state also carries any bridge report merged since then.
func (c *Controller) forwardToBridge() {
	c.bridgeMu.Lock()
	defer c.bridgeMu.Unlock()
	if c.pendingBridge == "" {
		return
	}
	c.pendingBridge = ""

	raw := c.svc.Get().JSON
	if raw == c.lastBridgeJSON {
		return
	}
	c.client.Publish(c.cfg.Bridge.CommandTopic, c.cfg.QoS, false, raw)
	c.lastBridgeJSON = raw
	c.log.Debug("sent to bridge", "topic", c.cfg.Bridge.CommandTopic, "json", raw)
}

func (c *Controller) onConnect(cl mqtt.Client) {
	handlers := map[string]mqtt.MessageHandler{
		c.topic("set/+"): c.onMessage,
	}
	if c.cfg.Bridge.StateTopic != "" {
		handlers[c.cfg.Bridge.StateTopic] = c.onBridgeState
	}
	for topic, routes := range c.sensors {
		handlers[topic] = c.sensorHandler(routes)
	}

	for topic, h := range handlers {
		token := cl.Subscribe(topic, c.cfg.QoS, h)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Error("subscribe failed", "topic", topic, "err", err)
		}
	}

	cl.Publish(c.topic("availability"), c.cfg.QoS, true, "online")
	if c.cfg.Discovery {
		c.publishDiscovery(cl)
	}
	c.log.Info("connected", "broker", c.cfg.BrokerURL, "base_topic", c.cfg.BaseTopic)
}

func (c *Controller) publishState(s climate.Snapshot) {
	b, _ := json.Marshal(toDTO(s, c.svc.Attributes()))
	c.client.Publish(c.topic("state"), c.cfg.QoS, c.cfg.RetainState, b)
}

type stateDTO struct {
	HVACMode           string   `json:"hvac_mode"`
	Power              string   `json:"power"`
	Temperature        float64  `json:"temperature"`
	FanMode            string   `json:"fan_mode"`
	SwingMode          string   `json:"swing_mode"`
	CurrentTemperature *float64 `json:"current_temperature"`
	CurrentHumidity    *float64 `json:"current_humidity"`
	Source             string   `json:"source"`

	climate.Attributes
}

func toDTO(s climate.Snapshot, a climate.Attributes) stateDTO {
	return stateDTO{
		HVACMode:           s.HVACMode().String(),
		Power:              s.Operation.Power().String(),
		Temperature:        s.TargetTemperature,
		FanMode:            s.FanMode,
		SwingMode:          s.SwingMode,
		CurrentTemperature: s.CurrentTemperature,
		CurrentHumidity:    s.CurrentHumidity,
		Source:             s.Source,
		Attributes:         a,
	}
}

// Command payload format: {"value": ...}, or the bare value as sent by
// Home Assistant.
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/set/<field>
	t := msg.Topic()
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/set/"
	if !strings.HasPrefix(t, prefix) {
		return
	}
	field := strings.TrimPrefix(t, prefix)

	payload := msg.Payload()

	var err error
	switch field {
	case "temperature":
		var v float64
		if v, err = decodeValue(payload, parseFloat); err == nil {
			err = c.svc.SetTargetTemperature(v)
		}

	case "hvac_mode":
		var s string
		if s, err = decodeValue(payload, parseString); err == nil {
			var m climate.HVACMode
			if m, err = climate.ParseHVACMode(s); err == nil {
				err = c.svc.SetHVACMode(m)
			}
		}

	case "fan_mode":
		var s string
		if s, err = decodeValue(payload, parseString); err == nil {
			err = c.svc.SetFanMode(s)
		}

	case "swing_mode":
		var s string
		if s, err = decodeValue(payload, parseString); err == nil {
			err = c.svc.SetSwingMode(s)
		}

	case "swingh_mode":
		var s string
		if s, err = decodeValue(payload, parseString); err == nil {
			err = c.svc.SetSwingHMode(s)
		}

	case "json":
		raw, derr := decodeValueStrict[string](payload)
		if derr != nil {
			raw = string(payload)
		}
		c.svc.SetJSON(raw)

	default:
		err = fmt.Errorf("unknown field %q", field)
	}

	if err != nil {
		c.log.Warn("command rejected", "topic", t, "payload", string(payload), "err", err)
	}
}

func (c *Controller) onBridgeState(_ mqtt.Client, msg mqtt.Message) {
	if !c.svc.SetJSON(string(msg.Payload())) {
		return
	}
	// A report without a source resolves to the platform tag; it is still
	// the bridge's own state and must not go back out as a command.
	cur := c.svc.Get().JSON
	c.bridgeMu.Lock()
	if c.pendingBridge == "" || c.pendingBridge == cur {
		c.pendingBridge = ""
		c.lastBridgeJSON = cur
	}
	c.bridgeMu.Unlock()
}

func (c *Controller) sensorHandler(routes []sensorRoute) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := string(msg.Payload())
		if climate.IsUnavailable(payload) {
			return
		}
		for _, r := range routes {
			v, err := r.expr.Eval(payload)
			if err != nil {
				c.log.Warn("sensor expression failed", "sensor", r.name, "payload", payload, "err", err)
				continue
			}
			r.apply(v)
		}
	}
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}

// decodeValue accepts {"value": ...} and falls back to parse for bare
// payloads.
func decodeValue[T any](b []byte, parse func(string) (T, error)) (T, error) {
	trimmed := bytes.TrimSpace(b)
	if bytes.HasPrefix(trimmed, []byte("{")) {
		return decodeValueStrict[T](trimmed)
	}
	return parse(string(trimmed))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func parseString(s string) (string, error) {
	s = strings.Trim(s, `"`)
	if s == "" {
		return "", errors.New("empty value")
	}
	return s, nil
}
