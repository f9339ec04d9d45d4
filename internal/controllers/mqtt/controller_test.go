package mqttctrl

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/monehvac/internal/climate"
	"github.com/Agrid-Dev/monehvac/internal/device"
	"github.com/Agrid-Dev/monehvac/internal/testutil"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err  error
	done chan struct{}
}

func (t fakeToken) Done() <-chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
		close(t.done)
	}
	return t.done
}

func (t fakeToken) Wait() bool                       { return true }
func (t fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t fakeToken) Error() error                     { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	publishes     []publishCall
	subscriptions map[string]mqtt.MessageHandler
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeClient) Disconnect(_ uint)      {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		tmp, _ := json.Marshal(v)
		b = tmp
	}
	c.publishes = append(c.publishes, publishCall{
		topic: topic, qos: qos, retain: retained, payload: b,
	})
	return fakeToken{}
}
func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]mqtt.MessageHandler)
	}
	c.subscriptions[topic] = h
	return fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(_ ...string) mqtt.Token       { return fakeToken{} }
func (c *fakeClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) publishedTo(topic string) []publishCall {
	var out []publishCall
	for _, p := range c.publishes {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// ---- tests ----
func newDefaultSvc() *testutil.FakeClimateService {
	return testutil.NewFakeClimateService()
}

func newController(t *testing.T, svc *testutil.FakeClimateService, cfg Config) (*Controller, *fakeClient) {
	t.Helper()
	if cfg.DeviceID == "" {
		cfg.DeviceID = "room101"
	}
	c, err := New(svc, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	fc := &fakeClient{}
	c.client = fc
	return c, fc
}

func TestNewDefaults(t *testing.T) {
	svc := newDefaultSvc()
	c, err := New(svc, Config{DeviceID: "room101"})
	if err != nil {
		t.Fatal(err)
	}

	if c.cfg.BrokerURL != "tcp://localhost:1883" {
		t.Fatalf("expected default BrokerURL, got %q", c.cfg.BrokerURL)
	}
	if c.cfg.BaseTopic != "monehvac/room101" {
		t.Fatalf("expected default BaseTopic, got %q", c.cfg.BaseTopic)
	}
	if c.cfg.ClientID != "monehvac-room101" {
		t.Fatalf("expected default ClientID, got %q", c.cfg.ClientID)
	}
	if c.cfg.PublishInterval != 1*time.Second {
		t.Fatalf("expected default PublishInterval, got %v", c.cfg.PublishInterval)
	}
	if c.cfg.DiscoveryPrefix != "homeassistant" {
		t.Fatalf("expected default DiscoveryPrefix, got %q", c.cfg.DiscoveryPrefix)
	}
	if c.cfg.Name != "room101" {
		t.Fatalf("expected Name to default to DeviceID, got %q", c.cfg.Name)
	}
}

func TestNewValidation(t *testing.T) {
	svc := newDefaultSvc()

	if _, err := New(svc, Config{}); err == nil {
		t.Fatal("expected error when DeviceID missing")
	}

	if _, err := New(svc, Config{DeviceID: "x", QoS: 2}); err == nil {
		t.Fatal("expected error when QoS > 1")
	}

	bad := Config{DeviceID: "x"}
	bad.Sensors.CurrentTemperature = SensorConfig{Topic: "t", Expression: "value /"}
	if _, err := New(svc, bad); err == nil {
		t.Fatal("expected error for an invalid sensor expression")
	}
}

func TestTopicJoin(t *testing.T) {
	c, _ := newController(t, newDefaultSvc(), Config{BaseTopic: "monehvac/room101/"})
	if got := c.topic("state"); got != "monehvac/room101/state" {
		t.Fatalf("expected topic without double slashes, got %q", got)
	}
}

func TestDecodeValueStrict(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v, err := decodeValueStrict[float64]([]byte(`{"value": 12.5}`))
		if err != nil {
			t.Fatal(err)
		}
		if v != 12.5 {
			t.Fatalf("expected 12.5, got %v", v)
		}
	})

	t.Run("missing value", func(t *testing.T) {
		_, err := decodeValueStrict[bool]([]byte(`{}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":"heat","extra":1}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":`))
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestDecodeValue_BarePayloads(t *testing.T) {
	v, err := decodeValue([]byte(" 22.5 "), parseFloat)
	if err != nil || v != 22.5 {
		t.Fatalf("expected 22.5, got %v err=%v", v, err)
	}
	s, err := decodeValue([]byte("heat"), parseString)
	if err != nil || s != "heat" {
		t.Fatalf("expected heat, got %q err=%v", s, err)
	}
	if _, err := decodeValue([]byte(""), parseString); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := decodeValue([]byte(`{"value":"heat","extra":1}`), parseString); err == nil {
		t.Fatal("expected object payloads to go through the strict decoder")
	}
}

func TestOnMessage_IgnoresWrongPrefix(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{
		topic:   "otherprefix/set/temperature",
		payload: []byte(`{"value":22}`),
	})

	if svc.SetTargetTemperatureCalled {
		t.Fatal("expected SetTargetTemperature not called")
	}
}

func TestOnMessage_Temperature(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{
		topic:   "monehvac/room101/set/temperature",
		payload: []byte(`{"value":23.5}`),
	})

	if !svc.SetTargetTemperatureCalled || svc.SetTargetTemperatureArg != 23.5 {
		t.Fatalf("expected SetTargetTemperature(23.5), got called=%v arg=%v",
			svc.SetTargetTemperatureCalled, svc.SetTargetTemperatureArg)
	}
}

func TestOnMessage_TemperatureBare(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{
		topic:   "monehvac/room101/set/temperature",
		payload: []byte(`21.0`),
	})

	if svc.SetTargetTemperatureArg != 21 {
		t.Fatalf("expected SetTargetTemperature(21), got %v", svc.SetTargetTemperatureArg)
	}
}

func TestOnMessage_HVACMode(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{
		topic:   "monehvac/room101/set/hvac_mode",
		payload: []byte(`{"value":"heat"}`),
	})

	if !svc.SetHVACModeCalled || svc.SetHVACModeArg != climate.HVACHeat {
		t.Fatalf("expected SetHVACMode(Heat), got called=%v arg=%v", svc.SetHVACModeCalled, svc.SetHVACModeArg)
	}
}

func TestOnMessage_HVACModeOff(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{topic: "monehvac/room101/set/hvac_mode", payload: []byte(`off`)})

	if svc.SetHVACModeArg != climate.HVACOff {
		t.Fatalf("expected SetHVACMode(Off), got %v", svc.SetHVACModeArg)
	}
}

func TestOnMessage_HVACModeInvalid_DoesNotCallService(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{
		topic:   "monehvac/room101/set/hvac_mode",
		payload: []byte(`{"value":"weird"}`),
	})

	if svc.SetHVACModeCalled {
		t.Fatal("expected SetHVACMode not called")
	}
}

func TestOnMessage_FanAndSwing(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{topic: "monehvac/room101/set/fan_mode", payload: []byte(`High`)})
	c.onMessage(nil, fakeMessage{topic: "monehvac/room101/set/swing_mode", payload: []byte(`{"value":"Swing"}`)})
	c.onMessage(nil, fakeMessage{topic: "monehvac/room101/set/swingh_mode", payload: []byte(`"Left"`)})

	if svc.SetFanModeArg != "High" || svc.SetSwingModeArg != "Swing" || svc.SetSwingHModeArg != "Left" {
		t.Fatalf("unexpected args fan=%q swing=%q swingh=%q",
			svc.SetFanModeArg, svc.SetSwingModeArg, svc.SetSwingHModeArg)
	}
}

func TestOnMessage_JSON(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newController(t, svc, Config{})

	raw := `{"power":"On","mode":"Heat","source":"IRRemote"}`
	c.onMessage(nil, fakeMessage{topic: "monehvac/room101/set/json", payload: []byte(raw)})
	if svc.SetJSONArg != raw {
		t.Fatalf("expected raw SetJSON(%q), got %q", raw, svc.SetJSONArg)
	}

	wrapped, _ := json.Marshal(map[string]string{"value": raw})
	svc.SetJSONArg = ""
	c.onMessage(nil, fakeMessage{topic: "monehvac/room101/set/json", payload: wrapped})
	if svc.SetJSONArg != raw {
		t.Fatalf("expected unwrapped SetJSON(%q), got %q", raw, svc.SetJSONArg)
	}
}

// Service errors are logged, not propagated.
func TestOnMessage_ServiceError_IsIgnored(t *testing.T) {
	svc := newDefaultSvc()
	svc.SetTargetTemperatureErr = errors.New("boom")
	c, _ := newController(t, svc, Config{})

	c.onMessage(nil, fakeMessage{
		topic:   "monehvac/room101/set/temperature",
		payload: []byte(`{"value":25}`),
	})

	if !svc.SetTargetTemperatureCalled {
		t.Fatal("expected SetTargetTemperature called")
	}
}

func TestPublishState_PublishesJSON(t *testing.T) {
	svc := newDefaultSvc()
	c, fc := newController(t, svc, Config{QoS: 1, RetainState: true})

	c.publishState(svc.Get())

	if len(fc.publishes) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fc.publishes))
	}

	p := fc.publishes[0]
	if p.topic != "monehvac/room101/state" {
		t.Fatalf("expected state topic, got %q", p.topic)
	}
	if p.qos != 1 || p.retain != true {
		t.Fatalf("expected qos=1 retain=true, got qos=%d retain=%v", p.qos, p.retain)
	}

	var got map[string]any
	if err := json.Unmarshal(p.payload, &got); err != nil {
		t.Fatalf("invalid published json: %v payload=%s", err, string(p.payload))
	}
	if got["hvac_mode"] != "off" {
		t.Fatalf("expected hvac_mode=off, got %v", got["hvac_mode"])
	}
	if got["fan_mode"] != "Auto" {
		t.Fatalf("expected fan_mode=Auto, got %v", got["fan_mode"])
	}
	if got["json"] != svc.S.JSON {
		t.Fatalf("expected json attribute, got %v", got["json"])
	}
}

func TestSync_PublishesOnlyOnChange(t *testing.T) {
	svc := newDefaultSvc()
	c, fc := newController(t, svc, Config{})

	c.sync()
	c.sync()
	if n := len(fc.publishedTo("monehvac/room101/state")); n != 1 {
		t.Fatalf("expected 1 state publish, got %d", n)
	}

	_ = svc.SetFanMode("High")
	c.sync()
	if n := len(fc.publishedTo("monehvac/room101/state")); n != 2 {
		t.Fatalf("expected 2 state publishes, got %d", n)
	}
}

func TestSync_ForwardsPlatformChangesToBridge(t *testing.T) {
	svc := newDefaultSvc()
	c, fc := newController(t, svc, Config{Bridge: BridgeConfig{CommandTopic: "ir/cmd"}})

	// startup state is not a command
	c.sync()
	if n := len(fc.publishedTo("ir/cmd")); n != 0 {
		t.Fatalf("expected no bridge publish at startup, got %d", n)
	}

	platform := `{"power":"On","mode":"Heat","temp":22,"source":"HASS"}`
	svc.Update(func(s *climate.Snapshot) {
		s.JSON = platform
		s.Source = climate.SourcePlatform
	})
	c.sync()
	got := fc.publishedTo("ir/cmd")
	if len(got) != 1 || string(got[0].payload) != platform {
		t.Fatalf("expected bridge publish of %q, got %+v", platform, got)
	}

	remote := `{"power":"Off","mode":"Heat","temp":22,"source":"IRRemote"}`
	svc.Update(func(s *climate.Snapshot) {
		s.JSON = remote
		s.Source = climate.SourceIRRemote
	})
	c.sync()
	if n := len(fc.publishedTo("ir/cmd")); n != 1 {
		t.Fatalf("expected remote-originated state not to be echoed, got %d publishes", n)
	}
}

func TestSync_ForwardsPlatformChangeFollowedByRemoteReport(t *testing.T) {
	c0, err := climate.New(climate.Options{})
	if err != nil {
		t.Fatal(err)
	}
	dev := device.New("room101", "", c0, nil, nil)
	c, err := New(dev, Config{DeviceID: "room101", Bridge: BridgeConfig{CommandTopic: "ir/cmd"}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	fc := &fakeClient{}
	c.client = fc

	if err := dev.SetTargetTemperature(28); err != nil {
		t.Fatal(err)
	}
	// remote power press decoded before the publish loop runs
	if !dev.SetJSON(`{"power":"On","source":"IRRemote"}`) {
		t.Fatal("expected remote report to apply")
	}
	c.sync()

	got := fc.publishedTo("ir/cmd")
	if len(got) != 1 {
		t.Fatalf("expected 1 bridge publish, got %d", len(got))
	}
	if p := string(got[0].payload); !strings.Contains(p, `"temp":28`) || !strings.Contains(p, `"power":"On"`) {
		t.Fatalf("expected merged state sent to bridge, got %s", p)
	}

	c.sync()
	if n := len(fc.publishedTo("ir/cmd")); n != 1 {
		t.Fatalf("expected no resend, got %d publishes", n)
	}
}

func TestBridgeState_WithoutSourceIsNotEchoed(t *testing.T) {
	svc := newDefaultSvc()
	svc.SetJSONResult = true
	c, fc := newController(t, svc, Config{Bridge: BridgeConfig{CommandTopic: "ir/cmd", StateTopic: "ir/state"}})

	c.onConnect(fc)
	raw := `{"power":"On","mode":"Heat","temp":21,"fanspeed":"Auto","swingv":"Middle","swingh":"Middle"}`
	fc.subscriptions["ir/state"](fc, fakeMessage{topic: "ir/state", payload: []byte(raw)})
	c.sync()

	if n := len(fc.publishedTo("ir/cmd")); n != 0 {
		t.Fatalf("expected bridge report not to be sent back, got %d publishes", n)
	}

	// a later platform command still goes out
	platform := `{"power":"On","mode":"Heat","temp":23,"source":"HASS"}`
	svc.Update(func(s *climate.Snapshot) { s.JSON = platform })
	c.sync()
	if got := fc.publishedTo("ir/cmd"); len(got) != 1 || string(got[0].payload) != platform {
		t.Fatalf("expected platform command forwarded, got %+v", got)
	}
}

func TestBridgeState_RoutesToSetJSON(t *testing.T) {
	svc := newDefaultSvc()
	c, fc := newController(t, svc, Config{Bridge: BridgeConfig{StateTopic: "ir/state"}})

	c.onConnect(fc)
	h, ok := fc.subscriptions["ir/state"]
	if !ok {
		t.Fatal("expected subscription to bridge state topic")
	}
	raw := `{"power":"On","source":"IRRemote"}`
	h(fc, fakeMessage{topic: "ir/state", payload: []byte(raw)})

	if svc.SetJSONArg != raw {
		t.Fatalf("expected SetJSON(%q), got %q", raw, svc.SetJSONArg)
	}
}

func TestSensors_ExpressionsAndSharedTopic(t *testing.T) {
	svc := newDefaultSvc()
	cfg := Config{}
	cfg.Sensors.Online = SensorConfig{Topic: "ir/lwt", Expression: "value == 'Online'"}
	cfg.Sensors.CurrentTemperature = SensorConfig{Topic: "zigbee/room", Expression: "temperature"}
	cfg.Sensors.CurrentHumidity = SensorConfig{Topic: "zigbee/room", Expression: "humidity"}
	c, fc := newController(t, svc, cfg)

	c.onConnect(fc)

	topics := make([]string, 0, len(fc.subscriptions))
	for topic := range fc.subscriptions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	want := []string{"ir/lwt", "monehvac/room101/set/+", "zigbee/room"}
	if len(topics) != len(want) {
		t.Fatalf("expected subscriptions %v, got %v", want, topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("expected subscriptions %v, got %v", want, topics)
		}
	}

	fc.subscriptions["ir/lwt"](fc, fakeMessage{topic: "ir/lwt", payload: []byte("Online")})
	fc.subscriptions["zigbee/room"](fc, fakeMessage{
		topic:   "zigbee/room",
		payload: []byte(`{"temperature":21.5,"humidity":40}`),
	})

	if len(svc.OnlineArgs) != 1 || svc.OnlineArgs[0] != "true" {
		t.Fatalf("expected online true, got %v", svc.OnlineArgs)
	}
	if len(svc.TemperatureArgs) != 1 || svc.TemperatureArgs[0] != "21.5" {
		t.Fatalf("expected temperature 21.5, got %v", svc.TemperatureArgs)
	}
	if len(svc.HumidityArgs) != 1 || svc.HumidityArgs[0] != "40" {
		t.Fatalf("expected humidity 40, got %v", svc.HumidityArgs)
	}
}

func TestSensors_PassThroughWithoutExpression(t *testing.T) {
	svc := newDefaultSvc()
	cfg := Config{}
	cfg.Sensors.CurrentTemperature = SensorConfig{Topic: "sensor/temp"}
	c, fc := newController(t, svc, cfg)

	c.onConnect(fc)
	fc.subscriptions["sensor/temp"](fc, fakeMessage{topic: "sensor/temp", payload: []byte("21.5")})

	if len(svc.TemperatureArgs) != 1 || svc.TemperatureArgs[0] != "21.5" {
		t.Fatalf("expected raw payload passed through, got %v", svc.TemperatureArgs)
	}
}

func TestSensors_UnavailableSkipsExpression(t *testing.T) {
	svc := newDefaultSvc()
	cfg := Config{}
	cfg.Sensors.CurrentTemperature = SensorConfig{Topic: "sensor/temp", Expression: "value / 10"}
	var logs strings.Builder
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	c, fc := newController(t, svc, cfg)

	c.onConnect(fc)
	for _, p := range []string{"unavailable", "unknown", ""} {
		fc.subscriptions["sensor/temp"](fc, fakeMessage{topic: "sensor/temp", payload: []byte(p)})
	}

	if len(svc.TemperatureArgs) != 0 {
		t.Fatalf("expected no sensor update, got %v", svc.TemperatureArgs)
	}
	if strings.Contains(logs.String(), "sensor expression failed") {
		t.Fatalf("expected placeholders to be skipped quietly, got log %q", logs.String())
	}
}

func TestOnConnect_PublishesAvailabilityAndDiscovery(t *testing.T) {
	svc := newDefaultSvc()
	c, fc := newController(t, svc, Config{Name: "Living room", Discovery: true})

	c.onConnect(fc)

	avail := fc.publishedTo("monehvac/room101/availability")
	if len(avail) != 1 || string(avail[0].payload) != "online" || !avail[0].retain {
		t.Fatalf("expected retained online availability, got %+v", avail)
	}

	disc := fc.publishedTo("homeassistant/climate/room101/config")
	if len(disc) != 1 || !disc[0].retain {
		t.Fatalf("expected one retained discovery publish, got %+v", disc)
	}
	var got map[string]any
	if err := json.Unmarshal(disc[0].payload, &got); err != nil {
		t.Fatalf("invalid discovery json: %v", err)
	}
	if got["name"] != "Living room" || got["unique_id"] != "monehvac_room101" {
		t.Fatalf("unexpected identity in %v", got)
	}
	if got["mode_command_topic"] != "monehvac/room101/set/hvac_mode" {
		t.Fatalf("unexpected mode_command_topic %v", got["mode_command_topic"])
	}
	modes, _ := got["modes"].([]any)
	if len(modes) == 0 || modes[0] != "off" {
		t.Fatalf("expected modes starting with off, got %v", got["modes"])
	}
}

func TestOnConnect_NoDiscoveryByDefault(t *testing.T) {
	c, fc := newController(t, newDefaultSvc(), Config{})
	c.onConnect(fc)
	if n := len(fc.publishedTo("homeassistant/climate/room101/config")); n != 0 {
		t.Fatalf("expected no discovery publish, got %d", n)
	}
}
