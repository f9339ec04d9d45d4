package testutil

import (
	"sync"

	"github.com/Agrid-Dev/monehvac/internal/climate"
)

// FakeClimateService is a reusable fake implementing ports.ClimateService.
// Put ONLY what multiple test packages need here.
type FakeClimateService struct {
	mu sync.Mutex

	S    climate.Snapshot
	Opts climate.Options

	SetTargetTemperatureCalled bool
	SetTargetTemperatureArg    float64
	SetTargetTemperatureErr    error

	SetHVACModeCalled bool
	SetHVACModeArg    climate.HVACMode
	SetHVACModeErr    error

	SetFanModeCalled bool
	SetFanModeArg    string
	SetFanModeErr    error

	SetSwingModeCalled bool
	SetSwingModeArg    string
	SetSwingModeErr    error

	SetSwingHModeCalled bool
	SetSwingHModeArg    string
	SetSwingHModeErr    error

	SetJSONCalled bool
	SetJSONArg    string
	SetJSONResult bool

	OnlineArgs      []string
	TemperatureArgs []string
	HumidityArgs    []string

	watchers []func(climate.Snapshot)
}

func NewFakeClimateService() *FakeClimateService {
	op, _ := climate.Stopped(climate.HVACCool)
	return &FakeClimateService{
		S: climate.Snapshot{
			Operation:         op,
			TargetTemperature: 24,
			FanMode:           "Auto",
			SwingMode:         "Middle",
			SwingHMode:        "Middle",
			JSON:              `{"power":"Off","mode":"Cool","temp":24,"fanspeed":"Auto","swingv":"Middle","swingh":"Middle","source":"HASS"}`,
			Source:            climate.SourcePlatform,
		},
		Opts: climate.Options{
			MinTemperature:  climate.DefaultMinTemperature,
			MaxTemperature:  climate.DefaultMaxTemperature,
			TemperatureStep: climate.DefaultTemperatureStep,
			Template:        climate.DefaultTemplate,
			HVACModes:       climate.DefaultHVACModes(),
			FanModes:        climate.DefaultFanModes(),
			SwingModes:      climate.DefaultSwingModes(),
			SwingHModes:     climate.DefaultSwingHModes(),
			PlatformSource:  climate.SourcePlatform,
		},
	}
}

func (f *FakeClimateService) Get() climate.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S
}

func (f *FakeClimateService) Options() climate.Options { return f.Opts }

func (f *FakeClimateService) Attributes() climate.Attributes {
	s := f.Get()
	return climate.Attributes{
		SwingHMode:  s.SwingHMode,
		SwingHModes: f.Opts.SwingHModes,
		JSON:        s.JSON,
		JSONFormat:  string(f.Opts.Template),
		IRIsOnline:  s.Online,
	}
}

// Update mutates the snapshot and fires watchers like a real change would.
func (f *FakeClimateService) Update(fn func(s *climate.Snapshot)) {
	f.mu.Lock()
	fn(&f.S)
	s := f.S
	ws := append([]func(climate.Snapshot){}, f.watchers...)
	f.mu.Unlock()
	for _, w := range ws {
		if w != nil {
			w(s)
		}
	}
}

func (f *FakeClimateService) SetTargetTemperature(v float64) error {
	f.SetTargetTemperatureCalled = true
	f.SetTargetTemperatureArg = v
	if f.SetTargetTemperatureErr != nil {
		return f.SetTargetTemperatureErr
	}
	f.Update(func(s *climate.Snapshot) { s.TargetTemperature = v })
	return nil
}

func (f *FakeClimateService) SetHVACMode(m climate.HVACMode) error {
	f.SetHVACModeCalled = true
	f.SetHVACModeArg = m
	if f.SetHVACModeErr != nil {
		return f.SetHVACModeErr
	}
	f.Update(func(s *climate.Snapshot) {
		if m == climate.HVACOff {
			s.Operation = s.Operation.TurnOff()
		} else {
			s.Operation = s.Operation.WithMode(m).TurnOn()
		}
	})
	return nil
}

func (f *FakeClimateService) SetFanMode(m string) error {
	f.SetFanModeCalled = true
	f.SetFanModeArg = m
	if f.SetFanModeErr != nil {
		return f.SetFanModeErr
	}
	f.Update(func(s *climate.Snapshot) { s.FanMode = m })
	return nil
}

func (f *FakeClimateService) SetSwingMode(m string) error {
	f.SetSwingModeCalled = true
	f.SetSwingModeArg = m
	if f.SetSwingModeErr != nil {
		return f.SetSwingModeErr
	}
	f.Update(func(s *climate.Snapshot) { s.SwingMode = m })
	return nil
}

func (f *FakeClimateService) SetSwingHMode(m string) error {
	f.SetSwingHModeCalled = true
	f.SetSwingHModeArg = m
	if f.SetSwingHModeErr != nil {
		return f.SetSwingHModeErr
	}
	f.Update(func(s *climate.Snapshot) { s.SwingHMode = m })
	return nil
}

func (f *FakeClimateService) SetJSON(raw string) bool {
	f.SetJSONCalled = true
	f.SetJSONArg = raw
	if f.SetJSONResult {
		f.Update(func(s *climate.Snapshot) { s.JSON = raw })
	}
	return f.SetJSONResult
}

func (f *FakeClimateService) ApplyOnlineFlag(v string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OnlineArgs = append(f.OnlineArgs, v)
	return true
}

func (f *FakeClimateService) ApplyCurrentTemperature(v string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TemperatureArgs = append(f.TemperatureArgs, v)
	return true
}

func (f *FakeClimateService) ApplyCurrentHumidity(v string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HumidityArgs = append(f.HumidityArgs, v)
	return true
}

func (f *FakeClimateService) Watch(fn func(climate.Snapshot)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.watchers)
	f.watchers = append(f.watchers, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.watchers[i] = nil
	}
}
