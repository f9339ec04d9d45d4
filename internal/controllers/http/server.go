package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Agrid-Dev/monehvac/internal/climate"
	"github.com/Agrid-Dev/monehvac/internal/ports"
)

type Server struct {
	svc      ports.ClimateService
	srv      *http.Server
	deviceID string
	log      *slog.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// New returns a runnable server.
func New(svc ports.ClimateService, addr string, deviceID string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{svc: svc, deviceID: deviceID, log: log.With("controller", "http")}

	// Read
	mux.HandleFunc("GET /v1", s.handleGet)
	mux.HandleFunc("GET /v1/ws", s.handleStream)

	// Write: one endpoint per command
	mux.HandleFunc("POST /v1/temperature", s.handlePostTemperature)
	mux.HandleFunc("POST /v1/hvac_mode", s.handlePostHVACMode)
	mux.HandleFunc("POST /v1/fan_mode", s.handlePostFanMode)
	mux.HandleFunc("POST /v1/swing_mode", s.handlePostSwingMode)
	mux.HandleFunc("POST /v1/swingh_mode", s.handlePostSwingHMode)
	mux.HandleFunc("POST /v1/json", s.handlePostJSON)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	// Request contexts (and with them open streams) end with ctx.
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type stateDTO struct {
	DeviceID           string   `json:"device_id"`
	HVACMode           string   `json:"hvac_mode"`
	HVACModes          []string `json:"hvac_modes"`
	Temperature        float64  `json:"temperature"`
	MinTemp            float64  `json:"min_temp"`
	MaxTemp            float64  `json:"max_temp"`
	TargetTempStep     float64  `json:"target_temp_step"`
	FanMode            string   `json:"fan_mode"`
	FanModes           []string `json:"fan_modes"`
	SwingMode          string   `json:"swing_mode"`
	SwingModes         []string `json:"swing_modes"`
	CurrentTemperature *float64 `json:"current_temperature"`
	CurrentHumidity    *float64 `json:"current_humidity"`
	Source             string   `json:"source"`

	climate.Attributes
}

func toDTO(s climate.Snapshot, o climate.Options, a climate.Attributes) stateDTO {
	modes := make([]string, 0, len(o.HVACModes))
	for _, m := range o.HVACModes {
		modes = append(modes, m.String())
	}
	return stateDTO{
		HVACMode:           s.HVACMode().String(),
		HVACModes:          modes,
		Temperature:        s.TargetTemperature,
		MinTemp:            o.MinTemperature,
		MaxTemp:            o.MaxTemperature,
		TargetTempStep:     o.TemperatureStep,
		FanMode:            s.FanMode,
		FanModes:           o.FanModes,
		SwingMode:          s.SwingMode,
		SwingModes:         o.SwingModes,
		CurrentTemperature: s.CurrentTemperature,
		CurrentHumidity:    s.CurrentHumidity,
		Source:             s.Source,
		Attributes:         a,
	}
}

func (s *Server) state() stateDTO {
	dto := toDTO(s.svc.Get(), s.svc.Options(), s.svc.Attributes())
	dto.DeviceID = s.deviceID
	return dto
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.respondState(w)
}

func (s *Server) handlePostTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v float64) error {
		return s.svc.SetTargetTemperature(v)
	})
}

func (s *Server) handlePostHVACMode(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "heat"}
	postValue(s, w, r, func(v string) error {
		m, err := climate.ParseHVACMode(v)
		if err != nil {
			return err
		}
		return s.svc.SetHVACMode(m)
	})
}

func (s *Server) handlePostFanMode(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.SetFanMode)
}

func (s *Server) handlePostSwingMode(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.SetSwingMode)
}

func (s *Server) handlePostSwingHMode(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.SetSwingHMode)
}

// body: {"value": "{\"power\":\"Off\",\"source\":\"IRRemote\"}"}
func (s *Server) handlePostJSON(w http.ResponseWriter, r *http.Request) {
	v, ok := decodeValue[string](w, r)
	if !ok {
		return
	}
	changed := s.svc.SetJSON(v)
	writeJSON(w, http.StatusOK, struct {
		Changed bool `json:"changed"`
		stateDTO
	}{Changed: changed, stateDTO: s.state()})
}

// handleStream pushes the state once on connect and again after every change.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	stop := s.svc.Watch(func(climate.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(s.state())
	}
	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		case <-changed:
			if err := send(); err != nil {
				return
			}
		}
	}
}

// ---- generic helpers ----
func (s *Server) respondState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.state())
}

func decodeValue[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var zero T
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return zero, false
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return zero, false
	}
	return *req.Value, true
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) error) {
	v, ok := decodeValue[T](w, r)
	if !ok {
		return
	}
	if err := apply(v); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondState(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
