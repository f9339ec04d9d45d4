package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/monehvac/internal/climate"
	"github.com/Agrid-Dev/monehvac/internal/ports"
)

// Register map.
//
//	coil 0            power (FC1 read, FC5 write)
//	discrete input 0  IR bridge online (FC2)
//	HR 0              target temperature x100
//	HR 1              hvac mode (climate.HVACMode value)
//	HR 2..4           index into fan, swing and horizontal swing modes
//	IR 0              current temperature x100, NoValue when unknown
//	IR 1              current humidity x100, NoValue when unknown
const (
	hrTargetTemperature = iota
	hrHVACMode
	hrFanMode
	hrSwingMode
	hrSwingHMode
	holdingRegisterCount
)

const (
	irCurrentTemperature = iota
	irCurrentHumidity
	inputRegisterCount
)

// NoValue marks an input register whose sensor has not reported yet.
const NoValue uint16 = 0x8000

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
	Logger   *slog.Logger
}

type Controller struct {
	svc ports.ClimateService
	cfg Config
	log *slog.Logger

	serv *mbserver.Server
}

func New(svc ports.ClimateService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{svc: svc, cfg: cfg, log: cfg.Logger.With("controller", "modbus")}, nil
}

// Run starts the Modbus server and registers handlers that apply writes immediately and
// serve reads directly from the climate service. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(2, c.readDiscreteInputs)
	serv.RegisterFunctionHandler(3, c.readHoldingRegisters)
	serv.RegisterFunctionHandler(4, c.readInputRegisters)
	serv.RegisterFunctionHandler(5, c.writeSingleCoil)
	serv.RegisterFunctionHandler(6, c.writeSingleRegister)
	serv.RegisterFunctionHandler(16, c.writeMultipleRegisters)

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.log.Info("listening", "addr", c.cfg.Addr, "unit_id", c.cfg.UnitID)

	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

// readRange parses the start/quantity header shared by read requests.
func readRange(frame mbserver.Framer, maxQty, size int) (int, int, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > maxQty {
		return 0, 0, &mbserver.IllegalDataValue
	}
	if start+qty > size {
		return 0, 0, &mbserver.IllegalDataAddress
	}
	return start, qty, nil
}

func bitResponse(v bool) []byte {
	b := byte(0)
	if v {
		b = 0x01
	}
	// byte count (1) + coil bytes
	return []byte{1, b}
}

func registerResponse(regs []uint16) []byte {
	byteCount := len(regs) * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i, r := range regs {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
	}
	return resp
}

// FC1: only coil 0 (power).
func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	if _, _, exc := readRange(frame, 2000, 1); exc != nil {
		return []byte{}, exc
	}
	return bitResponse(bool(c.svc.Get().Operation.Power())), &mbserver.Success
}

// FC2: only discrete input 0 (bridge online).
func (c *Controller) readDiscreteInputs(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	if _, _, exc := readRange(frame, 2000, 1); exc != nil {
		return []byte{}, exc
	}
	return bitResponse(c.svc.Get().Online), &mbserver.Success
}

func (c *Controller) readHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRange(frame, 125, holdingRegisterCount)
	if exc != nil {
		return []byte{}, exc
	}
	snap := c.svc.Get()
	opts := c.svc.Options()
	regs := make([]uint16, 0, qty)
	for addr := start; addr < start+qty; addr++ {
		switch addr {
		case hrTargetTemperature:
			regs = append(regs, encodeTemp(snap.TargetTemperature))
		case hrHVACMode:
			regs = append(regs, uint16(snap.HVACMode()))
		case hrFanMode:
			regs = append(regs, indexOf(opts.FanModes, snap.FanMode))
		case hrSwingMode:
			regs = append(regs, indexOf(opts.SwingModes, snap.SwingMode))
		case hrSwingHMode:
			regs = append(regs, indexOf(opts.SwingHModes, snap.SwingHMode))
		}
	}
	return registerResponse(regs), &mbserver.Success
}

func (c *Controller) readInputRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRange(frame, 125, inputRegisterCount)
	if exc != nil {
		return []byte{}, exc
	}
	snap := c.svc.Get()
	regs := make([]uint16, 0, qty)
	for addr := start; addr < start+qty; addr++ {
		switch addr {
		case irCurrentTemperature:
			regs = append(regs, encodeOptional(snap.CurrentTemperature))
		case irCurrentHumidity:
			regs = append(regs, encodeOptional(snap.CurrentHumidity))
		}
	}
	return registerResponse(regs), &mbserver.Success
}

// FC5: coil 0 switches the unit on in its remembered mode, or off.
func (c *Controller) writeSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if addr != 0 {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	var mode climate.HVACMode
	switch value {
	case 0x0000:
		mode = climate.HVACOff
	case 0xFF00:
		mode = c.svc.Get().Operation.Mode()
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}

	if err := c.svc.SetHVACMode(mode); err != nil {
		return []byte{}, &mbserver.IllegalDataValue
	}

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])

	if exc := c.writeRegister(addr, value); exc != nil {
		return []byte{}, exc
	}

	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if int(start)+int(quantity) > holdingRegisterCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		if exc := c.writeRegister(int(start)+i, val); exc != nil {
			return []byte{}, exc
		}
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func (c *Controller) writeRegister(addr int, value uint16) *mbserver.Exception {
	opts := c.svc.Options()
	var err error
	switch addr {
	case hrTargetTemperature:
		err = c.svc.SetTargetTemperature(decodeTemp(value))
	case hrHVACMode:
		err = c.svc.SetHVACMode(climate.HVACMode(value))
	case hrFanMode:
		err = setByIndex(opts.FanModes, value, c.svc.SetFanMode)
	case hrSwingMode:
		err = setByIndex(opts.SwingModes, value, c.svc.SetSwingMode)
	case hrSwingHMode:
		err = setByIndex(opts.SwingHModes, value, c.svc.SetSwingHMode)
	default:
		return &mbserver.IllegalDataAddress
	}
	if err != nil {
		c.log.Warn("register write rejected", "addr", addr, "value", value, "err", err)
		return &mbserver.IllegalDataValue
	}
	return nil
}

var errIndexOutOfRange = errors.New("mode index out of range")

func setByIndex(list []string, idx uint16, set func(string) error) error {
	if int(idx) >= len(list) {
		return errIndexOutOfRange
	}
	return set(list[idx])
}

// indexOf returns NoValue for a mode missing from the list.
func indexOf(list []string, v string) uint16 {
	i := slices.Index(list, v)
	if i < 0 {
		return NoValue
	}
	return uint16(i)
}

const TemperatureScale int = 100

func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*float64(TemperatureScale))), math.MinInt16+1), math.MaxInt16)
	return uint16(int16(r))
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / float64(TemperatureScale)
}

func encodeOptional(v *float64) uint16 {
	if v == nil {
		return NoValue
	}
	return encodeTemp(*v)
}
