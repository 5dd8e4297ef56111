package driver

import (
	"fmt"

	"etb-service/internal/bus"
	"etb-service/internal/gpio"
)

// MIC24045DefaultAddr is the converter's I2C address on the bench.
const MIC24045DefaultAddr = 0x50

// MIC24045 register map.
const (
	micRegStatus   = 0x00
	micRegSetting1 = 0x01
	micRegSetting2 = 0x02
	micRegVout     = 0x03
	micRegCommand  = 0x04
)

// Status register bits.
const (
	micStatusOCF    = 0x80 // over-current fault
	micStatusThSDF  = 0x40 // thermal shutdown fault
	micStatusThWrnF = 0x20 // thermal warning
	micStatusEnS    = 0x08 // enable status
	micStatusPGS    = 0x01 // power good status
)

// Command register bits.
const micCmdCIFF = 0x01 // clear latched fault flags

// Setting register field offsets.
const (
	micILimOffset = 6 // Setting1
	micFreqOffset = 3 // Setting1
	micSudOffset  = 4 // Setting2
	micMrgOffset  = 2 // Setting2
	micSSOffset   = 0 // Setting2
)

// CurrentLimit selects the converter's output current limit.
type CurrentLimit byte

const (
	CurrentLimit2A CurrentLimit = iota
	CurrentLimit3A
	CurrentLimit4A
	CurrentLimit5A
)

func (c CurrentLimit) valid() bool { return c <= CurrentLimit5A }

// Frequency selects the switching frequency.
type Frequency byte

const (
	Freq310kHz Frequency = iota
	Freq400kHz
	Freq500kHz
	Freq570kHz
	Freq660kHz
	Freq780kHz
	Freq970kHz
	Freq1200kHz
)

func (f Frequency) valid() bool { return f <= Freq1200kHz }

// StartupDelay selects the delay between enable and soft-start.
type StartupDelay byte

const (
	Delay0ms StartupDelay = iota
	Delay0ms5
	Delay1ms
	Delay2ms
	Delay4ms
	Delay6ms
	Delay8ms
	Delay10ms
)

func (d StartupDelay) valid() bool { return d <= Delay10ms }

// Margin selects the output voltage margin.
type Margin byte

const (
	MarginNone Margin = iota
	MarginLow5       // -5%
	MarginHigh5      // +5%
)

func (m Margin) valid() bool { return m <= MarginHigh5 }

// SoftStartSlope selects the soft-start ramp.
type SoftStartSlope byte

const (
	Slope0V16 SoftStartSlope = iota // 0.16 V/ms
	Slope0V38
	Slope0V76
	Slope1V5
)

func (s SoftStartSlope) valid() bool { return s <= Slope1V5 }

// RailStatus is a decoded status register.
type RailStatus struct {
	OverCurrent     bool
	ThermalShutdown bool
	ThermalWarning  bool
	Enabled         bool
	PowerGood       bool
}

// MIC24045 drives one DC/DC converter rail. Intent to enable is
// expressed through a dedicated GPIO line; the device's own EnS status
// bit confirms it only once VIN is present. Nothing is cached: every
// getter round-trips to the device.
type MIC24045 struct {
	bus    bus.Bus
	addr   uint16
	enable gpio.Line
}

// NewMIC24045 initializes the converter: disabled, latched faults
// cleared, current limit 3 A (matching the wattmeter's range),
// 500 kHz, no startup delay, no margin, slowest soft-start.
func NewMIC24045(b bus.Bus, addr uint16, enable gpio.Line) (*MIC24045, error) {
	m := &MIC24045{bus: b, addr: addr, enable: enable}
	if err := m.Disable(); err != nil {
		return nil, err
	}
	if err := m.ClearFaultFlags(); err != nil {
		return nil, err
	}
	if err := m.SetCurrentLimit(CurrentLimit3A); err != nil {
		return nil, err
	}
	if err := m.SetFrequency(Freq500kHz); err != nil {
		return nil, err
	}
	if err := m.SetStartupDelay(Delay0ms); err != nil {
		return nil, err
	}
	if err := m.SetVoltageMargin(MarginNone); err != nil {
		return nil, err
	}
	if err := m.SetSoftStartSlope(Slope0V16); err != nil {
		return nil, err
	}
	return m, nil
}

// Enable drives the enable line high. The device is not queried;
// callers that need confirmation check Enabled separately.
func (m *MIC24045) Enable() error {
	return m.enable.Set(true)
}

// Disable drives the enable line low.
func (m *MIC24045) Disable() error {
	return m.enable.Set(false)
}

// IntendedEnabled reads back the enable line. This is authoritative
// for intent; the status register's EnS bit may lag or read stale when
// VIN is absent.
func (m *MIC24045) IntendedEnabled() (bool, error) {
	return m.enable.Get()
}

// Enabled reads the EnS bit from the status register: the observed
// enable state as confirmed by the device.
func (m *MIC24045) Enabled() (bool, error) {
	raw, err := m.bus.ReadByte(m.addr, micRegStatus)
	if err != nil {
		return false, err
	}
	return raw&micStatusEnS != 0, nil
}

// PowerGood reads the PGS bit from the status register.
func (m *MIC24045) PowerGood() (bool, error) {
	raw, err := m.bus.ReadByte(m.addr, micRegStatus)
	if err != nil {
		return false, err
	}
	return raw&micStatusPGS != 0, nil
}

// Status reads and decodes the full status register.
func (m *MIC24045) Status() (RailStatus, error) {
	raw, err := m.bus.ReadByte(m.addr, micRegStatus)
	if err != nil {
		return RailStatus{}, err
	}
	return RailStatus{
		OverCurrent:     raw&micStatusOCF != 0,
		ThermalShutdown: raw&micStatusThSDF != 0,
		ThermalWarning:  raw&micStatusThWrnF != 0,
		Enabled:         raw&micStatusEnS != 0,
		PowerGood:       raw&micStatusPGS != 0,
	}, nil
}

// ClearFaultFlags writes CIFF to clear all latched fault flags.
func (m *MIC24045) ClearFaultFlags() error {
	return m.bus.WriteByte(m.addr, micRegCommand, micCmdCIFF)
}

// updateField read-modify-writes one field of a setting register.
func (m *MIC24045) updateField(reg, mask, value, offset byte) error {
	cur, err := m.bus.ReadByte(m.addr, reg)
	if err != nil {
		return err
	}
	return m.bus.WriteByte(m.addr, reg, (cur&mask)|(value<<offset))
}

func (m *MIC24045) SetCurrentLimit(limit CurrentLimit) error {
	if !limit.valid() {
		return fmt.Errorf("current limit code %d: %w", limit, ErrInvalidArgument)
	}
	return m.updateField(micRegSetting1, 0x3F, byte(limit), micILimOffset)
}

func (m *MIC24045) SetFrequency(freq Frequency) error {
	if !freq.valid() {
		return fmt.Errorf("frequency code %d: %w", freq, ErrInvalidArgument)
	}
	return m.updateField(micRegSetting1, 0xC7, byte(freq), micFreqOffset)
}

func (m *MIC24045) SetStartupDelay(delay StartupDelay) error {
	if !delay.valid() {
		return fmt.Errorf("startup delay code %d: %w", delay, ErrInvalidArgument)
	}
	return m.updateField(micRegSetting2, 0x8F, byte(delay), micSudOffset)
}

func (m *MIC24045) SetVoltageMargin(margin Margin) error {
	if !margin.valid() {
		return fmt.Errorf("margin code %d: %w", margin, ErrInvalidArgument)
	}
	return m.updateField(micRegSetting2, 0xF3, byte(margin), micMrgOffset)
}

func (m *MIC24045) SetSoftStartSlope(slope SoftStartSlope) error {
	if !slope.valid() {
		return fmt.Errorf("soft-start slope code %d: %w", slope, ErrInvalidArgument)
	}
	return m.updateField(micRegSetting2, 0xFC, byte(slope), micSSOffset)
}

// Setting1 returns the decoded current-limit and frequency codes.
func (m *MIC24045) Setting1() (CurrentLimit, Frequency, error) {
	raw, err := m.bus.ReadByte(m.addr, micRegSetting1)
	if err != nil {
		return 0, 0, err
	}
	return CurrentLimit((raw & 0xC0) >> micILimOffset), Frequency((raw & 0x38) >> micFreqOffset), nil
}

// Setting2 returns the decoded startup-delay, margin and soft-start codes.
func (m *MIC24045) Setting2() (StartupDelay, Margin, SoftStartSlope, error) {
	raw, err := m.bus.ReadByte(m.addr, micRegSetting2)
	if err != nil {
		return 0, 0, 0, err
	}
	return StartupDelay((raw & 0x70) >> micSudOffset), Margin((raw & 0x0C) >> micMrgOffset), SoftStartSlope(raw & 0x03), nil
}

// SetOutputVoltageCode writes the VOUT register. Any 8-bit code is
// accepted; the transfer function maps it to a voltage.
func (m *MIC24045) SetOutputVoltageCode(code byte) error {
	return m.bus.WriteByte(m.addr, micRegVout, code)
}

// OutputVoltageCode reads the VOUT register.
func (m *MIC24045) OutputVoltageCode() (byte, error) {
	return m.bus.ReadByte(m.addr, micRegVout)
}

// IncrementOutputVoltage raises VOUT by one step (5/10/30/50 mV
// depending on the segment). At 0xFF it fails instead of wrapping.
func (m *MIC24045) IncrementOutputVoltage() error {
	cur, err := m.bus.ReadByte(m.addr, micRegVout)
	if err != nil {
		return err
	}
	if cur == 0xFF {
		return fmt.Errorf("VOUT at maximum: %w", ErrOutOfRange)
	}
	return m.bus.WriteByte(m.addr, micRegVout, cur+1)
}

// DecrementOutputVoltage lowers VOUT by one step. At 0x00 it fails
// instead of wrapping.
func (m *MIC24045) DecrementOutputVoltage() error {
	cur, err := m.bus.ReadByte(m.addr, micRegVout)
	if err != nil {
		return err
	}
	if cur == 0x00 {
		return fmt.Errorf("VOUT at minimum: %w", ErrOutOfRange)
	}
	return m.bus.WriteByte(m.addr, micRegVout, cur-1)
}

// Voltage reads VOUT and converts it to volts.
func (m *MIC24045) Voltage() (float64, error) {
	code, err := m.OutputVoltageCode()
	if err != nil {
		return 0, err
	}
	return VoltageFromCode(code), nil
}

// VoltageFromCode converts a VOUT register code to volts. The mapping
// is piecewise linear with four segments of increasing step size; every
// 8-bit code maps to a voltage in [0.64, 5.25].
func VoltageFromCode(code byte) float64 {
	reg := float64(code)
	switch {
	case code < 129: // 5 mV steps
		return reg*0.005 + 0.640
	case code < 196: // 10 mV steps
		return (reg-129)*0.01 + 1.29
	case code < 245: // 30 mV steps
		return (reg-196)*0.03 + 1.98
	default: // 50 mV steps
		return (reg-245)*0.05 + 4.75
	}
}

// codeEpsilon absorbs float64 representation error so that a voltage
// produced by VoltageFromCode truncates back to the same code.
const codeEpsilon = 1e-9

// CodeFromVoltage converts volts to the VOUT register code, truncating
// toward the segment's lower bound. The gaps between segments (the
// last code of a segment covers them) map to that segment's final
// code: [1.28,1.29) to 128, [1.95,1.98) to 195, [3.42,4.75) to 244.
// Voltages outside [0.64, 5.25] are not representable.
func CodeFromVoltage(volts float64) (byte, error) {
	switch {
	case volts < 0.64:
		return 0, fmt.Errorf("voltage %g V below 0.64 V: %w", volts, ErrOutOfRange)
	case volts < 1.28:
		return byte((volts-0.64)/0.005 + codeEpsilon), nil
	case volts < 1.29:
		return 128, nil
	case volts < 1.95:
		return byte((volts-1.29)/0.01+codeEpsilon) + 129, nil
	case volts < 1.98:
		return 195, nil
	case volts < 3.42:
		return byte((volts-1.98)/0.03+codeEpsilon) + 196, nil
	case volts < 4.75:
		return 244, nil
	case volts <= 5.25:
		return byte((volts-4.75)/0.05+codeEpsilon) + 245, nil
	default:
		return 0, fmt.Errorf("voltage %g V above 5.25 V: %w", volts, ErrOutOfRange)
	}
}
