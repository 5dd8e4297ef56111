package bench

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"etb-service/internal/driver"
	"etb-service/internal/gpio"
	"etb-service/internal/vsm"
)

var errBusNack = errors.New("remote I/O error")

// mockBus is a register file shared by every bench device. Byte and
// word registers are kept apart so block writes cannot alias a
// neighbouring register. Raw reads answer only for addresses marked
// present, which is what the self-check probes.
type mockBus struct {
	regs    map[uint16]map[byte]byte
	words   map[uint16]map[byte]uint16
	raw     map[uint16]byte
	present map[uint16]bool
}

func newMockBus(present ...uint16) *mockBus {
	m := &mockBus{
		regs:    make(map[uint16]map[byte]byte),
		words:   make(map[uint16]map[byte]uint16),
		raw:     make(map[uint16]byte),
		present: make(map[uint16]bool),
	}
	for _, addr := range present {
		m.present[addr] = true
	}
	return m
}

func (m *mockBus) setReg(addr uint16, reg, val byte) {
	if m.regs[addr] == nil {
		m.regs[addr] = make(map[byte]byte)
	}
	m.regs[addr][reg] = val
}

func (m *mockBus) setWord(addr uint16, reg byte, val uint16) {
	if m.words[addr] == nil {
		m.words[addr] = make(map[byte]uint16)
	}
	m.words[addr][reg] = val
}

func (m *mockBus) ReadByte(addr uint16, reg byte) (byte, error) {
	return m.regs[addr][reg], nil
}

func (m *mockBus) WriteByte(addr uint16, reg, val byte) error {
	m.setReg(addr, reg, val)
	return nil
}

func (m *mockBus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	if n != 2 {
		return nil, fmt.Errorf("mock bus: unsupported block size %d", n)
	}
	w := m.words[addr][reg]
	return []byte{byte(w >> 8), byte(w)}, nil
}

func (m *mockBus) WriteBlock(addr uint16, reg byte, data []byte) error {
	if len(data) != 2 {
		return fmt.Errorf("mock bus: unsupported block size %d", len(data))
	}
	m.setWord(addr, reg, uint16(data[0])<<8|uint16(data[1]))
	return nil
}

func (m *mockBus) ReadRaw(addr uint16) (byte, error) {
	if !m.present[addr] {
		return 0, fmt.Errorf("probe %#02x: %w", addr, errBusNack)
	}
	return m.raw[addr], nil
}

func (m *mockBus) WriteRaw(addr uint16, val byte) error {
	m.raw[addr] = val
	return nil
}

func (m *mockBus) Close() error { return nil }

type mockLine struct {
	value bool
	sets  []bool
}

func (l *mockLine) Set(value bool) error {
	l.value = value
	l.sets = append(l.sets, value)
	return nil
}

func (l *mockLine) Get() (bool, error) { return l.value, nil }
func (l *mockLine) Close() error       { return nil }

func allDeviceAddrs() []uint16 {
	return []uint16{
		driver.TCA9548DefaultAddr,
		driver.ADS1115DefaultAddr,
		driver.MIC24045DefaultAddr,
		driver.INA219DefaultAddr,
		0x41, 0x44,
	}
}

func newTestBench(t *testing.T) (*Bench, *mockBus, [vsm.RailCount]*mockLine) {
	t.Helper()
	b := newMockBus(allDeviceAddrs()...)
	var lines [vsm.RailCount]*mockLine
	var enable [vsm.RailCount]gpio.Line
	for i := range lines {
		lines[i] = &mockLine{value: true}
		enable[i] = lines[i]
	}
	bench, err := New(b, enable)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bench, b, lines
}

func TestNewBringsUpRailsAndMeters(t *testing.T) {
	_, b, lines := newTestBench(t)

	// Converter init drives every enable line low first.
	for i, l := range lines {
		if len(l.sets) == 0 || l.sets[0] != false {
			t.Errorf("rail %d enable line not driven low at init", i)
		}
	}
	// Aux meters carry the low-current calibration value 8192.
	for _, addr := range []uint16{0x41, 0x44} {
		if cal := b.words[addr][0x05]; cal != 8192 {
			t.Errorf("aux meter %#02x calibration = %d, want 8192", addr, cal)
		}
	}
}

func TestReadThermistor(t *testing.T) {
	bench, b, _ := newTestBench(t)
	// Raw conversion 20880, roughly a balanced divider at 25 degC.
	b.setWord(driver.ADS1115DefaultAddr, 0x00, 0x5190)

	got, err := bench.ReadThermistor(0)
	if err != nil {
		t.Fatalf("ReadThermistor: %v", err)
	}
	if math.Abs(got-24.99842044810174) > 1e-9 {
		t.Errorf("ReadThermistor = %v, want 24.9984...", got)
	}

	if _, err := bench.ReadThermistor(ThermistorCount); !errors.Is(err, driver.ErrInvalidArgument) {
		t.Errorf("ReadThermistor(%d) error = %v, want ErrInvalidArgument", ThermistorCount, err)
	}
}

func TestAuxReadings(t *testing.T) {
	bench, b, _ := newTestBench(t)
	// Bus voltage 3.3 V (raw 6600 with the status bits clear).
	b.setWord(0x41, 0x02, 6600)
	// Current raw 100 at 50 uA per bit.
	b.setWord(0x44, 0x04, 100)

	if got, err := bench.AuxVoltage(0); err != nil || math.Abs(got-3.3) > 1e-9 {
		t.Errorf("AuxVoltage(0) = %v, %v, want 3.3", got, err)
	}
	if got, err := bench.AuxCurrentMA(1); err != nil || math.Abs(got-5.0) > 1e-9 {
		t.Errorf("AuxCurrentMA(1) = %v, %v, want 5.0", got, err)
	}
	if _, err := bench.AuxVoltage(AuxMeterCount); !errors.Is(err, driver.ErrInvalidArgument) {
		t.Errorf("AuxVoltage(%d) error = %v, want ErrInvalidArgument", AuxMeterCount, err)
	}
}

func TestSelfCheckAllPresent(t *testing.T) {
	bench, _, _ := newTestBench(t)

	rep, err := bench.SelfCheck()
	if err != nil {
		t.Fatalf("SelfCheck: %v", err)
	}
	if !rep.Ok() {
		t.Errorf("Report.Ok() = false with every device present: %+v", rep)
	}
}

func TestSelfCheckReportsMissingDevice(t *testing.T) {
	bench, b, _ := newTestBench(t)
	delete(b.present, driver.ADS1115DefaultAddr)

	rep, err := bench.SelfCheck()
	if err != nil {
		t.Fatalf("SelfCheck: %v", err)
	}
	if rep.ADC {
		t.Errorf("Report.ADC = true with the ADC absent")
	}
	if rep.Ok() {
		t.Errorf("Report.Ok() = true with the ADC absent")
	}
	if !rep.Mux || !rep.Rails[3].Meter {
		t.Errorf("unrelated probes failed: %+v", rep)
	}
}

func TestSelfCheckSkipsRailsWithoutMux(t *testing.T) {
	bench, b, _ := newTestBench(t)
	delete(b.present, driver.TCA9548DefaultAddr)

	rep, err := bench.SelfCheck()
	if err != nil {
		t.Fatalf("SelfCheck: %v", err)
	}
	if rep.Mux {
		t.Errorf("Report.Mux = true with the mux absent")
	}
	for i, rail := range rep.Rails {
		if rail.Controller || rail.Meter {
			t.Errorf("rail %d probed without a mux", i)
		}
	}
}
