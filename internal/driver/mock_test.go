package driver

import (
	"errors"
	"fmt"
)

var errBusNack = errors.New("remote I/O error")

// busOp records one transaction against the mock bus.
type busOp struct {
	kind string // "rb", "wb", "rblk", "wblk", "rraw", "wraw"
	addr uint16
	reg  byte
	val  byte
	data []byte
}

// mockBus is an in-memory register file with write recording and
// per-operation failure injection.
type mockBus struct {
	regs  map[uint16]map[byte]byte   // 8-bit registers
	words map[uint16]map[byte]uint16 // 16-bit registers (block len 2)
	raw   map[uint16]byte            // register-less devices

	ops  []busOp
	fail func(op busOp) error
}

func newMockBus() *mockBus {
	return &mockBus{
		regs:  make(map[uint16]map[byte]byte),
		words: make(map[uint16]map[byte]uint16),
		raw:   make(map[uint16]byte),
	}
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

func (m *mockBus) record(op busOp) error {
	m.ops = append(m.ops, op)
	if m.fail != nil {
		return m.fail(op)
	}
	return nil
}

// writes returns only the mutating operations, in order.
func (m *mockBus) writes() []busOp {
	var w []busOp
	for _, op := range m.ops {
		if op.kind == "wb" || op.kind == "wblk" || op.kind == "wraw" {
			w = append(w, op)
		}
	}
	return w
}

func (m *mockBus) ReadByte(addr uint16, reg byte) (byte, error) {
	if err := m.record(busOp{kind: "rb", addr: addr, reg: reg}); err != nil {
		return 0, err
	}
	return m.regs[addr][reg], nil
}

func (m *mockBus) WriteByte(addr uint16, reg, val byte) error {
	if err := m.record(busOp{kind: "wb", addr: addr, reg: reg, val: val}); err != nil {
		return err
	}
	m.setReg(addr, reg, val)
	return nil
}

func (m *mockBus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	if err := m.record(busOp{kind: "rblk", addr: addr, reg: reg}); err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("mock bus: unsupported block size %d", n)
	}
	w := m.words[addr][reg]
	return []byte{byte(w >> 8), byte(w)}, nil
}

func (m *mockBus) WriteBlock(addr uint16, reg byte, data []byte) error {
	cp := append([]byte(nil), data...)
	if err := m.record(busOp{kind: "wblk", addr: addr, reg: reg, data: cp}); err != nil {
		return err
	}
	if len(data) == 2 {
		m.setWord(addr, reg, uint16(data[0])<<8|uint16(data[1]))
	}
	return nil
}

func (m *mockBus) ReadRaw(addr uint16) (byte, error) {
	if err := m.record(busOp{kind: "rraw", addr: addr}); err != nil {
		return 0, err
	}
	return m.raw[addr], nil
}

func (m *mockBus) WriteRaw(addr uint16, val byte) error {
	if err := m.record(busOp{kind: "wraw", addr: addr, val: val}); err != nil {
		return err
	}
	m.raw[addr] = val
	return nil
}

func (m *mockBus) Close() error { return nil }

// mockLine is an in-memory GPIO line.
type mockLine struct {
	value  bool
	sets   []bool
	setErr error
	getErr error
}

func (l *mockLine) Set(value bool) error {
	if l.setErr != nil {
		return l.setErr
	}
	l.value = value
	l.sets = append(l.sets, value)
	return nil
}

func (l *mockLine) Get() (bool, error) {
	if l.getErr != nil {
		return false, l.getErr
	}
	return l.value, nil
}

func (l *mockLine) Close() error { return nil }
