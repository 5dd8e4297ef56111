package sensor

import (
	"errors"
	"fmt"
)

var errBusNack = errors.New("remote I/O error")

// busWrite records one mutating transaction.
type busWrite struct {
	addr uint16
	reg  byte
	val  byte
}

// mockBus models a register file of consecutive byte registers plus a
// raw read stream for register-less transfers.
type mockBus struct {
	regs     map[uint16]map[byte]byte
	rawQueue map[uint16][]byte

	writes []busWrite
	fail   error
}

func newMockBus() *mockBus {
	return &mockBus{
		regs:     make(map[uint16]map[byte]byte),
		rawQueue: make(map[uint16][]byte),
	}
}

func (m *mockBus) setReg(addr uint16, reg, val byte) {
	if m.regs[addr] == nil {
		m.regs[addr] = make(map[byte]byte)
	}
	m.regs[addr][reg] = val
}

func (m *mockBus) setRegs(addr uint16, reg byte, vals ...byte) {
	for i, v := range vals {
		m.setReg(addr, reg+byte(i), v)
	}
}

func (m *mockBus) queueRaw(addr uint16, vals ...byte) {
	m.rawQueue[addr] = append(m.rawQueue[addr], vals...)
}

func (m *mockBus) ReadByte(addr uint16, reg byte) (byte, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	return m.regs[addr][reg], nil
}

func (m *mockBus) WriteByte(addr uint16, reg, val byte) error {
	if m.fail != nil {
		return m.fail
	}
	m.writes = append(m.writes, busWrite{addr, reg, val})
	m.setReg(addr, reg, val)
	return nil
}

func (m *mockBus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = m.regs[addr][reg+byte(i)]
	}
	return out, nil
}

func (m *mockBus) WriteBlock(addr uint16, reg byte, data []byte) error {
	if m.fail != nil {
		return m.fail
	}
	for i, v := range data {
		if err := m.WriteByte(addr, reg+byte(i), v); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockBus) ReadRaw(addr uint16) (byte, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	q := m.rawQueue[addr]
	if len(q) == 0 {
		return 0, fmt.Errorf("mock bus: raw queue empty for %#02x", addr)
	}
	m.rawQueue[addr] = q[1:]
	return q[0], nil
}

func (m *mockBus) WriteRaw(addr uint16, val byte) error {
	if m.fail != nil {
		return m.fail
	}
	m.writes = append(m.writes, busWrite{addr: addr, val: val})
	return nil
}

func (m *mockBus) Close() error { return nil }
