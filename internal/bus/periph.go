package bus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostInit sync.Once

// periphBus implements Bus on top of a periph.io I2C bus. A single
// mutex serializes all transactions: the physical bus is shared by
// every device behind the multiplexer.
type periphBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

// Open opens the named I2C bus ("" selects the first available one,
// "1" is the usual Raspberry Pi bus).
func Open(name string) (Bus, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("host init: %w", initErr)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return &periphBus{bus: b}, nil
}

func (p *periphBus) tx(addr uint16, w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	dev := i2c.Dev{Addr: addr, Bus: p.bus}
	return dev.Tx(w, r)
}

func (p *periphBus) ReadByte(addr uint16, reg byte) (byte, error) {
	var buf [1]byte
	if err := p.tx(addr, []byte{reg}, buf[:]); err != nil {
		return 0, wrap("read", addr, err)
	}
	return buf[0], nil
}

func (p *periphBus) WriteByte(addr uint16, reg, val byte) error {
	if err := p.tx(addr, []byte{reg, val}, nil); err != nil {
		return wrap("write", addr, err)
	}
	return nil
}

func (p *periphBus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := p.tx(addr, []byte{reg}, buf); err != nil {
		return nil, wrap("read", addr, err)
	}
	return buf, nil
}

func (p *periphBus) WriteBlock(addr uint16, reg byte, data []byte) error {
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	if err := p.tx(addr, w, nil); err != nil {
		return wrap("write", addr, err)
	}
	return nil
}

func (p *periphBus) ReadRaw(addr uint16) (byte, error) {
	var buf [1]byte
	if err := p.tx(addr, nil, buf[:]); err != nil {
		return 0, wrap("read", addr, err)
	}
	return buf[0], nil
}

func (p *periphBus) WriteRaw(addr uint16, val byte) error {
	if err := p.tx(addr, []byte{val}, nil); err != nil {
		return wrap("write", addr, err)
	}
	return nil
}

func (p *periphBus) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bus.Close()
}
