package driver

import (
	"fmt"

	"etb-service/internal/bus"
)

// TCA9548DefaultAddr is the multiplexer's I2C address with A0..A2 low.
const TCA9548DefaultAddr = 0x70

// TCA9548 drives the 8-channel I2C multiplexer that splits the bench
// bus into per-rail segments. The device has a single control register
// holding one bit per downstream channel; it is written and read
// without register addressing. Nothing is cached client-side.
type TCA9548 struct {
	bus  bus.Bus
	addr uint16
}

func NewTCA9548(b bus.Bus, addr uint16) *TCA9548 {
	return &TCA9548{bus: b, addr: addr}
}

// Select activates exactly one downstream channel (1..8), or none for
// channel 0. Only single-hot patterns are ever written.
func (t *TCA9548) Select(channel int) error {
	if channel < 0 || channel > 8 {
		return fmt.Errorf("mux channel %d: %w", channel, ErrInvalidArgument)
	}
	var pattern byte
	if channel > 0 {
		pattern = 1 << (channel - 1)
	}
	return t.bus.WriteRaw(t.addr, pattern)
}

// Read returns the raw channel bitmask latched on the device.
func (t *TCA9548) Read() (byte, error) {
	return t.bus.ReadRaw(t.addr)
}

// ActiveChannels decodes the control register into 1-based channel
// numbers. Select only ever writes single-hot patterns, but the device
// register permits multiple bits when written directly.
func (t *TCA9548) ActiveChannels() ([]int, error) {
	raw, err := t.Read()
	if err != nil {
		return nil, err
	}
	var channels []int
	for ch := 1; ch <= 8; ch++ {
		if raw&(1<<(ch-1)) != 0 {
			channels = append(channels, ch)
		}
	}
	return channels, nil
}
