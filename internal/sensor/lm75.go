// Package sensor contains the environmental sensors attached to the
// bench: board temperature, ambient climate and probe thermistors.
package sensor

import (
	"fmt"

	"etb-service/internal/bus"
	"etb-service/internal/driver"
)

// LM75DefaultAddr is the board temperature sensor's I2C address.
const LM75DefaultAddr = 0x48

// LM75 register map.
const (
	lm75RegTemp   = 0x00
	lm75RegConfig = 0x01
	lm75RegHyst   = 0x02
	lm75RegOS     = 0x03
)

// Config register bit offsets.
const (
	lm75ShutdownOffset  = 0
	lm75InterruptOffset = 1
	lm75PolarityOffset  = 2
	lm75QueueOffset     = 3
)

// FaultQueue is the number of consecutive faults before the OS output
// asserts. The device supports depths of 1, 2, 4 and 6.
type FaultQueue byte

const (
	Queue1 FaultQueue = iota
	Queue2
	Queue4
	Queue6
)

func (q FaultQueue) valid() bool { return q <= Queue6 }

// Depth returns the queue length in samples.
func (q FaultQueue) Depth() int {
	return [...]int{1, 2, 4, 6}[q]
}

// LM75Config is a decoded configuration register.
type LM75Config struct {
	Shutdown   bool
	Interrupt  bool // comparator mode when false
	ActiveHigh bool // OS polarity
	Queue      FaultQueue
}

// LM75 drives the bench's board temperature sensor.
type LM75 struct {
	bus  bus.Bus
	addr uint16
}

func NewLM75(b bus.Bus, addr uint16) *LM75 {
	return &LM75{bus: b, addr: addr}
}

// temperature decodes one of the three temperature registers. The
// value is left-aligned in the 16-bit word at 1/256 degC per LSB.
func (l *LM75) temperature(reg byte) (float64, error) {
	raw, err := bus.ReadWordS16BE(l.bus, l.addr, reg)
	if err != nil {
		return 0, err
	}
	return float64(raw) / 256.0, nil
}

// Temperature returns the measured temperature in degrees Celsius.
func (l *LM75) Temperature() (float64, error) {
	return l.temperature(lm75RegTemp)
}

// HystTemperature returns the hysteresis threshold in degrees Celsius.
func (l *LM75) HystTemperature() (float64, error) {
	return l.temperature(lm75RegHyst)
}

// OSTemperature returns the overtemperature shutdown threshold in
// degrees Celsius.
func (l *LM75) OSTemperature() (float64, error) {
	return l.temperature(lm75RegOS)
}

func (l *LM75) setTemperature(reg byte, celsius float64) error {
	return bus.WriteWordBE(l.bus, l.addr, reg, uint16(int16(celsius*256.0)))
}

// SetHystTemperature programs the hysteresis threshold.
func (l *LM75) SetHystTemperature(celsius float64) error {
	return l.setTemperature(lm75RegHyst, celsius)
}

// SetOSTemperature programs the overtemperature shutdown threshold.
func (l *LM75) SetOSTemperature(celsius float64) error {
	return l.setTemperature(lm75RegOS, celsius)
}

// Config returns the decoded configuration register.
func (l *LM75) Config() (LM75Config, error) {
	raw, err := l.bus.ReadByte(l.addr, lm75RegConfig)
	if err != nil {
		return LM75Config{}, err
	}
	return LM75Config{
		Shutdown:   raw&(1<<lm75ShutdownOffset) != 0,
		Interrupt:  raw&(1<<lm75InterruptOffset) != 0,
		ActiveHigh: raw&(1<<lm75PolarityOffset) != 0,
		Queue:      FaultQueue(raw >> lm75QueueOffset & 0x03),
	}, nil
}

// SetConfig programs the configuration register.
func (l *LM75) SetConfig(cfg LM75Config) error {
	if !cfg.Queue.valid() {
		return fmt.Errorf("fault queue code %d: %w", cfg.Queue, driver.ErrInvalidArgument)
	}
	var raw byte
	if cfg.Shutdown {
		raw |= 1 << lm75ShutdownOffset
	}
	if cfg.Interrupt {
		raw |= 1 << lm75InterruptOffset
	}
	if cfg.ActiveHigh {
		raw |= 1 << lm75PolarityOffset
	}
	raw |= byte(cfg.Queue) << lm75QueueOffset
	return l.bus.WriteByte(l.addr, lm75RegConfig, raw)
}
