// Package avr programs the bench's AVR frequency counter MCU through
// avrdude and an in-system programmer.
package avr

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"etb-service/internal/driver"
	"etb-service/internal/gpio"
)

const (
	DefaultMCU  = "atmega1284p"
	DefaultPort = "/dev/ttyACM0"

	programmer = "avrispv2"
	tool       = "avrdude"
)

// Fuse selects one of the MCU's three fuse bytes.
type Fuse string

const (
	FuseExtended Fuse = "efuse"
	FuseHigh     Fuse = "hfuse"
	FuseLow      Fuse = "lfuse"
)

func (f Fuse) valid() bool {
	return f == FuseExtended || f == FuseHigh || f == FuseLow
}

// ClockSource selects the MCU clock configuration programmed into the
// low fuse byte.
type ClockSource int

const (
	ClockInternal ClockSource = iota
	ClockExternal
)

// Low fuse byte layout.
const (
	fuseLowCKDIV8 = 0x80
	fuseLowCKOUT  = 0x40
)

const resetPulse = 500 * time.Millisecond

// runner executes one external command. Swapped out by tests so argv
// assembly is covered without avrdude installed.
type runner func(name string, args ...string) error

func run(name string, args ...string) error {
	if out, err := exec.Command(name, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// Programmer flashes and configures the counter MCU.
type Programmer struct {
	mcu  string
	port string

	run   runner
	sleep func(time.Duration)
}

func NewProgrammer(mcu, port string) *Programmer {
	if mcu == "" {
		mcu = DefaultMCU
	}
	if port == "" {
		port = DefaultPort
	}
	return &Programmer{mcu: mcu, port: port, run: run, sleep: time.Sleep}
}

// args builds the avrdude argument list for one memory operation.
func (p *Programmer) args(memOp string) []string {
	return []string{"-p", p.mcu, "-c", programmer, "-P", p.port, "-v", "-U", memOp}
}

// Flash writes a binary image to the MCU's flash.
func (p *Programmer) Flash(binary string) error {
	if _, err := os.Stat(binary); err != nil {
		return fmt.Errorf("flash image: %w", err)
	}
	return p.run(tool, p.args("flash:w:"+binary)...)
}

// ReadFuse dumps one fuse byte to avrdude's stdout.
func (p *Programmer) ReadFuse(fuse Fuse) error {
	if !fuse.valid() {
		return fmt.Errorf("fuse %q: %w", fuse, driver.ErrInvalidArgument)
	}
	return p.run(tool, p.args(string(fuse)+":r:-:d")...)
}

// WriteFuse programs one fuse byte.
func (p *Programmer) WriteFuse(fuse Fuse, value byte) error {
	if !fuse.valid() {
		return fmt.Errorf("fuse %q: %w", fuse, driver.ErrInvalidArgument)
	}
	return p.run(tool, p.args(fmt.Sprintf("%s:w:0x%02X:m", fuse, value))...)
}

// Erase performs a chip erase.
func (p *Programmer) Erase() error {
	return p.run(tool, "-p", p.mcu, "-c", programmer, "-P", p.port, "-v", "-e")
}

// ClockFuse returns the low fuse byte for a clock configuration. The
// CKDIV8 and CKOUT fuse bits are active low.
func ClockFuse(src ClockSource, div8, ckout bool) (byte, error) {
	var b byte
	switch src {
	case ClockInternal:
		b = 0x02 | 0x20 // CKSEL 0010, SUT 10
	case ClockExternal:
		b = 0x0F | 0x30 // CKSEL 1111, SUT 11
	default:
		return 0, fmt.Errorf("clock source %d: %w", src, driver.ErrInvalidArgument)
	}
	if !div8 {
		b |= fuseLowCKDIV8
	}
	if !ckout {
		b |= fuseLowCKOUT
	}
	return b, nil
}

// SetClockSource programs the MCU clock configuration into the low
// fuse byte.
func (p *Programmer) SetClockSource(src ClockSource, div8, ckout bool) error {
	b, err := ClockFuse(src, div8, ckout)
	if err != nil {
		return err
	}
	return p.WriteFuse(FuseLow, b)
}

// Reset pulses the MCU's reset line low for half a second.
func (p *Programmer) Reset(rst gpio.Line) error {
	if err := rst.Set(false); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	p.sleep(resetPulse)
	if err := rst.Set(true); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	return nil
}
