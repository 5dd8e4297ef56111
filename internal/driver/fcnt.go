package driver

import (
	"fmt"
	"time"

	"etb-service/internal/bus"
)

// FCNTDefaultAddr is the AVR frequency counter's I2C address.
const FCNTDefaultAddr = 0x24

// FCNT register map.
const (
	fcntRegConfig = 0x00
	fcntRegLSB    = 0x01
	fcntRegMSB    = 0x02
	fcntRegXMSB   = 0x03
)

// Config register layout: RST(7) RDY(6) SMP(5:4) RES(3:2) SEL(1:0).
const (
	fcntRstOffset = 7
	fcntRdyOffset = 6
	fcntSmpOffset = 4
	fcntResOffset = 2
	fcntSelOffset = 0
)

// SamplingTime selects the counter's gate time.
type SamplingTime byte

const (
	Sample1s SamplingTime = iota
	Sample3s
	Sample5s
	Sample10s
)

func (s SamplingTime) valid() bool { return s <= Sample10s }

// Resolution selects the unit of the 24-bit result.
type Resolution byte

const (
	ResolutionHz  Resolution = 0x01
	ResolutionKHz Resolution = 0x02
	ResolutionMHz Resolution = 0x03
)

func (r Resolution) valid() bool { return r >= ResolutionHz && r <= ResolutionMHz }

// FCNT drives the AVR-based frequency counter. A measurement spans up
// to three result bytes; how many are significant depends on the
// configured resolution.
type FCNT struct {
	bus  bus.Bus
	addr uint16

	sleep func(time.Duration)
}

func NewFCNT(b bus.Bus, addr uint16) *FCNT {
	return &FCNT{bus: b, addr: addr, sleep: time.Sleep}
}

// FCNTConfig is a decoded configuration register.
type FCNTConfig struct {
	Ready      bool
	Sampling   SamplingTime
	Resolution Resolution
	Channel    int
}

func (f *FCNT) ReadConfig() (FCNTConfig, error) {
	raw, err := f.bus.ReadByte(f.addr, fcntRegConfig)
	if err != nil {
		return FCNTConfig{}, err
	}
	return FCNTConfig{
		Ready:      raw&(1<<fcntRdyOffset) != 0,
		Sampling:   SamplingTime((raw >> fcntSmpOffset) & 0x03),
		Resolution: Resolution((raw >> fcntResOffset) & 0x03),
		Channel:    int(raw & 0x03),
	}, nil
}

// Ready reports whether a completed measurement is available.
func (f *FCNT) Ready() (bool, error) {
	cfg, err := f.ReadConfig()
	if err != nil {
		return false, err
	}
	return cfg.Ready, nil
}

func (f *FCNT) updateConfig(mask, value byte) error {
	cur, err := f.bus.ReadByte(f.addr, fcntRegConfig)
	if err != nil {
		return err
	}
	return f.bus.WriteByte(f.addr, fcntRegConfig, (cur&mask)|value)
}

func (f *FCNT) SetChannel(ch int) error {
	if ch < 0 || ch > 3 {
		return fmt.Errorf("counter channel %d: %w", ch, ErrInvalidArgument)
	}
	return f.updateConfig(0xFC, byte(ch)<<fcntSelOffset)
}

func (f *FCNT) SetResolution(res Resolution) error {
	if !res.valid() {
		return fmt.Errorf("counter resolution code %d: %w", res, ErrInvalidArgument)
	}
	return f.updateConfig(0xF3, byte(res)<<fcntResOffset)
}

func (f *FCNT) SetSampling(smp SamplingTime) error {
	if !smp.valid() {
		return fmt.Errorf("counter sampling code %d: %w", smp, ErrInvalidArgument)
	}
	return f.updateConfig(0xCF, byte(smp)<<fcntSmpOffset)
}

// Reset sets the RST bit; the counter clears it once restarted.
func (f *FCNT) Reset() error {
	return f.updateConfig(0x7F, 1<<fcntRstOffset)
}

// Frequency returns the latest completed measurement in the configured
// resolution's unit. Higher resolutions carry fewer significant bytes.
func (f *FCNT) Frequency() (uint32, error) {
	cfg, err := f.ReadConfig()
	if err != nil {
		return 0, err
	}
	if !cfg.Ready {
		return 0, fmt.Errorf("frequency: no completed measurement")
	}
	var xmsb, msb byte
	if cfg.Resolution == ResolutionHz {
		if xmsb, err = f.bus.ReadByte(f.addr, fcntRegXMSB); err != nil {
			return 0, err
		}
	}
	if cfg.Resolution == ResolutionHz || cfg.Resolution == ResolutionKHz {
		if msb, err = f.bus.ReadByte(f.addr, fcntRegMSB); err != nil {
			return 0, err
		}
	}
	lsb, err := f.bus.ReadByte(f.addr, fcntRegLSB)
	if err != nil {
		return 0, err
	}
	return uint32(xmsb)<<16 | uint32(msb)<<8 | uint32(lsb), nil
}

// WaitFrequency polls the ready flag on a 100 ms cadence until a
// measurement is available or the timeout expires, then reads it.
func (f *FCNT) WaitFrequency(timeout time.Duration) (uint32, error) {
	const interval = 100 * time.Millisecond
	var elapsed time.Duration
	for {
		ready, err := f.Ready()
		if err != nil {
			return 0, err
		}
		if ready {
			return f.Frequency()
		}
		if elapsed+interval > timeout {
			return 0, fmt.Errorf("frequency measurement after %v: %w", timeout, ErrTimeout)
		}
		f.sleep(interval)
		elapsed += interval
	}
}
