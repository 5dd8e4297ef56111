// Package vsm drives the voltage scaling module: four buck converter
// rails behind an I2C multiplexer, each paired with a wattmeter. The
// converters and meters share fixed I2C addresses, so every register
// access is bracketed by selecting the rail's mux channel and
// deselecting it again afterwards.
package vsm

import (
	"fmt"
	"sync"
	"time"

	"etb-service/internal/driver"
)

// RailCount is the number of converter rails on the module.
const RailCount = 4

// DefaultEnableOffsets are the BCM offsets of the rail enable lines.
var DefaultEnableOffsets = [RailCount]int{5, 6, 19, 26}

const defaultPollInterval = 10 * time.Millisecond

// Controller is the register surface of one rail's buck converter.
type Controller interface {
	Enable() error
	Disable() error
	Enabled() (bool, error)
	IntendedEnabled() (bool, error)
	PowerGood() (bool, error)
	SetCurrentLimit(limit driver.CurrentLimit) error
	SetOutputVoltageCode(code byte) error
	OutputVoltageCode() (byte, error)
}

// Meter is the register surface of one rail's wattmeter.
type Meter interface {
	Calibrate(profile driver.CalibrationProfile) error
	BusVoltage() (float64, error)
	CurrentMA() (float64, error)
	PowerMW() (float64, error)
}

// Mux selects which rail's devices are visible on the bus. Channel 0
// deselects all of them.
type Mux interface {
	Select(channel int) error
}

// Rail bundles the two devices sitting behind one mux channel.
type Rail struct {
	Controller Controller
	Meter      Meter
}

// VSM is the voltage scaling module facade. All rail register access
// is serialized by one mutex spanning the full select/act/deselect
// bracket.
type VSM struct {
	mu    sync.Mutex
	mux   Mux
	rails [RailCount]Rail

	interval time.Duration
	sleep    func(time.Duration)
}

// New builds the facade and calibrates every rail's wattmeter for the
// low-current bench profile.
func New(mux Mux, rails [RailCount]Rail) (*VSM, error) {
	v := &VSM{
		mux:      mux,
		rails:    rails,
		interval: defaultPollInterval,
		sleep:    time.Sleep,
	}
	for i := range v.rails {
		if err := v.Calibrate(i, driver.CalLowCurrent); err != nil {
			return nil, fmt.Errorf("calibrate rail %d: %w", i, err)
		}
	}
	return v, nil
}

// bracket runs fn on the rail's devices with the rail's mux channel
// selected. The channel is deselected afterwards even when fn fails;
// fn's error takes precedence, and a deselect failure is only
// reported if fn itself succeeded.
func (v *VSM) bracket(rail int, fn func(r *Rail) error) error {
	if rail < 0 || rail >= RailCount {
		return fmt.Errorf("rail %d: %w", rail, driver.ErrInvalidArgument)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.mux.Select(rail + 1); err != nil {
		return fmt.Errorf("select rail %d: %w", rail, err)
	}
	err := fn(&v.rails[rail])
	deselect := v.mux.Select(0)
	if err != nil {
		return err
	}
	if deselect != nil {
		return fmt.Errorf("deselect rail %d: %w", rail, deselect)
	}
	return nil
}

// rail returns the rail's device bundle after a range check. Used by
// operations that touch only the enable line and need no bracket.
func (v *VSM) rail(rail int) (*Rail, error) {
	if rail < 0 || rail >= RailCount {
		return nil, fmt.Errorf("rail %d: %w", rail, driver.ErrInvalidArgument)
	}
	return &v.rails[rail], nil
}

// Enable drives the rail's enable line high. The line is wired
// straight to the converter, so no mux bracket is involved.
func (v *VSM) Enable(rail int) error {
	r, err := v.rail(rail)
	if err != nil {
		return err
	}
	return r.Controller.Enable()
}

// Disable drives the rail's enable line low.
func (v *VSM) Disable(rail int) error {
	r, err := v.rail(rail)
	if err != nil {
		return err
	}
	return r.Controller.Disable()
}

// IntendedEnabled reports the commanded state of the enable line.
func (v *VSM) IntendedEnabled(rail int) (bool, error) {
	r, err := v.rail(rail)
	if err != nil {
		return false, err
	}
	return r.Controller.IntendedEnabled()
}

// Enabled reports whether the converter confirms being enabled.
func (v *VSM) Enabled(rail int) (bool, error) {
	var enabled bool
	err := v.bracket(rail, func(r *Rail) error {
		var err error
		enabled, err = r.Controller.Enabled()
		return err
	})
	return enabled, err
}

// SetCurrentLimit programs the rail's current limit.
func (v *VSM) SetCurrentLimit(rail int, limit driver.CurrentLimit) error {
	return v.bracket(rail, func(r *Rail) error {
		return r.Controller.SetCurrentLimit(limit)
	})
}

// Calibrate programs the rail's wattmeter for a measurement profile.
func (v *VSM) Calibrate(rail int, profile driver.CalibrationProfile) error {
	return v.bracket(rail, func(r *Rail) error {
		return r.Meter.Calibrate(profile)
	})
}

// SetOutputVoltageCode programs the raw VOUT register.
func (v *VSM) SetOutputVoltageCode(rail int, code byte) error {
	return v.bracket(rail, func(r *Rail) error {
		return r.Controller.SetOutputVoltageCode(code)
	})
}

// SetOutputVoltage programs the closest representable output voltage.
func (v *VSM) SetOutputVoltage(rail int, volts float64) error {
	code, err := driver.CodeFromVoltage(volts)
	if err != nil {
		return err
	}
	return v.SetOutputVoltageCode(rail, code)
}

// OutputVoltageCode reads back the raw VOUT register.
func (v *VSM) OutputVoltageCode(rail int) (byte, error) {
	var code byte
	err := v.bracket(rail, func(r *Rail) error {
		var err error
		code, err = r.Controller.OutputVoltageCode()
		return err
	})
	return code, err
}

// PowerGood reports the converter's power-good flag.
func (v *VSM) PowerGood(rail int) (bool, error) {
	var good bool
	err := v.bracket(rail, func(r *Rail) error {
		var err error
		good, err = r.Controller.PowerGood()
		return err
	})
	return good, err
}

// WaitPowerGood polls the power-good flag until it asserts. Polling
// starts immediately and repeats on the configured interval; the wait
// never sleeps past the timeout.
func (v *VSM) WaitPowerGood(rail int, timeout time.Duration) error {
	var elapsed time.Duration
	for {
		good, err := v.PowerGood(rail)
		if err != nil {
			return err
		}
		if good {
			return nil
		}
		if elapsed+v.interval > timeout {
			return fmt.Errorf("rail %d power good after %v: %w", rail, timeout, driver.ErrTimeout)
		}
		v.sleep(v.interval)
		elapsed += v.interval
	}
}

// Voltage returns the rail's bus voltage in volts.
func (v *VSM) Voltage(rail int) (float64, error) {
	var volts float64
	err := v.bracket(rail, func(r *Rail) error {
		var err error
		volts, err = r.Meter.BusVoltage()
		return err
	})
	return volts, err
}

// CurrentMA returns the rail's load current in milliamps.
func (v *VSM) CurrentMA(rail int) (float64, error) {
	var ma float64
	err := v.bracket(rail, func(r *Rail) error {
		var err error
		ma, err = r.Meter.CurrentMA()
		return err
	})
	return ma, err
}

// PowerMW returns the rail's load power in milliwatts.
func (v *VSM) PowerMW(rail int) (float64, error) {
	var mw float64
	err := v.bracket(rail, func(r *Rail) error {
		var err error
		mw, err = r.Meter.PowerMW()
		return err
	})
	return mw, err
}

// forEach runs op on every rail in index order and stops at the first
// failure.
func (v *VSM) forEach(op func(rail int) error) error {
	for i := 0; i < RailCount; i++ {
		if err := op(i); err != nil {
			return err
		}
	}
	return nil
}

// EnableAll enables every rail, failing fast.
func (v *VSM) EnableAll() error {
	return v.forEach(v.Enable)
}

// DisableAll disables every rail, failing fast.
func (v *VSM) DisableAll() error {
	return v.forEach(v.Disable)
}

// SetCurrentLimitAll programs every rail's current limit, failing fast.
func (v *VSM) SetCurrentLimitAll(limit driver.CurrentLimit) error {
	return v.forEach(func(rail int) error {
		return v.SetCurrentLimit(rail, limit)
	})
}

// CalibrateAll recalibrates every rail's wattmeter, failing fast.
func (v *VSM) CalibrateAll(profile driver.CalibrationProfile) error {
	return v.forEach(func(rail int) error {
		return v.Calibrate(rail, profile)
	})
}

// SetOutputVoltageAll programs every rail to the same voltage,
// failing fast.
func (v *VSM) SetOutputVoltageAll(volts float64) error {
	code, err := driver.CodeFromVoltage(volts)
	if err != nil {
		return err
	}
	return v.forEach(func(rail int) error {
		return v.SetOutputVoltageCode(rail, code)
	})
}

// AllPowerGood reports whether every rail's power-good flag asserts.
// The check stops at the first rail that is not good.
func (v *VSM) AllPowerGood() (bool, error) {
	for i := 0; i < RailCount; i++ {
		good, err := v.PowerGood(i)
		if err != nil {
			return false, err
		}
		if !good {
			return false, nil
		}
	}
	return true, nil
}

// WaitAllPowerGood polls every rail's power-good flag until all
// assert, with the same timing rule as WaitPowerGood.
func (v *VSM) WaitAllPowerGood(timeout time.Duration) error {
	var elapsed time.Duration
	for {
		good, err := v.AllPowerGood()
		if err != nil {
			return err
		}
		if good {
			return nil
		}
		if elapsed+v.interval > timeout {
			return fmt.Errorf("all rails power good after %v: %w", timeout, driver.ErrTimeout)
		}
		v.sleep(v.interval)
		elapsed += v.interval
	}
}

// VoltsToCode converts a target voltage to the converter's VOUT code.
func VoltsToCode(volts float64) (byte, error) {
	return driver.CodeFromVoltage(volts)
}

// CodeToVolts converts a VOUT code back to the voltage it programs.
func CodeToVolts(code byte) float64 {
	return driver.VoltageFromCode(code)
}
