// Package bench assembles the full test bench: the voltage scaling
// module, the onboard ADC, the auxiliary wattmeters and the thermistor
// inputs.
package bench

import (
	"fmt"

	"etb-service/internal/bus"
	"etb-service/internal/driver"
	"etb-service/internal/gpio"
	"etb-service/internal/sensor"
	"etb-service/internal/vsm"
)

// AuxMeterCount is the number of auxiliary wattmeter headers.
const AuxMeterCount = 2

// ThermistorCount is the number of thermistor inputs on the ADC.
const ThermistorCount = 2

// auxMeterAddrs are the fixed addresses of the auxiliary wattmeters.
var auxMeterAddrs = [AuxMeterCount]uint16{0x41, 0x44}

// Bench owns every device on the test bench. Rail operations are
// promoted from the embedded voltage scaling module.
type Bench struct {
	*vsm.VSM

	bus  bus.Bus
	mux  *driver.TCA9548
	adc  *driver.ADS1115
	aux  [AuxMeterCount]*driver.INA219
	ntc  [ThermistorCount]*sensor.JT103
}

// New brings up the bench on the given bus. Rail converters and
// wattmeters live behind the mux, so their initialization runs with
// the rail's channel selected. The auxiliary meters sit on the root
// bus and are calibrated for the low-current profile.
func New(b bus.Bus, enable [vsm.RailCount]gpio.Line) (*Bench, error) {
	mux := driver.NewTCA9548(b, driver.TCA9548DefaultAddr)

	var rails [vsm.RailCount]vsm.Rail
	for i := range rails {
		if err := mux.Select(i + 1); err != nil {
			return nil, fmt.Errorf("select rail %d: %w", i, err)
		}
		ctrl, err := driver.NewMIC24045(b, driver.MIC24045DefaultAddr, enable[i])
		deselect := mux.Select(0)
		if err != nil {
			return nil, fmt.Errorf("init rail %d converter: %w", i, err)
		}
		if deselect != nil {
			return nil, fmt.Errorf("deselect rail %d: %w", i, deselect)
		}
		rails[i] = vsm.Rail{
			Controller: ctrl,
			Meter:      driver.NewINA219(b, driver.INA219DefaultAddr),
		}
	}

	module, err := vsm.New(mux, rails)
	if err != nil {
		return nil, err
	}

	bench := &Bench{
		VSM: module,
		bus: b,
		mux: mux,
		adc: driver.NewADS1115(b, driver.ADS1115DefaultAddr),
	}
	for i, addr := range auxMeterAddrs {
		bench.aux[i] = driver.NewINA219(b, addr)
		if err := bench.aux[i].Calibrate(driver.CalLowCurrent); err != nil {
			return nil, fmt.Errorf("calibrate aux meter %d: %w", i, err)
		}
	}
	for i := range bench.ntc {
		bench.ntc[i] = sensor.NewJT103(bench.adc, driver.InputSingle0+driver.ADCInput(i))
	}
	return bench, nil
}

// ReadADC runs one single-shot conversion on the onboard ADC.
func (b *Bench) ReadADC(input driver.ADCInput, gain driver.ADCGain, rate driver.ADCDataRate) (int16, error) {
	return b.adc.ReadChannel(input, gain, rate)
}

// ReadThermistor returns the temperature of one thermistor input in
// degrees Celsius.
func (b *Bench) ReadThermistor(idx int) (float64, error) {
	if idx < 0 || idx >= ThermistorCount {
		return 0, fmt.Errorf("thermistor input %d: %w", idx, driver.ErrInvalidArgument)
	}
	return b.ntc[idx].Temperature()
}

func (b *Bench) auxMeter(idx int) (*driver.INA219, error) {
	if idx < 0 || idx >= AuxMeterCount {
		return nil, fmt.Errorf("aux meter %d: %w", idx, driver.ErrInvalidArgument)
	}
	return b.aux[idx], nil
}

// AuxVoltage returns the bus voltage of one auxiliary meter in volts.
func (b *Bench) AuxVoltage(idx int) (float64, error) {
	m, err := b.auxMeter(idx)
	if err != nil {
		return 0, err
	}
	return m.BusVoltage()
}

// AuxCurrentMA returns the current of one auxiliary meter in
// milliamps.
func (b *Bench) AuxCurrentMA(idx int) (float64, error) {
	m, err := b.auxMeter(idx)
	if err != nil {
		return 0, err
	}
	return m.CurrentMA()
}

// CalibrateAux reprograms one auxiliary meter's measurement profile.
func (b *Bench) CalibrateAux(idx int, profile driver.CalibrationProfile) error {
	m, err := b.auxMeter(idx)
	if err != nil {
		return err
	}
	return m.Calibrate(profile)
}

// RailCheck is the self-check result for one rail's mux channel.
type RailCheck struct {
	Controller bool
	Meter      bool
}

// Report is the result of a bench self-check. A false field means the
// device did not answer at its expected address.
type Report struct {
	Mux       bool
	ADC       bool
	AuxMeters [AuxMeterCount]bool
	Rails     [vsm.RailCount]RailCheck
}

// Ok reports whether every expected device answered.
func (r Report) Ok() bool {
	if !r.Mux || !r.ADC {
		return false
	}
	for _, m := range r.AuxMeters {
		if !m {
			return false
		}
	}
	for _, rail := range r.Rails {
		if !rail.Controller || !rail.Meter {
			return false
		}
	}
	return true
}

// SelfCheck probes every expected device address. Rail devices are
// probed with their mux channel selected. The probe drives the mux
// directly, so run it at startup before rail operations begin.
func (b *Bench) SelfCheck() (Report, error) {
	var rep Report
	rep.Mux = bus.Probe(b.bus, driver.TCA9548DefaultAddr)
	rep.ADC = bus.Probe(b.bus, driver.ADS1115DefaultAddr)
	for i, addr := range auxMeterAddrs {
		rep.AuxMeters[i] = bus.Probe(b.bus, addr)
	}
	if !rep.Mux {
		return rep, nil
	}
	for i := range rep.Rails {
		if err := b.mux.Select(i + 1); err != nil {
			return rep, fmt.Errorf("select rail %d: %w", i, err)
		}
		rep.Rails[i] = RailCheck{
			Controller: bus.Probe(b.bus, driver.MIC24045DefaultAddr),
			Meter:      bus.Probe(b.bus, driver.INA219DefaultAddr),
		}
		if err := b.mux.Select(0); err != nil {
			return rep, fmt.Errorf("deselect rail %d: %w", i, err)
		}
	}
	return rep, nil
}
