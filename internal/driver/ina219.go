package driver

import (
	"fmt"

	"etb-service/internal/bus"
)

// INA219DefaultAddr is the rail wattmeter's I2C address.
const INA219DefaultAddr = 0x40

// INA219 register map (all 16-bit, big-endian).
const (
	inaRegConfig      = 0x00
	inaRegShunt       = 0x01
	inaRegBus         = 0x02
	inaRegPower       = 0x03
	inaRegCurrent     = 0x04
	inaRegCalibration = 0x05
)

const inaRstBit = 0x8000

// Config register field offsets.
const (
	inaBrngOffset = 13
	inaPgaOffset  = 11
	inaBadcOffset = 7
	inaSadcOffset = 3
)

// BusRange selects the full-scale bus voltage range.
type BusRange byte

const (
	BusRange16V BusRange = iota
	BusRange32V
)

func (r BusRange) valid() bool { return r <= BusRange32V }

// PGAGain selects the shunt voltage gain/range in mV full scale.
type PGAGain byte

const (
	PGA40mV PGAGain = iota
	PGA80mV
	PGA160mV
	PGA320mV
)

func (g PGAGain) valid() bool { return g <= PGA320mV }

// ADCResolution selects the converter resolution in bits.
type ADCResolution byte

const (
	ADC9Bit ADCResolution = iota
	ADC10Bit
	ADC11Bit
	ADC12Bit
)

func (r ADCResolution) valid() bool { return r <= ADC12Bit }

// ADCAveraging selects the number of averaged 12-bit samples.
type ADCAveraging byte

const (
	ADCSamples1 ADCAveraging = iota
	ADCSamples2
	ADCSamples4
	ADCSamples8
	ADCSamples16
	ADCSamples32
	ADCSamples64
	ADCSamples128
)

func (a ADCAveraging) valid() bool { return a <= ADCSamples128 }

// Mode selects the operating mode.
type Mode byte

const (
	ModePowerDown Mode = iota
	ModeShuntTriggered
	ModeBusTriggered
	ModeShuntBusTriggered
	ModeADCOff
	ModeShuntContinuous
	ModeBusContinuous
	ModeShuntBusContinuous
)

func (m Mode) valid() bool { return m <= ModeShuntBusContinuous }

// CalibrationProfile is one of the two fixed bench calibrations. The
// profile fixes the physical quantity of one raw current/power LSB.
type CalibrationProfile int

const (
	// CalLowCurrent calibrates for 16 V / 400 mA: 50 uA and 1 mW per bit.
	CalLowCurrent CalibrationProfile = iota
	// CalHighCurrent calibrates for 16 V / 5 A: 152.4 uA and 3.048 mW per bit.
	CalHighCurrent
)

// INA219 drives one current/voltage sense device. Current and power
// readings are meaningless until Calibrate has been run; the driver
// rejects them with ErrNotCalibrated instead of returning scaled
// garbage.
type INA219 struct {
	bus  bus.Bus
	addr uint16

	currentLSBmA float64 // mA per bit
	powerLSBW    float64 // W per bit
	calValue     uint16
	calibrated   bool
}

func NewINA219(b bus.Bus, addr uint16) *INA219 {
	return &INA219{bus: b, addr: addr}
}

func (i *INA219) readS16(reg byte) (int16, error) {
	return bus.ReadWordS16BE(i.bus, i.addr, reg)
}

func (i *INA219) writeU16(reg byte, val uint16) error {
	return bus.WriteWordBE(i.bus, i.addr, reg, val)
}

// Reset requests a device reset via the RST configuration bit.
func (i *INA219) Reset() error {
	return i.writeU16(inaRegConfig, inaRstBit)
}

// Calibrate programs the calibration register and the full measurement
// configuration for the chosen profile: five sequential register
// writes, each independently fallible.
func (i *INA219) Calibrate(profile CalibrationProfile) error {
	var (
		currentLSBmA float64
		powerLSBW    float64
		calValue     uint16
		gain         PGAGain
	)
	switch profile {
	case CalLowCurrent:
		// cal = trunc(0.04096 / (currentLSB * Rshunt)) = 8192
		currentLSBmA, powerLSBW, calValue, gain = 0.05, 0.001, 8192, PGA40mV
	case CalHighCurrent:
		// cal = trunc(0.04096 / (currentLSB * Rshunt)) = 13434
		currentLSBmA, powerLSBW, calValue, gain = 0.1524, 0.003048, 13434, PGA320mV
	default:
		return fmt.Errorf("calibration profile %d: %w", profile, ErrInvalidArgument)
	}
	if err := i.writeU16(inaRegCalibration, calValue); err != nil {
		return err
	}
	if err := i.SetBusRange(BusRange16V); err != nil {
		return err
	}
	if err := i.SetPGAGain(gain); err != nil {
		return err
	}
	if err := i.SetBusADC(ADC12Bit, ADCSamples1); err != nil {
		return err
	}
	if err := i.SetShuntADC(ADC12Bit, ADCSamples1); err != nil {
		return err
	}
	if err := i.SetMode(ModeShuntBusContinuous); err != nil {
		return err
	}
	i.currentLSBmA = currentLSBmA
	i.powerLSBW = powerLSBW
	i.calValue = calValue
	i.calibrated = true
	return nil
}

// Calibrated reports whether Calibrate has completed at least once.
func (i *INA219) Calibrated() bool { return i.calibrated }

// BusVoltage returns the bus voltage in volts. The two status LSBs of
// the register are discarded; the remaining value is a fixed 1 mV/LSB
// regardless of calibration profile.
func (i *INA219) BusVoltage() (float64, error) {
	raw, err := i.readS16(inaRegBus)
	if err != nil {
		return 0, err
	}
	return float64(raw>>1) * 0.001, nil
}

// ShuntVoltage returns the shunt voltage in volts.
func (i *INA219) ShuntVoltage() (float64, error) {
	raw, err := i.readS16(inaRegShunt)
	if err != nil {
		return 0, err
	}
	return float64(raw) * 0.001, nil
}

// CurrentMA returns the calibrated current in milliamps.
func (i *INA219) CurrentMA() (float64, error) {
	if !i.calibrated {
		return 0, fmt.Errorf("current read: %w", ErrNotCalibrated)
	}
	raw, err := i.readS16(inaRegCurrent)
	if err != nil {
		return 0, err
	}
	return float64(raw) * i.currentLSBmA, nil
}

// PowerW returns the calibrated power in watts.
func (i *INA219) PowerW() (float64, error) {
	if !i.calibrated {
		return 0, fmt.Errorf("power read: %w", ErrNotCalibrated)
	}
	raw, err := i.readS16(inaRegPower)
	if err != nil {
		return 0, err
	}
	return float64(raw) * i.powerLSBW, nil
}

// PowerMW returns the calibrated power in milliwatts.
func (i *INA219) PowerMW() (float64, error) {
	w, err := i.PowerW()
	if err != nil {
		return 0, err
	}
	return w * 1000, nil
}

// updateConfig read-modify-writes one field of the config register.
func (i *INA219) updateConfig(mask, value uint16, offset uint) error {
	raw, err := i.readS16(inaRegConfig)
	if err != nil {
		return err
	}
	conf := (uint16(raw) & mask) | value<<offset
	return i.writeU16(inaRegConfig, conf)
}

func (i *INA219) SetBusRange(r BusRange) error {
	if !r.valid() {
		return fmt.Errorf("bus range code %d: %w", r, ErrInvalidArgument)
	}
	return i.updateConfig(0xDFFF, uint16(r), inaBrngOffset)
}

func (i *INA219) SetPGAGain(g PGAGain) error {
	if !g.valid() {
		return fmt.Errorf("PGA gain code %d: %w", g, ErrInvalidArgument)
	}
	return i.updateConfig(0xE7FF, uint16(g), inaPgaOffset)
}

// adcBits packs resolution/averaging into the 4-bit ADC field: plain
// resolution codes below 12 bit, 0x8 plus the averaging code otherwise.
func adcBits(res ADCResolution, avg ADCAveraging) (uint16, error) {
	if !res.valid() {
		return 0, fmt.Errorf("ADC resolution code %d: %w", res, ErrInvalidArgument)
	}
	if !avg.valid() {
		return 0, fmt.Errorf("ADC averaging code %d: %w", avg, ErrInvalidArgument)
	}
	if res < ADC12Bit {
		return uint16(res), nil
	}
	return 0x8 | uint16(avg), nil
}

func (i *INA219) SetBusADC(res ADCResolution, avg ADCAveraging) error {
	v, err := adcBits(res, avg)
	if err != nil {
		return err
	}
	return i.updateConfig(0xF87F, v, inaBadcOffset)
}

func (i *INA219) SetShuntADC(res ADCResolution, avg ADCAveraging) error {
	v, err := adcBits(res, avg)
	if err != nil {
		return err
	}
	return i.updateConfig(0xFF87, v, inaSadcOffset)
}

func (i *INA219) SetMode(m Mode) error {
	if !m.valid() {
		return fmt.Errorf("mode code %d: %w", m, ErrInvalidArgument)
	}
	return i.updateConfig(0xFFF8, uint16(m), 0)
}
