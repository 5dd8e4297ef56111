package sensor

import (
	"fmt"
	"time"

	"etb-service/internal/bus"
	"etb-service/internal/driver"
)

// BME280DefaultAddr is the climate sensor's I2C address.
const BME280DefaultAddr = 0x76

const bmeChipID = 0x60

// BME280 register map.
const (
	bmeRegChipID   = 0xD0
	bmeRegReset    = 0xE0
	bmeRegCtrlHum  = 0xF2
	bmeRegStatus   = 0xF3
	bmeRegCtrlMeas = 0xF4
	bmeRegConfig   = 0xF5
	bmeRegPressure = 0xF7 // F7..F9, 20 bit
	bmeRegTemp     = 0xFA // FA..FC, 20 bit
	bmeRegHumidity = 0xFD // FD..FE, 16 bit

	bmeRegCalibTP = 0x88 // dig_T1..dig_P9 plus dig_H1 at 0xA1
	bmeRegCalibH  = 0xE1 // dig_H2..dig_H6

	bmeResetValue    = 0xB6
	bmeStatusMeasure = 0x08
)

// Oversampling is the per-channel sample count code shared by the
// temperature, pressure and humidity converters.
type Oversampling byte

const (
	OversamplingOff Oversampling = iota
	Oversampling1x
	Oversampling2x
	Oversampling4x
	Oversampling8x
	Oversampling16x
)

func (o Oversampling) valid() bool { return o <= Oversampling16x }

// SensorMode is the device's operating mode.
type SensorMode byte

const (
	ModeSleep  SensorMode = 0
	ModeForced SensorMode = 1
	ModeNormal SensorMode = 3
)

func (m SensorMode) valid() bool { return m <= ModeNormal && m != 2 }

// StandbyTime is the inactive period between normal-mode measurements.
type StandbyTime byte

const (
	Standby500us StandbyTime = iota
	Standby62ms5
	Standby125ms
	Standby250ms
	Standby500ms
	Standby1000ms
	Standby10ms
	Standby20ms
)

func (s StandbyTime) valid() bool { return s <= Standby20ms }

// FilterCoeff is the IIR filter time constant.
type FilterCoeff byte

const (
	FilterOff FilterCoeff = iota
	Filter2
	Filter4
	Filter8
	Filter16
)

func (f FilterCoeff) valid() bool { return f <= Filter16 }

// bmeCalibration holds the factory trimming coefficients.
type bmeCalibration struct {
	t1         uint16
	t2, t3     int16
	p1         uint16
	p2, p3, p4 int16
	p5, p6, p7 int16
	p8, p9     int16
	h1, h3     byte
	h2         int16
	h4, h5     int16
	h6         int8
}

// BME280 drives the combined temperature, pressure and humidity
// sensor. Pressure and humidity compensation depend on a fine
// temperature value, so the driver measures temperature first when no
// reading has happened yet.
type BME280 struct {
	bus  bus.Bus
	addr uint16

	cal      bmeCalibration
	tFine    int32
	measured bool

	sleep func(time.Duration)
}

// NewBME280 verifies the chip identity, loads the trimming
// coefficients and programs the power-on configuration: 1x
// oversampling on all channels, 250 ms standby, filter off, normal
// mode.
func NewBME280(b bus.Bus, addr uint16) (*BME280, error) {
	s := &BME280{bus: b, addr: addr, sleep: time.Sleep}
	id, err := s.ChipID()
	if err != nil {
		return nil, err
	}
	if id != bmeChipID {
		return nil, fmt.Errorf("bme280 at %#02x: unexpected chip id %#02x", addr, id)
	}
	if err := s.loadCalibration(); err != nil {
		return nil, err
	}
	for _, step := range []func() error{
		func() error { return s.SetTemperatureOversampling(Oversampling1x) },
		func() error { return s.SetPressureOversampling(Oversampling1x) },
		func() error { return s.SetHumidityOversampling(Oversampling1x) },
		func() error { return s.SetStandby(Standby250ms) },
		func() error { return s.SetFilter(FilterOff) },
		func() error { return s.SetMode(ModeNormal) },
	} {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ChipID reads the identity register.
func (s *BME280) ChipID() (byte, error) {
	return s.bus.ReadByte(s.addr, bmeRegChipID)
}

// Reset requests a power-on reset.
func (s *BME280) Reset() error {
	return s.bus.WriteByte(s.addr, bmeRegReset, bmeResetValue)
}

func (s *BME280) loadCalibration() error {
	// dig_T1 through dig_P9 are contiguous; dig_H1 sits at the end of
	// the same block.
	tp, err := s.bus.ReadBlock(s.addr, bmeRegCalibTP, 26)
	if err != nil {
		return err
	}
	h, err := s.bus.ReadBlock(s.addr, bmeRegCalibH, 7)
	if err != nil {
		return err
	}
	u16 := func(b []byte, i int) uint16 { return uint16(b[i]) | uint16(b[i+1])<<8 }
	s16 := func(b []byte, i int) int16 { return int16(u16(b, i)) }
	s.cal = bmeCalibration{
		t1: u16(tp, 0), t2: s16(tp, 2), t3: s16(tp, 4),
		p1: u16(tp, 6), p2: s16(tp, 8), p3: s16(tp, 10),
		p4: s16(tp, 12), p5: s16(tp, 14), p6: s16(tp, 16),
		p7: s16(tp, 18), p8: s16(tp, 20), p9: s16(tp, 22),
		h1: tp[25],
		h2: s16(h, 0), h3: h[2],
		// dig_H4 and dig_H5 share the nibbles of register 0xE5.
		h4: int16(int8(h[3]))<<4 | int16(h[4]&0x0F),
		h5: int16(int8(h[5]))<<4 | int16(h[4]>>4),
		h6: int8(h[6]),
	}
	return nil
}

func (s *BME280) updateReg(reg, mask, value byte) error {
	cur, err := s.bus.ReadByte(s.addr, reg)
	if err != nil {
		return err
	}
	return s.bus.WriteByte(s.addr, reg, cur&mask|value)
}

// SetMode selects sleep, forced or normal operation.
func (s *BME280) SetMode(m SensorMode) error {
	if !m.valid() {
		return fmt.Errorf("sensor mode code %d: %w", m, driver.ErrInvalidArgument)
	}
	return s.updateReg(bmeRegCtrlMeas, 0xFC, byte(m))
}

// SetTemperatureOversampling programs the osrs_t field.
func (s *BME280) SetTemperatureOversampling(o Oversampling) error {
	if !o.valid() {
		return fmt.Errorf("oversampling code %d: %w", o, driver.ErrInvalidArgument)
	}
	return s.updateReg(bmeRegCtrlMeas, 0x1F, byte(o)<<5)
}

// SetPressureOversampling programs the osrs_p field.
func (s *BME280) SetPressureOversampling(o Oversampling) error {
	if !o.valid() {
		return fmt.Errorf("oversampling code %d: %w", o, driver.ErrInvalidArgument)
	}
	return s.updateReg(bmeRegCtrlMeas, 0xE3, byte(o)<<2)
}

// SetHumidityOversampling programs the osrs_h field. The device
// latches it on the next ctrl_meas write.
func (s *BME280) SetHumidityOversampling(o Oversampling) error {
	if !o.valid() {
		return fmt.Errorf("oversampling code %d: %w", o, driver.ErrInvalidArgument)
	}
	return s.updateReg(bmeRegCtrlHum, 0xF8, byte(o))
}

// SetStandby programs the normal-mode standby period.
func (s *BME280) SetStandby(t StandbyTime) error {
	if !t.valid() {
		return fmt.Errorf("standby code %d: %w", t, driver.ErrInvalidArgument)
	}
	return s.updateReg(bmeRegConfig, 0x1F, byte(t)<<5)
}

// SetFilter programs the IIR filter coefficient.
func (s *BME280) SetFilter(f FilterCoeff) error {
	if !f.valid() {
		return fmt.Errorf("filter code %d: %w", f, driver.ErrInvalidArgument)
	}
	return s.updateReg(bmeRegConfig, 0xE3, byte(f)<<2)
}

// waitReady polls the measuring status bit on a 5 ms cadence.
func (s *BME280) waitReady(timeout time.Duration) error {
	const interval = 5 * time.Millisecond
	var elapsed time.Duration
	for {
		status, err := s.bus.ReadByte(s.addr, bmeRegStatus)
		if err != nil {
			return err
		}
		if status&bmeStatusMeasure == 0 {
			return nil
		}
		if elapsed+interval > timeout {
			return fmt.Errorf("bme280 conversion after %v: %w", timeout, driver.ErrTimeout)
		}
		s.sleep(interval)
		elapsed += interval
	}
}

const bmeReadyTimeout = 500 * time.Millisecond

// raw20 reads one of the two left-aligned 20-bit measurement values.
func (s *BME280) raw20(reg byte) (int32, error) {
	if err := s.waitReady(bmeReadyTimeout); err != nil {
		return 0, err
	}
	b, err := s.bus.ReadBlock(s.addr, reg, 3)
	if err != nil {
		return 0, err
	}
	return int32(b[0])<<12 | int32(b[1])<<4 | int32(b[2])>>4, nil
}

// Temperature returns the compensated temperature in degrees Celsius
// and refreshes the fine temperature used by the other channels.
func (s *BME280) Temperature() (float64, error) {
	raw, err := s.raw20(bmeRegTemp)
	if err != nil {
		return 0, err
	}
	// Bosch integer compensation, datasheet 8.2.
	t1, t2, t3 := int32(s.cal.t1), int32(s.cal.t2), int32(s.cal.t3)
	var1 := (raw>>3 - t1<<1) * t2 >> 11
	var2 := (raw>>4 - t1) * (raw>>4 - t1) >> 12 * t3 >> 14
	s.tFine = var1 + var2
	s.measured = true
	return float64((s.tFine*5+128)>>8) / 100.0, nil
}

// Pressure returns the compensated pressure in hectopascal.
func (s *BME280) Pressure() (float64, error) {
	raw, err := s.raw20(bmeRegPressure)
	if err != nil {
		return 0, err
	}
	if !s.measured {
		if _, err := s.Temperature(); err != nil {
			return 0, err
		}
	}
	p1 := int32(s.cal.p1)
	p2, p3, p4 := int32(s.cal.p2), int32(s.cal.p3), int32(s.cal.p4)
	p5, p6, p7 := int32(s.cal.p5), int32(s.cal.p6), int32(s.cal.p7)
	p8, p9 := int32(s.cal.p8), int32(s.cal.p9)

	var1 := s.tFine>>1 - 64000
	var2 := (var1 >> 2 * (var1 >> 2)) >> 11 * p6
	var2 += var1 * p5 << 1
	var2 = var2>>2 + p4<<16
	var1 = ((p3*((var1>>2*(var1>>2))>>13))>>3 + p2*var1>>1) >> 18
	var1 = (32768 + var1) * p1 >> 15
	if var1 == 0 {
		return 0, fmt.Errorf("bme280 pressure: zero compensation divisor")
	}
	p := uint32(1048576-raw-var2>>12) * 3125
	if p < 0x80000000 {
		p = p << 1 / uint32(var1)
	} else {
		p = p / uint32(var1) * 2
	}
	var1 = p9 * (int32(p>>3*(p>>3)) >> 13) >> 12
	var2 = int32(p>>2) * p8 >> 13
	p = uint32(int32(p) + (var1+var2+p7)>>4)
	return float64(p) / 100.0, nil
}

// Humidity returns the compensated relative humidity in percent,
// clamped to the 0..100 range.
func (s *BME280) Humidity() (float64, error) {
	if err := s.waitReady(bmeReadyTimeout); err != nil {
		return 0, err
	}
	b, err := s.bus.ReadBlock(s.addr, bmeRegHumidity, 2)
	if err != nil {
		return 0, err
	}
	raw := float64(uint16(b[0])<<8 | uint16(b[1]))
	if !s.measured {
		if _, err := s.Temperature(); err != nil {
			return 0, err
		}
	}
	h := float64(s.tFine) - 76800.0
	h = (raw - (float64(s.cal.h4)*64.0 + float64(s.cal.h5)/16384.0*h)) *
		(float64(s.cal.h2) / 65536.0 * (1.0 + float64(s.cal.h6)/67108864.0*h*
			(1.0+float64(s.cal.h3)/67108864.0*h)))
	h *= 1.0 - float64(s.cal.h1)*h/524288.0
	if h > 100 {
		h = 100
	} else if h < 0 {
		h = 0
	}
	return h, nil
}

// Dewpoint estimates the dewpoint in degrees Celsius. The simple
// approximation is only accurate above 50 % relative humidity.
func (s *BME280) Dewpoint() (float64, error) {
	celsius, err := s.Temperature()
	if err != nil {
		return 0, err
	}
	humidity, err := s.Humidity()
	if err != nil {
		return 0, err
	}
	return celsius - (100.0-humidity)/5.0, nil
}
