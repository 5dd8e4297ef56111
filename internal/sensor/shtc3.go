package sensor

import (
	"fmt"
	"time"

	"etb-service/internal/bus"
)

// SHTC3DefaultAddr is the humidity sensor's I2C address.
const SHTC3DefaultAddr = 0x70

// SHTC3 16-bit command words. Measurements use the polling variants;
// clock stretching is not reliable through the mux.
const (
	shtc3CmdWakeup         = 0x3517
	shtc3CmdSleep          = 0xB098
	shtc3CmdReset          = 0x805D
	shtc3CmdReadID         = 0xEFC8
	shtc3CmdMeasureNormal  = 0x7866 // T then RH, normal mode
	shtc3CmdMeasureLowPow  = 0x609C // T then RH, low-power mode
	shtc3CRCPolynomial     = 0x31   // x^8 + x^5 + x^4 + 1
	shtc3WakeupDelay       = time.Millisecond
	shtc3MeasurementDelay  = 50 * time.Millisecond
)

// SHTC3 drives the temperature and humidity sensor. The device sleeps
// between commands; the constructor wakes it.
type SHTC3 struct {
	bus  bus.Bus
	addr uint16

	sleep func(time.Duration)
}

func NewSHTC3(b bus.Bus, addr uint16) (*SHTC3, error) {
	s := &SHTC3{bus: b, addr: addr, sleep: time.Sleep}
	if err := s.Wakeup(); err != nil {
		return nil, err
	}
	return s, nil
}

// command issues one 16-bit command word.
func (s *SHTC3) command(cmd uint16) error {
	return s.bus.WriteByte(s.addr, byte(cmd>>8), byte(cmd))
}

// Wakeup brings the sensor out of sleep and waits for it to settle.
func (s *SHTC3) Wakeup() error {
	if err := s.command(shtc3CmdWakeup); err != nil {
		return err
	}
	s.sleep(shtc3WakeupDelay)
	return nil
}

// Sleep puts the sensor into its low-power sleep state.
func (s *SHTC3) Sleep() error {
	return s.command(shtc3CmdSleep)
}

// Reset issues a soft reset.
func (s *SHTC3) Reset() error {
	return s.command(shtc3CmdReset)
}

// ID reads the sensor's identification word.
func (s *SHTC3) ID() (uint16, error) {
	if err := s.command(shtc3CmdReadID); err != nil {
		return 0, err
	}
	return s.readWord()
}

// readWord reads a 16-bit value followed by its CRC byte.
func (s *SHTC3) readWord() (uint16, error) {
	msb, err := s.bus.ReadRaw(s.addr)
	if err != nil {
		return 0, err
	}
	lsb, err := s.bus.ReadRaw(s.addr)
	if err != nil {
		return 0, err
	}
	sum, err := s.bus.ReadRaw(s.addr)
	if err != nil {
		return 0, err
	}
	if got := crc8([]byte{msb, lsb}); got != sum {
		return 0, fmt.Errorf("shtc3 checksum mismatch: calculated %#02x, received %#02x", got, sum)
	}
	return uint16(msb)<<8 | uint16(lsb), nil
}

// crc8 is the Sensirion CRC over the two data bytes of each word:
// polynomial 0x31, initial value 0xFF.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ shtc3CRCPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Measure triggers one measurement and returns the temperature in
// degrees Celsius and the relative humidity in percent.
func (s *SHTC3) Measure(lowPower bool) (float64, float64, error) {
	cmd := uint16(shtc3CmdMeasureNormal)
	if lowPower {
		cmd = shtc3CmdMeasureLowPow
	}
	if err := s.command(cmd); err != nil {
		return 0, 0, err
	}
	s.sleep(shtc3MeasurementDelay)
	rawTemp, err := s.readWord()
	if err != nil {
		return 0, 0, err
	}
	rawHum, err := s.readWord()
	if err != nil {
		return 0, 0, err
	}
	temp := 175.0*(float64(rawTemp)/65536.0) - 45.0
	hum := 100.0 * (float64(rawHum) / 65536.0)
	return temp, hum, nil
}

// Temperature returns the temperature in degrees Celsius.
func (s *SHTC3) Temperature(lowPower bool) (float64, error) {
	t, _, err := s.Measure(lowPower)
	return t, err
}

// Humidity returns the relative humidity in percent.
func (s *SHTC3) Humidity(lowPower bool) (float64, error) {
	_, h, err := s.Measure(lowPower)
	return h, err
}
