package driver

import (
	"fmt"
	"time"

	"etb-service/internal/bus"
)

// ADS1115DefaultAddr is the onboard ADC's I2C address.
const ADS1115DefaultAddr = 0x48

// ADS1115 register map (16-bit, big-endian).
const (
	adsRegConversion = 0x00
	adsRegConfig     = 0x01
)

const (
	adsOSStart        = 0x8000
	adsMuxOffset      = 12
	adsPgaOffset      = 9
	adsModeSingleShot = 0x0100
	adsDrOffset       = 5
	adsCompDisable    = 0x0003
)

// ADCInput selects the input multiplexer configuration: four
// differential pairs and four single-ended inputs.
type ADCInput byte

const (
	InputDiff0_1 ADCInput = iota
	InputDiff0_3
	InputDiff1_3
	InputDiff2_3
	InputSingle0
	InputSingle1
	InputSingle2
	InputSingle3
)

func (in ADCInput) valid() bool { return in <= InputSingle3 }

// ADCGain selects the programmable gain amplifier's full-scale range.
type ADCGain byte

const (
	Gain2_3 ADCGain = iota // +/- 6.144 V
	Gain1                  // +/- 4.096 V
	Gain2                  // +/- 2.048 V
	Gain4                  // +/- 1.024 V
	Gain8                  // +/- 0.512 V
	Gain16                 // +/- 0.256 V
)

func (g ADCGain) valid() bool { return g <= Gain16 }

// ADCDataRate selects the conversion rate.
type ADCDataRate byte

const (
	Rate8SPS ADCDataRate = iota
	Rate16SPS
	Rate32SPS
	Rate64SPS
	Rate128SPS
	Rate250SPS
	Rate475SPS
	Rate860SPS
)

func (r ADCDataRate) valid() bool { return r <= Rate860SPS }

// samplesPerSecond is used to size the conversion wait.
func (r ADCDataRate) samplesPerSecond() int {
	return [...]int{8, 16, 32, 64, 128, 250, 475, 860}[r]
}

// ADS1115 drives the bench's 16-bit ADC in single-shot mode.
type ADS1115 struct {
	bus  bus.Bus
	addr uint16

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

func NewADS1115(b bus.Bus, addr uint16) *ADS1115 {
	return &ADS1115{bus: b, addr: addr, sleep: time.Sleep}
}

// ReadChannel starts a single-shot conversion on the given input and
// returns the signed 16-bit result. It blocks for one conversion
// period plus settling slack.
func (a *ADS1115) ReadChannel(input ADCInput, gain ADCGain, rate ADCDataRate) (int16, error) {
	if !input.valid() {
		return 0, fmt.Errorf("ADC input code %d: %w", input, ErrInvalidArgument)
	}
	if !gain.valid() {
		return 0, fmt.Errorf("ADC gain code %d: %w", gain, ErrInvalidArgument)
	}
	if !rate.valid() {
		return 0, fmt.Errorf("ADC data rate code %d: %w", rate, ErrInvalidArgument)
	}
	config := uint16(adsOSStart | adsModeSingleShot | adsCompDisable)
	config |= uint16(input) << adsMuxOffset
	config |= uint16(gain) << adsPgaOffset
	config |= uint16(rate) << adsDrOffset
	if err := bus.WriteWordBE(a.bus, a.addr, adsRegConfig, config); err != nil {
		return 0, err
	}
	a.sleep(time.Second/time.Duration(rate.samplesPerSecond()) + 100*time.Microsecond)
	return bus.ReadWordS16BE(a.bus, a.addr, adsRegConversion)
}
