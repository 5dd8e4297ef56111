package sensor

import (
	"fmt"
	"math"

	"etb-service/internal/driver"
)

// 103JT-025 thermistor: 10k at 25 degC in a 10k balance divider fed
// from the Pi's 5 V rail, measured through the bench ADC.
const (
	jt103Beta      = 3435.0
	jt103RRoom     = 10000.0
	jt103RBalance  = 10000.0
	jt103KelvinOff = 273.15
	jt103TempRoom  = jt103KelvinOff + 25.0

	// The ADC full scale (+/-4.096 V at gain 1) does not match the
	// divider's supply, which measures about 5.22 V on the bench.
	jt103MaxADC = 32767.0 * (5.22 / 4.096)
)

// AnalogReader is the ADC input a thermistor hangs off.
type AnalogReader interface {
	ReadChannel(input driver.ADCInput, gain driver.ADCGain, rate driver.ADCDataRate) (int16, error)
}

// JT103 converts a thermistor divider reading into a temperature.
type JT103 struct {
	adc   AnalogReader
	input driver.ADCInput
}

func NewJT103(adc AnalogReader, input driver.ADCInput) *JT103 {
	return &JT103{adc: adc, input: input}
}

// Temperature returns the thermistor temperature in degrees Celsius
// using the beta equation.
func (j *JT103) Temperature() (float64, error) {
	raw, err := j.adc.ReadChannel(j.input, driver.Gain1, driver.Rate128SPS)
	if err != nil {
		return 0, err
	}
	if raw <= 0 {
		return 0, fmt.Errorf("thermistor reading %d: open or shorted divider", raw)
	}
	rTherm := jt103RBalance / (jt103MaxADC/float64(raw) - 1.0)
	kelvin := jt103Beta * jt103TempRoom / (jt103Beta + jt103TempRoom*math.Log(rTherm/jt103RRoom))
	return kelvin - jt103KelvinOff, nil
}
