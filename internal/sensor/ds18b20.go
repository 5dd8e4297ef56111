package sensor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"etb-service/internal/driver"
)

// DS18B20 reads a 1-wire temperature probe through the kernel's
// w1-therm sysfs interface, e.g.
// /sys/bus/w1/devices/28-011927fdb603/w1_slave.
type DS18B20 struct {
	path string

	sleep func(time.Duration)
}

const (
	ds18MaxAttempts   = 10
	ds18RetryInterval = 250 * time.Millisecond
)

func NewDS18B20(path string) *DS18B20 {
	return &DS18B20{path: path, sleep: time.Sleep}
}

// ready reports whether the two-line scratchpad dump holds a valid
// conversion: the CRC status must read YES and the scratchpad must not
// be all zeros, which the bus returns while a conversion is pending.
func ready(lines []string) bool {
	if len(lines) < 2 {
		return false
	}
	first := strings.TrimSpace(lines[0])
	if !strings.HasSuffix(first, "YES") {
		return false
	}
	return !strings.Contains(lines[0], "00 00 00 00 00 00 00 00 00")
}

func (d *DS18B20) readLines() ([]string, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("ds18b20 read: %w", err)
	}
	return strings.Split(string(data), "\n"), nil
}

// Temperature returns the probe temperature in degrees Celsius. While
// the sensor reports a pending or corrupt conversion the read is
// retried on a 250 ms cadence.
func (d *DS18B20) Temperature() (float64, error) {
	lines, err := d.readLines()
	if err != nil {
		return 0, err
	}
	attempts := 0
	for !ready(lines) {
		attempts++
		if attempts >= ds18MaxAttempts {
			return 0, fmt.Errorf("ds18b20 conversion after %d attempts: %w", attempts, driver.ErrTimeout)
		}
		d.sleep(ds18RetryInterval)
		if lines, err = d.readLines(); err != nil {
			return 0, err
		}
	}
	idx := strings.Index(lines[1], "t=")
	if idx < 0 {
		return 0, fmt.Errorf("ds18b20 read: no temperature in %q", lines[1])
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(lines[1][idx+2:]), 64)
	if err != nil {
		return 0, fmt.Errorf("ds18b20 read: %w", err)
	}
	return milli / 1000.0, nil
}
