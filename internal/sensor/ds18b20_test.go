package sensor

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"etb-service/internal/driver"
)

const (
	w1Ready = "2d 00 4b 46 ff ff 02 10 19 : crc=19 YES\n" +
		"2d 00 4b 46 ff ff 02 10 19 t=22562\n"
	w1BadCRC = "2d 00 4b 46 ff ff 02 10 19 : crc=19 NO\n" +
		"2d 00 4b 46 ff ff 02 10 19 t=22562\n"
	w1Zeroed = "00 00 00 00 00 00 00 00 00 : crc=00 YES\n" +
		"00 00 00 00 00 00 00 00 00 t=0\n"
)

func writeW1File(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "w1_slave")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sensor file: %v", err)
	}
	return path
}

func TestDS18B20Temperature(t *testing.T) {
	d := NewDS18B20(writeW1File(t, w1Ready))
	got, err := d.Temperature()
	if err != nil {
		t.Fatalf("Temperature: %v", err)
	}
	if math.Abs(got-22.562) > 1e-9 {
		t.Errorf("Temperature = %v, want 22.562", got)
	}
}

func TestDS18B20RetriesUntilReady(t *testing.T) {
	path := writeW1File(t, w1BadCRC)
	d := NewDS18B20(path)
	var sleeps int
	d.sleep = func(time.Duration) {
		sleeps++
		if err := os.WriteFile(path, []byte(w1Ready), 0o644); err != nil {
			t.Fatalf("rewrite sensor file: %v", err)
		}
	}

	got, err := d.Temperature()
	if err != nil {
		t.Fatalf("Temperature: %v", err)
	}
	if math.Abs(got-22.562) > 1e-9 {
		t.Errorf("Temperature = %v, want 22.562", got)
	}
	if sleeps != 1 {
		t.Errorf("slept %d times, want 1", sleeps)
	}
}

func TestDS18B20GivesUpAfterMaxAttempts(t *testing.T) {
	for name, content := range map[string]string{
		"bad crc":  w1BadCRC,
		"all zero": w1Zeroed,
	} {
		d := NewDS18B20(writeW1File(t, content))
		var sleeps int
		d.sleep = func(time.Duration) { sleeps++ }

		if _, err := d.Temperature(); !errors.Is(err, driver.ErrTimeout) {
			t.Errorf("%s: error = %v, want ErrTimeout", name, err)
		}
	}
}

func TestDS18B20RejectsMissingReading(t *testing.T) {
	d := NewDS18B20(writeW1File(t,
		"2d 00 4b 46 ff ff 02 10 19 : crc=19 YES\n"+
			"2d 00 4b 46 ff ff 02 10 19\n"))
	if _, err := d.Temperature(); err == nil {
		t.Fatalf("Temperature with no t= field: want error")
	}
}

func TestDS18B20PropagatesReadError(t *testing.T) {
	d := NewDS18B20(filepath.Join(t.TempDir(), "missing"))
	if _, err := d.Temperature(); err == nil {
		t.Fatalf("Temperature on missing file: want error")
	}
}
