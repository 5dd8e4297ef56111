package driver

import (
	"errors"
	"math"
	"testing"
)

func TestINA219CalibrateLowCurrent(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)

	if err := i.Calibrate(CalLowCurrent); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if !i.Calibrated() {
		t.Errorf("Calibrated() = false after Calibrate")
	}
	if got := b.words[INA219DefaultAddr][inaRegCalibration]; got != 8192 {
		t.Errorf("calibration register = %d, want 8192", got)
	}
	// 16 V range, 40 mV PGA, 12-bit/1-sample ADCs, shunt+bus continuous.
	if got := b.words[INA219DefaultAddr][inaRegConfig]; got != 0x0447 {
		t.Errorf("config register = %#06x, want 0x0447", got)
	}
}

func TestINA219CalibrateHighCurrent(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)

	if err := i.Calibrate(CalHighCurrent); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if got := b.words[INA219DefaultAddr][inaRegCalibration]; got != 13434 {
		t.Errorf("calibration register = %d, want 13434", got)
	}
	// Same as the low-current profile but with the 320 mV PGA.
	if got := b.words[INA219DefaultAddr][inaRegConfig]; got != 0x1C47 {
		t.Errorf("config register = %#06x, want 0x1C47", got)
	}
}

func TestINA219CalibrateRejectsUnknownProfile(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)

	err := i.Calibrate(CalibrationProfile(9))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Calibrate(9) error = %v, want ErrInvalidArgument", err)
	}
	if len(b.writes()) != 0 {
		t.Errorf("rejected profile still wrote %d registers", len(b.writes()))
	}
	if i.Calibrated() {
		t.Errorf("Calibrated() = true after rejected profile")
	}
}

func TestINA219RejectsReadsBeforeCalibration(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)

	if _, err := i.CurrentMA(); !errors.Is(err, ErrNotCalibrated) {
		t.Errorf("CurrentMA error = %v, want ErrNotCalibrated", err)
	}
	if _, err := i.PowerW(); !errors.Is(err, ErrNotCalibrated) {
		t.Errorf("PowerW error = %v, want ErrNotCalibrated", err)
	}
	if _, err := i.PowerMW(); !errors.Is(err, ErrNotCalibrated) {
		t.Errorf("PowerMW error = %v, want ErrNotCalibrated", err)
	}
	// Voltage readings carry fixed scale factors and stay available.
	b.setWord(INA219DefaultAddr, inaRegBus, 6600)
	if v, err := i.BusVoltage(); err != nil || math.Abs(v-3.3) > 1e-9 {
		t.Errorf("BusVoltage = %v, %v, want 3.3", v, err)
	}
}

func TestINA219CurrentScaling(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)
	if err := i.Calibrate(CalLowCurrent); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	// 50 uA per bit.
	b.setWord(INA219DefaultAddr, inaRegCurrent, 100)
	if ma, err := i.CurrentMA(); err != nil || math.Abs(ma-5.0) > 1e-9 {
		t.Errorf("CurrentMA(raw 100) = %v, %v, want 5.0", ma, err)
	}

	// Backfeed reads negative, not as a huge positive current.
	b.setWord(INA219DefaultAddr, inaRegCurrent, 0x8000)
	if ma, err := i.CurrentMA(); err != nil || math.Abs(ma-(-1638.4)) > 1e-9 {
		t.Errorf("CurrentMA(raw 0x8000) = %v, %v, want -1638.4", ma, err)
	}
}

func TestINA219PowerScaling(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)
	if err := i.Calibrate(CalHighCurrent); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	b.setWord(INA219DefaultAddr, inaRegPower, 1000)
	if w, err := i.PowerW(); err != nil || math.Abs(w-3.048) > 1e-9 {
		t.Errorf("PowerW(raw 1000) = %v, %v, want 3.048", w, err)
	}
	if mw, err := i.PowerMW(); err != nil || math.Abs(mw-3048) > 1e-6 {
		t.Errorf("PowerMW(raw 1000) = %v, %v, want 3048", mw, err)
	}
}

func TestINA219BusVoltageDiscardsStatusBits(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)

	// 12.000 V with the overflow flag set in the discarded low bit.
	b.setWord(INA219DefaultAddr, inaRegBus, 12000<<1|0x01)
	if v, err := i.BusVoltage(); err != nil || math.Abs(v-12.0) > 1e-9 {
		t.Errorf("BusVoltage = %v, %v, want 12.0", v, err)
	}
}

func TestINA219ShuntVoltageSigned(t *testing.T) {
	b := newMockBus()
	i := NewINA219(b, INA219DefaultAddr)

	b.setWord(INA219DefaultAddr, inaRegShunt, 0xFFFF) // -1 LSB
	v, err := i.ShuntVoltage()
	if err != nil || math.Abs(v-(-0.001)) > 1e-12 {
		t.Errorf("ShuntVoltage = %v, %v, want -0.001", v, err)
	}
}

func TestINA219CalibratePropagatesBusError(t *testing.T) {
	b := newMockBus()
	b.fail = func(op busOp) error {
		if op.kind == "wblk" && op.reg == inaRegCalibration {
			return errBusNack
		}
		return nil
	}
	i := NewINA219(b, INA219DefaultAddr)

	if err := i.Calibrate(CalLowCurrent); !errors.Is(err, errBusNack) {
		t.Fatalf("Calibrate error = %v, want bus failure", err)
	}
	if i.Calibrated() {
		t.Errorf("Calibrated() = true after failed calibration")
	}
}
