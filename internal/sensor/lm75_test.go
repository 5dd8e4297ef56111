package sensor

import (
	"errors"
	"math"
	"testing"

	"etb-service/internal/driver"
)

func TestLM75Temperature(t *testing.T) {
	b := newMockBus()
	l := NewLM75(b, LM75DefaultAddr)

	b.setRegs(LM75DefaultAddr, lm75RegTemp, 0x19, 0x10) // 25.0625 degC
	got, err := l.Temperature()
	if err != nil || math.Abs(got-25.0625) > 1e-9 {
		t.Errorf("Temperature = %v, %v, want 25.0625", got, err)
	}

	b.setRegs(LM75DefaultAddr, lm75RegTemp, 0xE7, 0x00) // -25.0 degC
	got, err = l.Temperature()
	if err != nil || math.Abs(got-(-25.0)) > 1e-9 {
		t.Errorf("Temperature = %v, %v, want -25.0", got, err)
	}
}

func TestLM75ThresholdRegisters(t *testing.T) {
	b := newMockBus()
	l := NewLM75(b, LM75DefaultAddr)

	if err := l.SetOSTemperature(80.0); err != nil {
		t.Fatalf("SetOSTemperature: %v", err)
	}
	// 80 degC left-aligned: 0x5000
	if hi, lo := b.regs[LM75DefaultAddr][lm75RegOS], b.regs[LM75DefaultAddr][lm75RegOS+1]; hi != 0x50 || lo != 0x00 {
		t.Errorf("OS register bytes = %#02x %#02x, want 0x50 0x00", hi, lo)
	}
	got, err := l.OSTemperature()
	if err != nil || math.Abs(got-80.0) > 1e-9 {
		t.Errorf("OSTemperature = %v, %v, want 80.0", got, err)
	}

	if err := l.SetHystTemperature(75.0); err != nil {
		t.Fatalf("SetHystTemperature: %v", err)
	}
	got, err = l.HystTemperature()
	if err != nil || math.Abs(got-75.0) > 1e-9 {
		t.Errorf("HystTemperature = %v, %v, want 75.0", got, err)
	}
}

func TestLM75ConfigRoundTrip(t *testing.T) {
	b := newMockBus()
	l := NewLM75(b, LM75DefaultAddr)

	want := LM75Config{Shutdown: true, ActiveHigh: true, Queue: Queue6}
	if err := l.SetConfig(want); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if got := b.regs[LM75DefaultAddr][lm75RegConfig]; got != 0x1D {
		t.Errorf("config register = %#02x, want 0x1D", got)
	}
	got, err := l.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if got != want {
		t.Errorf("Config = %+v, want %+v", got, want)
	}
}

func TestLM75SetConfigRejectsBadQueue(t *testing.T) {
	b := newMockBus()
	l := NewLM75(b, LM75DefaultAddr)

	err := l.SetConfig(LM75Config{Queue: FaultQueue(4)})
	if !errors.Is(err, driver.ErrInvalidArgument) {
		t.Fatalf("SetConfig error = %v, want ErrInvalidArgument", err)
	}
	if len(b.writes) != 0 {
		t.Errorf("rejected config still wrote the register")
	}
}

func TestFaultQueueDepth(t *testing.T) {
	depths := map[FaultQueue]int{Queue1: 1, Queue2: 2, Queue4: 4, Queue6: 6}
	for q, want := range depths {
		if got := q.Depth(); got != want {
			t.Errorf("Depth(%d) = %d, want %d", q, got, want)
		}
	}
}
