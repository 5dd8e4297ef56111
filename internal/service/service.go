// Package service wires the bench hardware to Redis and runs the
// periodic monitor loop.
package service

import (
	"fmt"
	"sync"
	"time"

	"etb-service/internal/bench"
	"etb-service/internal/bus"
	"etb-service/internal/gpio"
	"etb-service/internal/logger"
	"etb-service/internal/telemetry"
	"etb-service/internal/vsm"
)

const DefaultMonitorInterval = 1 * time.Second

// Config holds the service wiring picked up from flags.
type Config struct {
	RedisHost       string
	RedisPort       int
	I2CBus          string
	GPIOChip        string
	EnableOffsets   [vsm.RailCount]int
	MonitorInterval time.Duration
}

// Rails is the slice of bench operations the service drives. The
// concrete implementation is *bench.Bench.
type Rails interface {
	Enable(rail int) error
	Disable(rail int) error
	IntendedEnabled(rail int) (bool, error)
	SetOutputVoltage(rail int, volts float64) error
	PowerGood(rail int) (bool, error)
	Voltage(rail int) (float64, error)
	CurrentMA(rail int) (float64, error)
	PowerMW(rail int) (float64, error)
	SelfCheck() (bench.Report, error)
	DisableAll() error
}

// Publisher is the slice of Redis messaging the service uses. The
// concrete implementation is *telemetry.RedisClient.
type Publisher interface {
	Connect() error
	StartListening()
	PublishReadings(rail int, volts, ma, mw float64) error
	PublishRailState(rail int, enabled, powerGood bool) error
	Close() error
}

type System struct {
	cfg    Config
	logger *logger.Logger

	bus   bus.Bus
	gpio  *gpio.Controller
	rails Rails
	redis Publisher

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSystem(cfg Config, l *logger.Logger) *System {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	return &System{
		cfg:      cfg,
		logger:   l,
		stopChan: make(chan struct{}),
	}
}

func (s *System) Start() error {
	s.logger.Infof("Starting bench system")

	b, err := bus.Open(s.cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	s.bus = b

	ctrl, err := gpio.NewController(s.cfg.GPIOChip, "etb-service")
	if err != nil {
		return fmt.Errorf("failed to open GPIO chip: %w", err)
	}
	s.gpio = ctrl

	var enable [vsm.RailCount]gpio.Line
	for i, offset := range s.cfg.EnableOffsets {
		line, err := ctrl.RequestOutput(offset, false)
		if err != nil {
			return fmt.Errorf("failed to request enable line for rail %d: %w", i, err)
		}
		enable[i] = line
	}

	bn, err := bench.New(b, enable)
	if err != nil {
		return fmt.Errorf("failed to initialize bench: %w", err)
	}
	s.rails = bn

	report, err := bn.SelfCheck()
	if err != nil {
		s.logger.Warnf("Self check did not complete: %v", err)
	}
	s.logSelfCheck(report)

	s.redis = telemetry.NewRedisClient(s.cfg.RedisHost, s.cfg.RedisPort, s.logger, telemetry.Callbacks{
		EnableCallback:     s.handleEnable,
		DisableCallback:    s.handleDisable,
		SetVoltageCallback: s.handleSetVoltage,
	})

	if err := s.redis.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	for rail := 0; rail < vsm.RailCount; rail++ {
		s.publishRailState(rail)
	}

	s.redis.StartListening()

	s.wg.Add(1)
	go s.monitor()

	s.logger.Infof("System started successfully")
	return nil
}

func (s *System) logSelfCheck(report bench.Report) {
	if report.Ok() {
		s.logger.Infof("Self check passed, all devices responding")
		return
	}
	if !report.Mux {
		s.logger.Warnf("Self check: I2C multiplexer not responding, rails unreachable")
	}
	if !report.ADC {
		s.logger.Warnf("Self check: ADC not responding")
	}
	for i, ok := range report.AuxMeters {
		if !ok {
			s.logger.Warnf("Self check: aux wattmeter %d not responding", i)
		}
	}
	for i, rail := range report.Rails {
		if !rail.Controller {
			s.logger.Warnf("Self check: rail %d controller not responding", i)
		}
		if !rail.Meter {
			s.logger.Warnf("Self check: rail %d wattmeter not responding", i)
		}
	}
}

func (s *System) handleEnable(rail int) error {
	s.logger.Infof("Enabling rail %d", rail)
	if err := s.rails.Enable(rail); err != nil {
		return err
	}
	s.publishRailState(rail)
	return nil
}

func (s *System) handleDisable(rail int) error {
	s.logger.Infof("Disabling rail %d", rail)
	if err := s.rails.Disable(rail); err != nil {
		return err
	}
	s.publishRailState(rail)
	return nil
}

func (s *System) handleSetVoltage(rail int, volts float64) error {
	s.logger.Infof("Setting rail %d to %.3f V", rail, volts)
	return s.rails.SetOutputVoltage(rail, volts)
}

func (s *System) publishRailState(rail int) {
	enabled, err := s.rails.IntendedEnabled(rail)
	if err != nil {
		s.logger.Warnf("Failed to read rail %d enable state: %v", rail, err)
		return
	}
	powerGood, err := s.rails.PowerGood(rail)
	if err != nil {
		s.logger.Warnf("Failed to read rail %d power good: %v", rail, err)
		return
	}
	if err := s.redis.PublishRailState(rail, enabled, powerGood); err != nil {
		s.logger.Warnf("Failed to publish rail %d state: %v", rail, err)
	}
}

// monitor periodically publishes readings for every rail.
func (s *System) monitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			for rail := 0; rail < vsm.RailCount; rail++ {
				s.publishReadings(rail)
			}
		}
	}
}

func (s *System) publishReadings(rail int) {
	volts, err := s.rails.Voltage(rail)
	if err != nil {
		s.logger.Warnf("Failed to read rail %d voltage: %v", rail, err)
		return
	}
	ma, err := s.rails.CurrentMA(rail)
	if err != nil {
		s.logger.Warnf("Failed to read rail %d current: %v", rail, err)
		return
	}
	mw, err := s.rails.PowerMW(rail)
	if err != nil {
		s.logger.Warnf("Failed to read rail %d power: %v", rail, err)
		return
	}
	if err := s.redis.PublishReadings(rail, volts, ma, mw); err != nil {
		s.logger.Warnf("Failed to publish rail %d readings: %v", rail, err)
	}
	s.publishRailState(rail)
}

// Shutdown stops the monitor loop, switches every rail off and
// releases the bus and GPIO lines.
func (s *System) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()

	if s.rails != nil {
		if err := s.rails.DisableAll(); err != nil {
			s.logger.Warnf("Failed to disable rails on shutdown: %v", err)
		}
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.gpio != nil {
		s.gpio.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
}
