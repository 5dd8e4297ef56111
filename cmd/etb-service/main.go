package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"etb-service/internal/logger"
	"etb-service/internal/service"
	"etb-service/internal/vsm"
)

func main() {
	var serviceLogLevel int
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	var redisHost string
	var redisPort int
	flag.StringVar(&redisHost, "redis-host", "127.0.0.1", "Redis host")
	flag.IntVar(&redisPort, "redis-port", 6379, "Redis port")

	var i2cBus, gpioChip, enableOffsets string
	var monitorInterval time.Duration
	flag.StringVar(&i2cBus, "i2c-bus", "1", "I2C bus name or number")
	flag.StringVar(&gpioChip, "gpio-chip", "gpiochip0", "GPIO chip with the rail enable lines")
	flag.StringVar(&enableOffsets, "enable-offsets", "", "Comma-separated GPIO offsets of the rail enable lines")
	flag.DurationVar(&monitorInterval, "monitor-interval", service.DefaultMonitorInterval, "Interval between rail telemetry sweeps")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	l := logger.New(stdLogger, logger.Level(serviceLogLevel))

	offsets, err := parseEnableOffsets(enableOffsets)
	if err != nil {
		l.Fatalf("Invalid -enable-offsets: %v", err)
	}

	l.Infof("Starting ETB service...")

	system := service.NewSystem(service.Config{
		RedisHost:       redisHost,
		RedisPort:       redisPort,
		I2CBus:          i2cBus,
		GPIOChip:        gpioChip,
		EnableOffsets:   offsets,
		MonitorInterval: monitorInterval,
	}, l)

	if err := system.Start(); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	system.Shutdown()
	l.Infof("Shutdown complete")
}

func parseEnableOffsets(s string) ([vsm.RailCount]int, error) {
	if s == "" {
		return vsm.DefaultEnableOffsets, nil
	}
	parts := strings.Split(s, ",")
	var offsets [vsm.RailCount]int
	if len(parts) != len(offsets) {
		return offsets, fmt.Errorf("expected %d offsets, got %d", len(offsets), len(parts))
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return offsets, fmt.Errorf("offset %q: %w", p, err)
		}
		offsets[i] = v
	}
	return offsets, nil
}
