// Package gpio wraps the Linux GPIO character device. The chip is
// opened explicitly with its name; there is no process-wide pin
// numbering state.
package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Line is a single requested GPIO line.
type Line interface {
	Set(value bool) error
	Get() (bool, error)
	Close() error
}

// Controller hands out lines from one GPIO chip.
type Controller struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines []*line
}

// NewController opens the named chip (e.g. "gpiochip0").
func NewController(chipName, consumer string) (*Controller, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open GPIO chip %s: %w", chipName, err)
	}
	return &Controller{chip: chip}, nil
}

// RequestOutput requests the line at offset as an output driven to the
// initial value.
func (c *Controller) RequestOutput(offset int, initial bool) (Line, error) {
	v := 0
	if initial {
		v = 1
	}
	l, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(v))
	if err != nil {
		return nil, fmt.Errorf("request GPIO line %d as output: %w", offset, err)
	}
	ln := &line{line: l}
	c.mu.Lock()
	c.lines = append(c.lines, ln)
	c.mu.Unlock()
	return ln, nil
}

// RequestInput requests the line at offset as an input.
func (c *Controller) RequestInput(offset int) (Line, error) {
	l, err := c.chip.RequestLine(offset, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("request GPIO line %d as input: %w", offset, err)
	}
	ln := &line{line: l}
	c.mu.Lock()
	c.lines = append(c.lines, ln)
	c.mu.Unlock()
	return ln, nil
}

// Close releases all requested lines and the chip.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ln := range c.lines {
		ln.Close()
	}
	c.lines = nil
	return c.chip.Close()
}

type line struct {
	mu   sync.Mutex
	line *gpiocdev.Line
}

func (l *line) Set(value bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := 0
	if value {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("set GPIO line: %w", err)
	}
	return nil
}

func (l *line) Get() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.line.Value()
	if err != nil {
		return false, fmt.Errorf("read GPIO line: %w", err)
	}
	return v != 0, nil
}

func (l *line) Close() error {
	return l.line.Close()
}
