//go:build linux

package lights

import (
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// GPIO drives lights through a GPIO character device, one output line per
// light
type GPIO struct {
	mu    sync.Mutex
	chip  *gpiod.Chip
	lines map[string]*gpiod.Line
}

// OpenGPIO requests every line in lines as an output, initially off
func OpenGPIO(chipName string, lines map[string]int) (*GPIO, error) {
	chip, err := gpiod.NewChip(chipName, gpiod.WithConsumer("sidelights"))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chipName, err)
	}

	g := &GPIO{chip: chip, lines: make(map[string]*gpiod.Line, len(lines))}
	for name, offset := range lines {
		line, err := chip.RequestLine(offset, gpiod.AsOutput(0))
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("request output pin %d for %s: %w", offset, name, err)
		}
		g.lines[name] = line
	}
	return g, nil
}

// Set implements Output
func (g *GPIO) Set(name string, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	line, ok := g.lines[name]
	if !ok {
		return fmt.Errorf("output %s not found", name)
	}
	value := 0
	if on {
		value = 1
	}
	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("set output %s: %w", name, err)
	}
	return nil
}

// Close releases all lines and the chip
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for name, line := range g.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output line %s: %w", name, err))
		}
	}
	g.lines = nil
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
