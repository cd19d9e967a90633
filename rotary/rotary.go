// Package rotary reads a quadrature rotary encoder with a push button,
// used as a volume knob.
package rotary

import "errors"

var ErrNotSupported = errors.New("rotary encoder not supported on this platform")

// Config holds configuration for a rotary encoder.
type Config struct {
	Chip      string `yaml:"chip"`
	CLKPin    int    `yaml:"clk_pin"`
	DTPin     int    `yaml:"dt_pin"`
	ButtonPin int    `yaml:"button_pin"`
}

func (c Config) enabled() bool {
	return c.CLKPin != 0 || c.DTPin != 0
}

// Handlers holds callback functions for rotary events.
type Handlers struct {
	OnTurn  func(delta int) // Called with +1 (CW) or -1 (CCW)
	OnPress func()          // Called when button pressed
}

// decoder tracks the CLK and DT levels and turns edges into steps.
type decoder struct {
	clk, dt int
}

// edge records a level change and returns the step it completes: +1 for
// clockwise, -1 for counter-clockwise, 0 for none. Direction is decided on
// the CLK rising edge.
func (d *decoder) edge(isCLK, rising bool) int {
	level := 0
	if rising {
		level = 1
	}
	if !isCLK {
		d.dt = level
		return 0
	}
	d.clk = level
	if !rising {
		return 0
	}
	if d.dt == 0 {
		return 1
	}
	return -1
}
