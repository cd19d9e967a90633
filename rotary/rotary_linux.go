//go:build linux

package rotary

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Rotary handles a rotary encoder input device.
type Rotary struct {
	dtLine  *gpiocdev.Line
	clkLine *gpiocdev.Line
	btnLine *gpiocdev.Line
	mu      sync.Mutex
	dec     decoder
	pos     int64
	onTurn  func(delta int)
	onPress func()
}

// New creates a new rotary encoder handler.
// Returns nil if config has no pins specified (CLKPin and DTPin both 0).
func New(cfg Config, handlers Handlers) (*Rotary, error) {
	if !cfg.enabled() {
		return nil, nil
	}

	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}

	debounceRotary := 250 * time.Microsecond
	debounceButton := 2 * time.Millisecond

	r := &Rotary{
		onTurn:  handlers.OnTurn,
		onPress: handlers.OnPress,
	}

	var err error

	r.dtLine, err = gpiocdev.RequestLine(cfg.Chip, cfg.DTPin,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(debounceRotary),
		gpiocdev.WithEventHandler(r.handleEvent))
	if err != nil {
		return nil, fmt.Errorf("request dt line %d: %w", cfg.DTPin, err)
	}

	r.clkLine, err = gpiocdev.RequestLine(cfg.Chip, cfg.CLKPin,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(debounceRotary),
		gpiocdev.WithEventHandler(r.handleEvent))
	if err != nil {
		r.dtLine.Close()
		return nil, fmt.Errorf("request clk line %d: %w", cfg.CLKPin, err)
	}

	if cfg.ButtonPin > 0 {
		r.btnLine, err = gpiocdev.RequestLine(cfg.Chip, cfg.ButtonPin,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithDebounce(debounceButton),
			gpiocdev.WithEventHandler(r.handleButton))
		if err != nil {
			r.dtLine.Close()
			r.clkLine.Close()
			return nil, fmt.Errorf("request button line %d: %w", cfg.ButtonPin, err)
		}
	}

	return r, nil
}

func (r *Rotary) handleEvent(evt gpiocdev.LineEvent) {
	var rising bool
	switch evt.Type {
	case gpiocdev.LineEventRisingEdge:
		rising = true
	case gpiocdev.LineEventFallingEdge:
	default:
		return
	}

	r.mu.Lock()
	delta := r.dec.edge(evt.Offset == r.clkLine.Offset(), rising)
	r.mu.Unlock()
	if delta == 0 {
		return
	}

	atomic.AddInt64(&r.pos, int64(delta))
	if r.onTurn != nil {
		r.onTurn(delta)
	}
}

func (r *Rotary) handleButton(evt gpiocdev.LineEvent) {
	if r.onPress != nil {
		log.Println("Rotary button pressed")
		r.onPress()
	}
}

// Position returns the current encoder position.
func (r *Rotary) Position() int64 {
	return atomic.LoadInt64(&r.pos)
}

// Release releases GPIO resources.
func (r *Rotary) Release() error {
	if r.dtLine != nil {
		r.dtLine.Close()
	}
	if r.clkLine != nil {
		r.clkLine.Close()
	}
	if r.btnLine != nil {
		r.btnLine.Close()
	}
	return nil
}
