// Package button turns GPIO push buttons into tag instructions.
package button

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/warthog618/gpio"
)

const defaultDebounce = 200 * time.Millisecond

// Binding maps one button to the tag text it sends.
type Binding struct {
	Pin  uint8  `yaml:"pin"`
	Text string `yaml:"text"` // any tag text, e.g. "command:next"
}

// Config holds push button configuration.
type Config struct {
	Pins       []Binding `yaml:"pins"`
	DebounceMS int       `yaml:"debounce_ms"`
}

// Buttons watches the configured pins.
type Buttons struct {
	pins     []*gpio.Pin
	bindings []Binding
	debounce time.Duration
	onPress  func(text string)
	now      func() time.Time

	mu   sync.Mutex
	last []time.Time
}

// New opens the GPIO block and watches every bound pin for a falling edge.
// Returns nil if no buttons are configured.
func New(cfg Config, onPress func(text string)) (*Buttons, error) {
	if len(cfg.Pins) == 0 {
		return nil, nil
	}
	for _, bnd := range cfg.Pins {
		if bnd.Text == "" {
			return nil, fmt.Errorf("button on pin %d has no text", bnd.Pin)
		}
	}

	if err := gpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	b := newButtons(cfg, onPress)
	for i, bnd := range cfg.Pins {
		unexport(bnd.Pin)
		pin := gpio.NewPin(int(bnd.Pin))
		pin.Input()
		pin.PullUp()
		i := i
		if err := pin.Watch(gpio.EdgeFalling, func(*gpio.Pin) { b.press(i) }); err != nil {
			b.Release()
			return nil, fmt.Errorf("watch pin %d: %w", bnd.Pin, err)
		}
		b.pins = append(b.pins, pin)
		log.Printf("Button on pin %d sends %q", bnd.Pin, bnd.Text)
	}
	return b, nil
}

func newButtons(cfg Config, onPress func(text string)) *Buttons {
	debounce := defaultDebounce
	if cfg.DebounceMS > 0 {
		debounce = time.Duration(cfg.DebounceMS) * time.Millisecond
	}
	return &Buttons{
		bindings: cfg.Pins,
		debounce: debounce,
		onPress:  onPress,
		now:      time.Now,
		last:     make([]time.Time, len(cfg.Pins)),
	}
}

// unexport frees a pin left exported in sysfs by another program, otherwise
// Watch fails with EBUSY.
func unexport(pin uint8) {
	f, err := os.OpenFile("/sys/class/gpio/unexport", os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "%d\n", pin)
	f.Close()
}

func (b *Buttons) press(i int) {
	now := b.now()
	b.mu.Lock()
	if !b.last[i].IsZero() && now.Sub(b.last[i]) < b.debounce {
		b.mu.Unlock()
		return
	}
	b.last[i] = now
	b.mu.Unlock()

	if b.onPress != nil {
		b.onPress(b.bindings[i].Text)
	}
}

// Release stops watching and closes the GPIO block.
func (b *Buttons) Release() error {
	for _, pin := range b.pins {
		pin.Unwatch()
	}
	return gpio.Close()
}
