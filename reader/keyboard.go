package reader

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/kenshaw/evdev"
)

// Linux input key codes used by keyboard-wedge readers.
const (
	keyEnter      = 28
	keyLeftShift  = 42
	keyRightShift = 54
)

// US layout: key code -> unshifted, shifted.
var keymap = map[uint16][2]rune{
	2: {'1', '!'}, 3: {'2', '@'}, 4: {'3', '#'}, 5: {'4', '$'}, 6: {'5', '%'},
	7: {'6', '^'}, 8: {'7', '&'}, 9: {'8', '*'}, 10: {'9', '('}, 11: {'0', ')'},
	12: {'-', '_'}, 13: {'=', '+'},
	16: {'q', 'Q'}, 17: {'w', 'W'}, 18: {'e', 'E'}, 19: {'r', 'R'}, 20: {'t', 'T'},
	21: {'y', 'Y'}, 22: {'u', 'U'}, 23: {'i', 'I'}, 24: {'o', 'O'}, 25: {'p', 'P'},
	26: {'[', '{'}, 27: {']', '}'},
	30: {'a', 'A'}, 31: {'s', 'S'}, 32: {'d', 'D'}, 33: {'f', 'F'}, 34: {'g', 'G'},
	35: {'h', 'H'}, 36: {'j', 'J'}, 37: {'k', 'K'}, 38: {'l', 'L'},
	39: {';', ':'}, 40: {'\'', '"'}, 41: {'`', '~'}, 43: {'\\', '|'},
	44: {'z', 'Z'}, 45: {'x', 'X'}, 46: {'c', 'C'}, 47: {'v', 'V'}, 48: {'b', 'B'},
	49: {'n', 'N'}, 50: {'m', 'M'},
	51: {',', '<'}, 52: {'.', '>'}, 53: {'/', '?'}, 57: {' ', ' '},
}

// lineBuilder turns key presses into text lines.
type lineBuilder struct {
	shift bool
	buf   []rune
}

// key handles one key event (value 1 press, 0 release, 2 repeat) and returns
// a completed line on Enter.
func (l *lineBuilder) key(code uint16, value int32) (string, bool) {
	if code == keyLeftShift || code == keyRightShift {
		l.shift = value != 0
		return "", false
	}
	if value != 1 {
		return "", false
	}
	if code == keyEnter {
		line := string(l.buf)
		l.buf = l.buf[:0]
		return line, line != ""
	}
	if r, ok := keymap[code]; ok {
		if l.shift {
			l.buf = append(l.buf, r[1])
		} else {
			l.buf = append(l.buf, r[0])
		}
	}
	return "", false
}

// Keyboard is a Source for USB keyboard-wedge readers that type the tag's
// text followed by Enter. Each line becomes a CardPresent carrying the text
// and an immediate CardRemoved.
type Keyboard struct {
	device *evdev.Evdev
	reader *textReader
	source chan SourceEvent
	cancel context.CancelFunc
	once   sync.Once
}

// NewKeyboard opens a keyboard reader on the specified input device.
func NewKeyboard(device, name string) (*Keyboard, error) {
	dev, err := evdev.OpenFile(device)
	if err != nil {
		return nil, fmt.Errorf("open evdev %s: %w", device, err)
	}

	log.Printf("Opened keyboard device: %s", dev.Name())
	log.Printf("Vendor: 0x%04x, Product: 0x%04x", dev.ID().Vendor, dev.ID().Product)

	if name == "" {
		name = dev.Name()
	}
	ctx, cancel := context.WithCancel(context.Background())
	k := &Keyboard{
		device: dev,
		reader: newTextReader(name),
		source: make(chan SourceEvent, 1),
		cancel: cancel,
	}
	k.source <- SourceEvent{Type: ReaderAttached, Reader: k.reader}
	go k.poll(ctx)
	return k, nil
}

func (k *Keyboard) poll(ctx context.Context) {
	defer close(k.source)
	defer close(k.reader.events)

	ch := k.device.Poll(ctx)
	var line lineBuilder
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			if event == nil {
				k.reader.events <- Event{Type: ReaderEnd}
				return
			}
			switch event.Type.(type) {
			case evdev.KeyType:
				text, ok := line.key(event.Code, event.Value)
				if !ok {
					continue
				}
				card := Card{Type: "keyboard", Text: text}
				k.reader.events <- Event{Type: CardPresent, Card: card}
				k.reader.events <- Event{Type: CardRemoved, Card: card}
			}
		}
	}
}

// Events implements Source.Events.
func (k *Keyboard) Events() <-chan SourceEvent { return k.source }

// Close implements Source.Close.
func (k *Keyboard) Close() error {
	var err error
	k.once.Do(func() {
		k.cancel()
		err = k.device.Close()
	})
	return err
}
