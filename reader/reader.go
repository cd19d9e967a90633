package reader

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoCardMemory is returned by Read on readers that only deliver text
// (keyboard wedges, the event pipe).
var ErrNoCardMemory = errors.New("reader has no card memory access")

// EventType identifies what happened on a reader.
type EventType int

const (
	CardPresent EventType = iota // a card was placed on the reader
	CardRemoved                  // the card was taken away
	ReaderError                  // the reader reported an error
	ReaderEnd                    // the reader was unplugged or closed
)

func (t EventType) String() string {
	switch t {
	case CardPresent:
		return "card"
	case CardRemoved:
		return "card.off"
	case ReaderError:
		return "error"
	case ReaderEnd:
		return "end"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Card describes the card involved in a CardPresent or CardRemoved event.
type Card struct {
	Type string // e.g. "TAG_ISO_14443_3"
	UID  string // hex
	// Text is set by readers that decode the tag themselves. When empty the
	// card memory has to be read with Reader.Read.
	Text string
}

// Event is one reader event. Card is set for CardPresent/CardRemoved, Err for
// ReaderError.
type Event struct {
	Type EventType
	Card Card
	Err  error
}

// Reader is one attached NFC reader.
type Reader interface {
	// Name is the reader's display name.
	Name() string

	// Events delivers the reader's events. The channel is closed after
	// ReaderEnd, or when the reader goes away without one.
	Events() <-chan Event

	// Read returns length bytes of card memory starting at block.
	Read(ctx context.Context, block, length int) ([]byte, error)
}

// SourceEventType identifies a transport-level event.
type SourceEventType int

const (
	ReaderAttached SourceEventType = iota
	TransportError
)

// SourceEvent announces a newly attached reader or a transport error that is
// not tied to any reader.
type SourceEvent struct {
	Type   SourceEventType
	Reader Reader
	Err    error
}

// Source is where readers come from: a USB bus, a serial bridge, a pipe.
type Source interface {
	// Events delivers attach and transport error events. It is closed by
	// Close.
	Events() <-chan SourceEvent

	// Close stops the source and releases its resources.
	Close() error
}

// Config holds common configuration for reader sources.
type Config struct {
	Type   string `yaml:"type"`   // "serial", "keyboard", "pipe"
	Device string `yaml:"device"` // e.g. "/dev/ttyUSB0", "/dev/input/event0", "/tmp/jellytap-events"
	Baud   int    `yaml:"baud"`   // serial only
	Name   string `yaml:"name"`   // display name; defaults to the device path
}

// New creates a Source based on the provided configuration.
func New(cfg Config) (Source, error) {
	switch cfg.Type {
	case "serial", "":
		return NewSerial(cfg.Device, cfg.Baud, cfg.Name)
	case "keyboard":
		return NewKeyboard(cfg.Device, cfg.Name)
	case "pipe":
		return NewPipe(cfg.Device)
	default:
		return nil, fmt.Errorf("unknown reader type %q", cfg.Type)
	}
}

// textReader is a Reader for devices that hand over decoded tag text and
// never expose card memory.
type textReader struct {
	name   string
	events chan Event
}

func newTextReader(name string) *textReader {
	return &textReader{name: name, events: make(chan Event, 16)}
}

func (r *textReader) Name() string { return r.name }

func (r *textReader) Events() <-chan Event { return r.events }

func (r *textReader) Read(ctx context.Context, block, length int) ([]byte, error) {
	return nil, ErrNoCardMemory
}
