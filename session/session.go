// Package session turns reader events into dispatched tag instructions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"jellytap/ndef"
	"jellytap/reader"
)

// ErrUnparsable is reported when a card's memory holds no usable NDEF text
// or URI record.
var ErrUnparsable = errors.New("could not parse anything from this tag")

// Dispatcher runs the instruction stored on a tag.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) error
}

// Decoder understands NDEF tag memory.
type Decoder interface {
	IsFormattedAsNDEF(header []byte) bool
	HasReadPermissions(header []byte) bool
	HasNDEFMessage(header []byte) bool
	MessageLength(header []byte) int
	DataLength(data []byte) int
	Parse(data []byte) ([]ndef.Record, error)
}

// State is where a session is in its lifecycle.
type State int

const (
	Idle State = iota
	CardPresent
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CardPresent:
		return "card present"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Manager creates a Session for every reader a Source attaches.
type Manager struct {
	dispatcher Dispatcher
	decoder    Decoder
	logger     *log.Logger

	// OnDispatchError, if set, is called after a failed dispatch has been
	// logged. It runs on the session's goroutine.
	OnDispatchError func(r reader.Reader, text string, err error)

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// New creates a Manager. A nil logger means log.Default().
func New(d Dispatcher, dec Decoder, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		dispatcher: d,
		decoder:    dec,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Attach consumes src's events until the channel closes or ctx is done.
// It returns immediately; use Wait to block until every session has ended.
func (m *Manager) Attach(ctx context.Context, src reader.Source) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-src.Events():
				if !ok {
					return
				}
				switch ev.Type {
				case reader.ReaderAttached:
					m.start(ctx, ev.Reader)
				case reader.TransportError:
					m.logger.Printf("an NFC error occurred %v", ev.Err)
				}
			}
		}
	}()
}

// Wait blocks until all sources and sessions have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Session returns the running session for the named reader.
func (m *Manager) Session(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

func (m *Manager) start(ctx context.Context, r reader.Reader) {
	s := &Session{m: m, reader: r}
	m.mu.Lock()
	m.sessions[r.Name()] = s
	m.mu.Unlock()

	m.logger.Printf("%s: attached", r.Name())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(ctx)
		m.mu.Lock()
		if m.sessions[r.Name()] == s {
			delete(m.sessions, r.Name())
		}
		m.mu.Unlock()
	}()
}

// Session tracks one attached reader.
type Session struct {
	m      *Manager
	reader reader.Reader

	mu    sync.Mutex
	state State
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// run handles the reader's events one at a time until the reader ends.
func (s *Session) run(ctx context.Context) {
	name := s.reader.Name()
	for {
		var ev reader.Event
		var ok bool
		select {
		case <-ctx.Done():
			s.setState(Ended)
			return
		case ev, ok = <-s.reader.Events():
		}
		if !ok {
			ev = reader.Event{Type: reader.ReaderEnd}
		}

		switch ev.Type {
		case reader.CardPresent:
			if s.handleCard(ctx, ev.Card) {
				s.setState(CardPresent)
			}
		case reader.CardRemoved:
			s.m.logger.Printf("%s: %s with UID %s removed", name, ev.Card.Type, ev.Card.UID)
			s.setState(Idle)
		case reader.ReaderError:
			s.m.logger.Printf("%s: an error occurred %v", name, ev.Err)
		case reader.ReaderEnd:
			s.m.logger.Printf("%s: device removed", name)
			s.setState(Ended)
			return
		}
	}
}

// handleCard reads the tag and dispatches its instruction. It reports whether
// the tag could be read.
func (s *Session) handleCard(ctx context.Context, card reader.Card) bool {
	text := card.Text
	if text == "" {
		var err error
		text, err = s.readTag(ctx)
		if errors.Is(err, ErrUnparsable) {
			s.m.logger.Print("Could not parse anything from this tag")
			return false
		}
		if err != nil {
			s.m.logger.Print(err)
			return false
		}
	}

	if err := s.m.dispatcher.Dispatch(ctx, text); err != nil {
		s.m.logger.Printf("%s: could not run %q: %v", s.reader.Name(), text, err)
		if s.m.OnDispatchError != nil {
			s.m.OnDispatchError(s.reader, text, err)
		}
	}
	return true
}

// readTag pulls the NDEF message off the card and returns the first text or
// URI record. Read failures are returned as they are.
func (s *Session) readTag(ctx context.Context) (string, error) {
	dec := s.m.decoder
	header, err := s.reader.Read(ctx, ndef.HeaderBlock, ndef.HeaderSize)
	if err != nil {
		return "", err
	}
	if !dec.IsFormattedAsNDEF(header) || !dec.HasReadPermissions(header) || !dec.HasNDEFMessage(header) {
		return "", ErrUnparsable
	}

	// Lock and memory control TLVs can push the message past the header, so
	// keep reading until the whole message TLV is covered.
	var data []byte
	for n := dec.MessageLength(header); ; {
		if n > ndef.MaxDataSize {
			return "", ErrUnparsable
		}
		data, err = s.reader.Read(ctx, ndef.DataBlock, n)
		if err != nil {
			return "", err
		}
		next := dec.DataLength(data)
		if next == 0 {
			return "", ErrUnparsable
		}
		if next <= n {
			break
		}
		n = next
	}
	records, err := dec.Parse(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	for _, r := range records {
		if v, ok := r.Value(); ok {
			return v, nil
		}
	}
	return "", ErrUnparsable
}
