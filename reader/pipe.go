package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"syscall"
	"unicode"
)

// Pipe is a Source fed from a named pipe, for development and for driving
// the whole tap path from scripts. Readers are virtual: they hand over the
// tag text given on the command line.
//
// Command format:
//
//	attach <reader>                 - Reader plugged in
//	card <reader> <uid> <text...>   - Tag tapped, text is the tag payload
//	off <reader> <uid>              - Tag removed
//	error <reader> <message...>     - Reader error
//	end <reader>                    - Reader unplugged
//	fail <message...>               - Transport error
type Pipe struct {
	path    string
	source  chan SourceEvent
	mu      sync.Mutex
	readers map[string]*textReader
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewPipe creates the named pipe at path and starts listening on it.
func NewPipe(path string) (*Pipe, error) {
	if path == "" {
		return nil, errors.New("pipe path is empty")
	}

	// Remove existing pipe if it exists
	os.Remove(path)

	if err := syscall.Mkfifo(path, 0666); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", path, err)
	}

	p := newPipe(path)
	go p.listen()
	return p, nil
}

func newPipe(path string) *Pipe {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipe{
		path:    path,
		source:  make(chan SourceEvent, 16),
		readers: make(map[string]*textReader),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Events implements Source.Events.
func (p *Pipe) Events() <-chan SourceEvent { return p.source }

// Close implements Source.Close. It stops the listener and removes the pipe.
func (p *Pipe) Close() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		// Unblock a listener waiting in open for a writer.
		if f, oerr := os.OpenFile(p.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); oerr == nil {
			f.Close()
		}
		err = os.Remove(p.path)
	})
	return err
}

func (p *Pipe) listen() {
	defer p.shutdown()
	log.Printf("Event pipe listening on %s", p.path)

	for {
		if p.ctx.Err() != nil {
			return
		}

		// Blocks until a writer connects.
		file, err := os.OpenFile(p.path, os.O_RDONLY, 0)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.source <- SourceEvent{Type: TransportError, Err: fmt.Errorf("open pipe: %w", err)}
			return
		}
		p.consume(file)
		file.Close()
		// Writer closed the pipe, loop back to wait for next writer
	}
}

func (p *Pipe) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if p.ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.apply(line); err != nil {
			log.Printf("Event pipe parse error: %v", err)
		}
	}
}

// shutdown ends every reader still attached and closes the source.
func (p *Pipe) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, r := range p.readers {
		close(r.events)
		delete(p.readers, name)
	}
	close(p.source)
}

type pipeCommand struct {
	verb   string
	reader string
	event  Event
}

// parseLine parses a command line.
func parseLine(line string) (pipeCommand, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return pipeCommand{}, fmt.Errorf("empty command")
	}

	verb := strings.ToLower(parts[0])
	if verb == "fail" {
		return pipeCommand{verb: verb, event: Event{Err: errors.New(afterFields(line, 1))}}, nil
	}
	if len(parts) < 2 {
		return pipeCommand{}, fmt.Errorf("%s requires a reader name", verb)
	}
	cmd := pipeCommand{verb: verb, reader: parts[1]}

	switch verb {
	case "attach":
	case "card":
		if len(parts) < 4 {
			return pipeCommand{}, fmt.Errorf("card requires <reader> <uid> <text>")
		}
		// Text is everything after the uid, inner spaces kept.
		text := afterFields(line, 3)
		cmd.event = Event{Type: CardPresent, Card: Card{Type: "pipe", UID: parts[2], Text: text}}
	case "off":
		uid := ""
		if len(parts) > 2 {
			uid = parts[2]
		}
		cmd.event = Event{Type: CardRemoved, Card: Card{Type: "pipe", UID: uid}}
	case "error":
		cmd.event = Event{Type: ReaderError, Err: errors.New(afterFields(line, 2))}
	case "end":
		cmd.event = Event{Type: ReaderEnd}
	default:
		return pipeCommand{}, fmt.Errorf("unknown command: %s", verb)
	}
	return cmd, nil
}

// afterFields returns s without its first n whitespace-separated fields.
func afterFields(s string, n int) string {
	s = strings.TrimSpace(s)
	for i := 0; i < n; i++ {
		idx := strings.IndexFunc(s, unicode.IsSpace)
		if idx < 0 {
			return ""
		}
		s = strings.TrimSpace(s[idx:])
	}
	return s
}

func (p *Pipe) apply(line string) error {
	cmd, err := parseLine(line)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd.verb {
	case "fail":
		p.source <- SourceEvent{Type: TransportError, Err: cmd.event.Err}
		return nil
	case "attach":
		if _, ok := p.readers[cmd.reader]; ok {
			return fmt.Errorf("reader %s already attached", cmd.reader)
		}
		r := newTextReader(cmd.reader)
		p.readers[cmd.reader] = r
		p.source <- SourceEvent{Type: ReaderAttached, Reader: r}
		return nil
	}

	r, ok := p.readers[cmd.reader]
	if !ok {
		return fmt.Errorf("reader %s not attached", cmd.reader)
	}
	r.events <- cmd.event
	if cmd.verb == "end" {
		close(r.events)
		delete(p.readers, cmd.reader)
	}
	return nil
}
