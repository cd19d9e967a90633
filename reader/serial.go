package reader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Serial bridge protocol. A microcontroller drives the NFC front end and
// talks to us over a UART in frames:
//
//	[0x02][cmd][len][payload...][xor of cmd,len,payload][0x03]
//
// Device to host:
//
//	'P' card present  payload: typeLen, type, uid...
//	'R' card removed  payload: as 'P'
//	'D' read data     payload: card memory bytes
//	'E' reader error  payload: message text
//
// Host to device:
//
//	'r' read request  payload: block, length
//
// A frame carries at most 255 payload bytes, so longer reads are split into
// requests of chunkBlocks blocks each.
const (
	stx = 0x02
	etx = 0x03

	cmdPresent = 'P'
	cmdRemoved = 'R'
	cmdData    = 'D'
	cmdError   = 'E'
	cmdRead    = 'r'

	blockSize   = 4
	chunkBlocks = 0xFF / blockSize
)

type frame struct {
	cmd     byte
	payload []byte
}

func encodeFrame(f frame) []byte {
	buf := make([]byte, 0, len(f.payload)+5)
	buf = append(buf, stx, f.cmd, byte(len(f.payload)))
	buf = append(buf, f.payload...)
	sum := f.cmd ^ byte(len(f.payload))
	for _, b := range f.payload {
		sum ^= b
	}
	return append(buf, sum, etx)
}

// frameDecoder reassembles frames from a byte stream, dropping anything
// that fails the framing or checksum.
type frameDecoder struct {
	buf []byte
}

func (d *frameDecoder) feed(p []byte) []frame {
	d.buf = append(d.buf, p...)
	var out []frame
	for {
		// Resync on STX.
		i := 0
		for i < len(d.buf) && d.buf[i] != stx {
			i++
		}
		d.buf = d.buf[i:]
		if len(d.buf) < 3 {
			return out
		}
		n := int(d.buf[2])
		total := n + 5
		if len(d.buf) < total {
			return out
		}
		raw := d.buf[:total]
		sum := raw[1] ^ raw[2]
		for _, b := range raw[3 : 3+n] {
			sum ^= b
		}
		if raw[total-1] != etx || raw[total-2] != sum {
			d.buf = d.buf[1:]
			continue
		}
		out = append(out, frame{cmd: raw[1], payload: append([]byte(nil), raw[3:3+n]...)})
		d.buf = d.buf[total:]
	}
}

func parseCard(payload []byte) Card {
	if len(payload) == 0 {
		return Card{}
	}
	tl := int(payload[0])
	if 1+tl > len(payload) {
		return Card{UID: hex.EncodeToString(payload[1:])}
	}
	return Card{
		Type: string(payload[1 : 1+tl]),
		UID:  hex.EncodeToString(payload[1+tl:]),
	}
}

// Serial is a Source with exactly one reader: the bridge on the port.
type Serial struct {
	port   io.ReadWriteCloser
	source chan SourceEvent
	bridge *bridge
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// bridge is the Reader side of Serial.
type bridge struct {
	s      *Serial
	name   string
	events chan Event
	data   chan []byte
	mu     sync.Mutex // one outstanding read request at a time

	// Events queued by readLoop for forward. readLoop must never block on
	// the session, which may itself be waiting in Read for a 'D' frame.
	qmu     sync.Mutex
	pending []Event
	done    bool
	wake    chan struct{}
}

// NewSerial opens a serial NFC bridge.
func NewSerial(device string, baud int, name string) (*Serial, error) {
	if baud == 0 {
		baud = 115200
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: time.Second,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	if name == "" {
		name = device
	}
	return newSerial(port, name), nil
}

func newSerial(port io.ReadWriteCloser, name string) *Serial {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Serial{
		port:   port,
		source: make(chan SourceEvent, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	s.bridge = &bridge{
		s:      s,
		name:   name,
		events: make(chan Event, 16),
		data:   make(chan []byte, 1),
		wake:   make(chan struct{}, 1),
	}
	s.source <- SourceEvent{Type: ReaderAttached, Reader: s.bridge}
	go s.bridge.forward()
	go s.readLoop()
	return s
}

// Events implements Source.Events.
func (s *Serial) Events() <-chan SourceEvent { return s.source }

// Close implements Source.Close.
func (s *Serial) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.port.Close()
	})
	return err
}

func (s *Serial) readLoop() {
	defer close(s.source)
	defer s.bridge.finish()

	var dec frameDecoder
	buf := make([]byte, 64)
	for {
		n, err := s.port.Read(buf)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil && err != io.EOF {
			// EOF is the tarm read timeout; anything else means the port is gone.
			s.bridge.post(Event{Type: ReaderError, Err: err})
			s.bridge.post(Event{Type: ReaderEnd})
			return
		}
		for _, f := range dec.feed(buf[:n]) {
			s.bridge.handleFrame(f)
		}
	}
}

// Name implements Reader.Name.
func (b *bridge) Name() string { return b.name }

// Events implements Reader.Events.
func (b *bridge) Events() <-chan Event { return b.events }

// Read implements Reader.Read by asking the bridge for a memory dump.
func (b *bridge) Read(ctx context.Context, block, length int) ([]byte, error) {
	if block < 0 || length < 0 || block+(length+blockSize-1)/blockSize > 0x100 {
		return nil, fmt.Errorf("read block %d length %d: out of range", block, length)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, 0, length)
	for {
		n := min(length-len(out), chunkBlocks*blockSize)
		data, err := b.readChunk(ctx, block+len(out)/blockSize, n)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		if len(out) >= length || len(data) < n {
			return out, nil
		}
	}
}

func (b *bridge) readChunk(ctx context.Context, block, length int) ([]byte, error) {
	// Drop a stale reply to an earlier, abandoned request.
	select {
	case <-b.data:
	default:
	}

	req := encodeFrame(frame{cmd: cmdRead, payload: []byte{byte(block), byte(length)}})
	if _, err := b.s.port.Write(req); err != nil {
		return nil, fmt.Errorf("write read request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.s.ctx.Done():
		return nil, errors.New("reader closed")
	case data := <-b.data:
		return data, nil
	}
}

func (b *bridge) post(ev Event) {
	b.qmu.Lock()
	b.pending = append(b.pending, ev)
	b.qmu.Unlock()
	b.notify()
}

// finish lets forward close events once the queue has drained.
func (b *bridge) finish() {
	b.qmu.Lock()
	b.done = true
	b.qmu.Unlock()
	b.notify()
}

func (b *bridge) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// forward moves queued events onto the events channel.
func (b *bridge) forward() {
	defer close(b.events)
	for {
		b.qmu.Lock()
		pending, done := b.pending, b.done
		b.pending = nil
		b.qmu.Unlock()

		for _, ev := range pending {
			select {
			case b.events <- ev:
			case <-b.s.ctx.Done():
				return
			}
		}
		if len(pending) > 0 {
			continue
		}
		if done {
			return
		}
		select {
		case <-b.wake:
		case <-b.s.ctx.Done():
			return
		}
	}
}

func (b *bridge) handleFrame(f frame) {
	switch f.cmd {
	case cmdPresent:
		b.post(Event{Type: CardPresent, Card: parseCard(f.payload)})
	case cmdRemoved:
		b.post(Event{Type: CardRemoved, Card: parseCard(f.payload)})
	case cmdError:
		b.post(Event{Type: ReaderError, Err: errors.New(string(f.payload))})
	case cmdData:
		select {
		case b.data <- f.payload:
		default:
			// Nobody asked, or the previous reply was never collected.
		}
	default:
		log.Printf("Serial reader %s: unknown frame %q", b.name, f.cmd)
	}
}
