package reader

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

// fakePort is an in-memory serial port. Bytes sent on in are returned by
// Read; writes are delivered on out.
type fakePort struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	rest   []byte // unread tail of the last chunk from in
}

func newFakePort() *fakePort {
	return &fakePort{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.rest) > 0 {
		n := copy(b, p.rest)
		p.rest = p.rest[n:]
		return n, nil
	}
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	case data := <-p.in:
		n := copy(b, data)
		p.rest = data[n:]
		return n, nil
	case <-time.After(10 * time.Millisecond):
		return 0, io.EOF // read timeout
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.out <- append([]byte(nil), b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	close(p.closed)
	return nil
}

func nextEvent(t *testing.T, r Reader) Event {
	t.Helper()
	select {
	case ev := <-r.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reader event")
	}
	return Event{}
}

func TestFrameRoundTrip(t *testing.T) {
	var d frameDecoder
	raw := encodeFrame(frame{cmd: cmdData, payload: []byte{1, 2, 3}})

	// Noise before the frame and a split delivery.
	if got := d.feed(append([]byte{0xAA, 0x55}, raw[:3]...)); len(got) != 0 {
		t.Fatalf("partial frame decoded: %v", got)
	}
	got := d.feed(raw[3:])
	if len(got) != 1 || got[0].cmd != cmdData || !bytes.Equal(got[0].payload, []byte{1, 2, 3}) {
		t.Fatalf("decoded %+v", got)
	}
}

func TestFrameBadChecksumDropped(t *testing.T) {
	var d frameDecoder
	bad := encodeFrame(frame{cmd: cmdPresent, payload: []byte{0x00, 0x04}})
	bad[len(bad)-2] ^= 0xFF
	good := encodeFrame(frame{cmd: cmdRemoved, payload: []byte{0x00, 0x04}})

	got := d.feed(append(bad, good...))
	if len(got) != 1 || got[0].cmd != cmdRemoved {
		t.Fatalf("decoded %+v", got)
	}
}

func TestParseCard(t *testing.T) {
	c := parseCard(append([]byte{4, 'n', 't', 'a', 'g'}, 0x04, 0x3A, 0x98))
	if c.Type != "ntag" || c.UID != "043a98" {
		t.Errorf("card = %+v", c)
	}
	if c := parseCard(nil); c != (Card{}) {
		t.Errorf("empty payload card = %+v", c)
	}
}

func TestSerialEventsAndRead(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, "bridge")
	defer s.Close()

	ev := <-s.Events()
	if ev.Type != ReaderAttached || ev.Reader.Name() != "bridge" {
		t.Fatalf("source event = %+v", ev)
	}
	r := ev.Reader

	port.in <- encodeFrame(frame{cmd: cmdPresent, payload: []byte{4, 'n', 't', 'a', 'g', 0x04, 0xAB}})
	if ev := nextEvent(t, r); ev.Type != CardPresent || ev.Card.UID != "04ab" {
		t.Fatalf("event = %+v", ev)
	}

	// Answer the read request the way the bridge firmware does.
	go func() {
		req := <-port.out
		if !bytes.Equal(req, encodeFrame(frame{cmd: cmdRead, payload: []byte{4, 16}})) {
			t.Errorf("read request = %x", req)
		}
		port.in <- encodeFrame(frame{cmd: cmdData, payload: []byte("0123456789abcdef")})
	}()
	data, err := r.Read(context.Background(), 4, 16)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "0123456789abcdef" {
		t.Errorf("data = %q", data)
	}

	port.in <- encodeFrame(frame{cmd: cmdError, payload: []byte("rf field lost")})
	if ev := nextEvent(t, r); ev.Type != ReaderError || ev.Err.Error() != "rf field lost" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSerialReadCanceled(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, "bridge")
	defer s.Close()
	r := (<-s.Events()).Reader

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Read(ctx, 0, 20); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestSerialReadOutOfRange(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, "bridge")
	defer s.Close()
	r := (<-s.Events()).Reader

	if _, err := r.Read(context.Background(), 4, 1100); err == nil {
		t.Error("expected error for read past block 255")
	}
	if _, err := r.Read(context.Background(), -1, 4); err == nil {
		t.Error("expected error for negative block")
	}
}

func TestSerialReadSplitsLongReads(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, "bridge")
	defer s.Close()
	r := (<-s.Events()).Reader

	mem := make([]byte, 300)
	for i := range mem {
		mem[i] = byte(i)
	}
	go func() {
		for _, want := range [][]byte{{4, 252}, {67, 48}} {
			req := <-port.out
			if !bytes.Equal(req, encodeFrame(frame{cmd: cmdRead, payload: want})) {
				t.Errorf("read request = %x, want block %d length %d", req, want[0], want[1])
			}
			off := (int(want[0]) - 4) * blockSize
			port.in <- encodeFrame(frame{cmd: cmdData, payload: mem[off : off+int(want[1])]})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := r.Read(ctx, 4, 300)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, mem) {
		t.Errorf("data = %x", data)
	}
}

func TestSerialReadWhileEventsBackUp(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, "bridge")
	defer s.Close()
	r := (<-s.Events()).Reader

	// More events than the channel holds, none consumed yet.
	const taps = 40
	present := encodeFrame(frame{cmd: cmdPresent, payload: []byte{4, 'n', 't', 'a', 'g', 0x04, 0xAB}})
	for i := 0; i < taps; i++ {
		port.in <- present
	}

	go func() {
		<-port.out
		port.in <- encodeFrame(frame{cmd: cmdData, payload: []byte("abcd")})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := r.Read(ctx, 4, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "abcd" {
		t.Errorf("data = %q", data)
	}

	for i := 0; i < taps; i++ {
		if ev := nextEvent(t, r); ev.Type != CardPresent {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
}

func TestSerialPortFailureEndsReader(t *testing.T) {
	port := newFakePort()
	s := newSerial(port, "bridge")
	r := (<-s.Events()).Reader

	// Closing the port without Close looks like the device vanishing.
	port.Close()
	if ev := nextEvent(t, r); ev.Type != ReaderError {
		t.Fatalf("event = %+v, want ReaderError", ev)
	}
	if ev := nextEvent(t, r); ev.Type != ReaderEnd {
		t.Fatalf("event = %+v, want ReaderEnd", ev)
	}
}
