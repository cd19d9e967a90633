package reader

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line   string
		verb   string
		reader string
		typ    EventType
		text   string
		uid    string
		err    string
	}{
		{line: "attach desk", verb: "attach", reader: "desk"},
		{line: "card desk 043A98CABB2B80 spotify:abc123", verb: "card", reader: "desk", typ: CardPresent, uid: "043A98CABB2B80", text: "spotify:abc123"},
		{line: "CARD desk 04AB room:Wine   Cellar", verb: "card", reader: "desk", typ: CardPresent, uid: "04AB", text: "room:Wine   Cellar"},
		{line: "off desk 04AB", verb: "off", reader: "desk", typ: CardRemoved, uid: "04AB"},
		{line: "error desk antenna  fault", verb: "error", reader: "desk", typ: ReaderError, err: "antenna  fault"},
		{line: "end desk", verb: "end", reader: "desk", typ: ReaderEnd},
		{line: "fail usb bus reset", verb: "fail", err: "usb bus reset"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := parseLine(tt.line)
			if err != nil {
				t.Fatalf("parseLine: %v", err)
			}
			if cmd.verb != tt.verb || cmd.reader != tt.reader {
				t.Errorf("got verb %q reader %q", cmd.verb, cmd.reader)
			}
			if tt.verb == "attach" || tt.verb == "fail" {
				if tt.err != "" && cmd.event.Err.Error() != tt.err {
					t.Errorf("err = %q, want %q", cmd.event.Err, tt.err)
				}
				return
			}
			if cmd.event.Type != tt.typ {
				t.Errorf("type = %v, want %v", cmd.event.Type, tt.typ)
			}
			if cmd.event.Card.Text != tt.text || cmd.event.Card.UID != tt.uid {
				t.Errorf("card = %+v", cmd.event.Card)
			}
			if tt.err != "" && (cmd.event.Err == nil || cmd.event.Err.Error() != tt.err) {
				t.Errorf("err = %v, want %q", cmd.event.Err, tt.err)
			}
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, line := range []string{"", "card", "card desk 04AB", "dance desk"} {
		if _, err := parseLine(line); err == nil {
			t.Errorf("parseLine(%q) succeeded", line)
		}
	}
}

func TestPipeConsume(t *testing.T) {
	p := newPipe("/unused")
	p.consume(strings.NewReader(strings.Join([]string{
		"# comment",
		"attach desk",
		"card desk 04AB spotify:abc123",
		"off desk 04AB",
		"card ghost 04AB x", // not attached, logged and skipped
		"fail bus gone",
		"end desk",
	}, "\n")))

	ev := <-p.Events()
	if ev.Type != ReaderAttached || ev.Reader.Name() != "desk" {
		t.Fatalf("first source event = %+v", ev)
	}
	r := ev.Reader

	ev = <-p.Events()
	if ev.Type != TransportError || ev.Err.Error() != "bus gone" {
		t.Errorf("second source event = %+v", ev)
	}

	var got []EventType
	for e := range r.Events() {
		got = append(got, e.Type)
	}
	want := []EventType{CardPresent, CardRemoved, ReaderEnd}
	if len(got) != len(want) {
		t.Fatalf("reader events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := r.Read(context.Background(), 0, 20); !errors.Is(err, ErrNoCardMemory) {
		t.Errorf("Read err = %v, want ErrNoCardMemory", err)
	}
}

func TestPipeShutdownEndsReaders(t *testing.T) {
	p := newPipe("/unused")
	p.consume(strings.NewReader("attach desk\n"))
	r := (<-p.Events()).Reader

	p.shutdown()
	if _, ok := <-r.Events(); ok {
		t.Error("reader channel still open after shutdown")
	}
	if _, ok := <-p.Events(); ok {
		t.Error("source channel still open after shutdown")
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New(Config{Type: "wiegand"}); err == nil {
		t.Error("expected error for unknown reader type")
	}
}
