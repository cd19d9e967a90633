package ndef

import (
	"errors"
	"testing"
)

// textRecord builds a short, single well-known Text record.
func textRecord(lang, text string) []byte {
	payload := append([]byte{byte(len(lang))}, lang...)
	payload = append(payload, text...)
	return append([]byte{0xD1, 0x01, byte(len(payload)), 'T'}, payload...)
}

func uriRecord(code byte, rest string) []byte {
	payload := append([]byte{code}, rest...)
	return append([]byte{0xD1, 0x01, byte(len(payload)), 'U'}, payload...)
}

// tagDump lays out an NTAG21x memory image starting at block 0 with msg
// wrapped in a message TLV.
func tagDump(msg []byte) []byte {
	dump := []byte{
		0x04, 0x3A, 0x98, 0x1E, // UID0-2, BCC0
		0xCA, 0xBB, 0x2B, 0x80, // UID3-6
		0x3F, 0x48, 0x00, 0x00, // BCC1, internal, lock
		0xE1, 0x10, 0x12, 0x00, // capability container
	}
	dump = append(dump, tlvMessage, byte(len(msg)))
	dump = append(dump, msg...)
	dump = append(dump, tlvTerminator)
	for len(dump)%BlockSize != 0 {
		dump = append(dump, 0)
	}
	return dump
}

func TestHeaderChecks(t *testing.T) {
	dump := tagDump(textRecord("en", "spotify:abc123"))
	header := dump[:HeaderSize]

	if !IsFormattedAsNDEF(header) {
		t.Error("IsFormattedAsNDEF = false")
	}
	if !HasReadPermissions(header) {
		t.Error("HasReadPermissions = false")
	}
	if !HasNDEFMessage(header) {
		t.Error("HasNDEFMessage = false")
	}

	// 2 TLV header bytes + 21 record bytes, rounded up to whole blocks.
	if got := MessageLength(header); got != 24 {
		t.Errorf("MessageLength = %d, want 24", got)
	}
}

func TestHeaderChecksReject(t *testing.T) {
	blank := make([]byte, HeaderSize)
	if IsFormattedAsNDEF(blank) {
		t.Error("blank tag reported as NDEF")
	}
	if HasNDEFMessage(blank) {
		t.Error("blank tag reported a message")
	}
	if MessageLength(blank) != 0 {
		t.Error("blank tag reported a message length")
	}

	locked := tagDump(textRecord("en", "x"))[:HeaderSize]
	locked[15] = 0x80
	if HasReadPermissions(locked) {
		t.Error("read-protected tag reported readable")
	}

	if IsFormattedAsNDEF(nil) || HasReadPermissions(nil) || HasNDEFMessage(nil) {
		t.Error("nil header accepted")
	}
}

func TestParseText(t *testing.T) {
	dump := tagDump(textRecord("en", "spotify:abc123"))
	header := dump[:HeaderSize]
	data := dump[tlvOffset : tlvOffset+MessageLength(header)]

	recs, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	r := recs[0]
	if r.Type != TypeText || r.Text != "spotify:abc123" || r.Language != "en" {
		t.Errorf("record = %+v", r)
	}
	if v, ok := r.Value(); !ok || v != "spotify:abc123" {
		t.Errorf("Value() = %q, %v", v, ok)
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		code byte
		rest string
		want string
	}{
		{0x00, "spotify:abc123", "spotify:abc123"},
		{0x03, "media.local/x", "http://media.local/x"},
		{0x04, "example.com", "https://example.com"},
		{0xF0, "odd", "odd"},
	}
	for _, tt := range tests {
		recs, err := Parse(tagDump(uriRecord(tt.code, tt.rest))[tlvOffset:])
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if recs[0].Type != TypeURI || recs[0].URI != tt.want {
			t.Errorf("code %#x: record = %+v, want %q", tt.code, recs[0], tt.want)
		}
	}
}

func TestParseSkipsLockControlTLV(t *testing.T) {
	rec := textRecord("en", "command:next")
	data := []byte{0x01, 0x03, 0xA0, 0x0C, 0x44, tlvMessage, byte(len(rec))}
	data = append(data, rec...)
	data = append(data, tlvTerminator)

	recs, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if recs[0].Text != "command:next" {
		t.Errorf("text = %q", recs[0].Text)
	}
}

func TestLengthAcrossLockControlTLV(t *testing.T) {
	rec := textRecord("en", "spotify:abc123")
	dump := []byte{
		0x04, 0x3A, 0x98, 0x1E,
		0xCA, 0xBB, 0x2B, 0x80,
		0x3F, 0x48, 0x00, 0x00,
		0xE1, 0x10, 0x12, 0x00,
		0x01, 0x03, 0xA0, 0x0C, 0x34, tlvMessage, byte(len(rec)),
	}
	dump = append(dump, rec...)
	dump = append(dump, tlvTerminator)
	header := dump[:HeaderSize]

	if !HasNDEFMessage(header) {
		t.Fatal("HasNDEFMessage = false with lock control TLV first")
	}
	// The header only shows the lock control TLV; ask for the next TLV header.
	n := MessageLength(header)
	if n != 12 {
		t.Fatalf("MessageLength = %d, want 12", n)
	}
	data := dump[tlvOffset:]
	want := 5 + 2 + len(rec)
	want += (BlockSize - want%BlockSize) % BlockSize
	if got := DataLength(data[:n]); got != want {
		t.Fatalf("DataLength = %d, want %d", got, want)
	}
	if got := DataLength(data[:want]); got != want {
		t.Errorf("DataLength on full read = %d, want %d", got, want)
	}
	if _, err := Parse(data[:n]); !errors.Is(err, ErrTruncated) {
		t.Errorf("Parse of partial read: err = %v", err)
	}
}

func TestDataLengthNoMessage(t *testing.T) {
	if got := DataLength([]byte{0x01, 0x03, 0xA0, 0x0C, 0x34, tlvTerminator, 0, 0}); got != 0 {
		t.Errorf("lock control then terminator: DataLength = %d", got)
	}
	if got := DataLength(make([]byte, 8)); got != 0 {
		t.Errorf("null TLVs: DataLength = %d", got)
	}
}

func TestParseMultipleRecords(t *testing.T) {
	first := textRecord("en", "playlist:Morning")
	first[0] = 0x91 // MB, SR, well-known; not last
	second := uriRecord(0x00, "command:next")
	second[0] = 0x51 // ME, SR, well-known
	recs, err := ParseMessage(append(first, second...))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(recs) != 2 || recs[0].Text != "playlist:Morning" || recs[1].URI != "command:next" {
		t.Errorf("records = %+v", recs)
	}
}

func TestParseLongRecordWithID(t *testing.T) {
	payload := append([]byte{0x02}, "enroom:Den"...)
	msg := []byte{0xC9, 0x01, 0, 0, 0, byte(len(payload)), 0x01, 'T', 'X'} // MB ME IL, long length
	msg = append(msg, payload...)
	recs, err := ParseMessage(msg)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if recs[0].Text != "room:Den" {
		t.Errorf("text = %q", recs[0].Text)
	}
}

func TestParseUTF16Text(t *testing.T) {
	payload := []byte{0x82, 'e', 'n', 0xFE, 0xFF, 0x00, 'h', 0x00, 'i'}
	msg := append([]byte{0xD1, 0x01, byte(len(payload)), 'T'}, payload...)
	recs, err := ParseMessage(msg)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if recs[0].Text != "hi" {
		t.Errorf("text = %q", recs[0].Text)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte{tlvTerminator}); !errors.Is(err, ErrNoMessage) {
		t.Errorf("terminator only: err = %v", err)
	}
	if _, err := Parse([]byte{tlvMessage, 10, 0xD1}); !errors.Is(err, ErrTruncated) {
		t.Errorf("short message: err = %v", err)
	}
	if _, err := ParseMessage([]byte{0xB1, 0x01, 0x01, 'T', 0x00}); !errors.Is(err, ErrChunked) {
		t.Errorf("chunked: err = %v", err)
	}
	if _, err := ParseMessage([]byte{0xD1, 0x01, 0x09, 'T', 0x02}); !errors.Is(err, ErrTruncated) {
		t.Errorf("short payload: err = %v", err)
	}
}

func TestMIMERecordHasNoValue(t *testing.T) {
	msg := append([]byte{0xD2, 0x0A, 0x02}, "text/plainhi"...)
	recs, err := ParseMessage(msg)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if recs[0].Type != TypeMIME || recs[0].MIME != "text/plain" {
		t.Errorf("record = %+v", recs[0])
	}
	if _, ok := recs[0].Value(); ok {
		t.Error("MIME record reported a value")
	}
}
