// Package ndef decodes NDEF messages stored on NFC Forum Type 2 tags
// (NTAG21x, Ultralight). Card memory is addressed in 4-byte blocks; block 3
// holds the capability container and the TLV area starts at block 4.
package ndef

import (
	"errors"
	"fmt"
	"unicode/utf16"
)

// Geometry of a Type 2 tag header read starting at block 0.
const (
	BlockSize   = 4
	HeaderBlock = 0
	HeaderSize  = 20 // blocks 0-4: UID, lock bytes, CC, first TLV bytes
	DataBlock   = 4

	ccOffset  = 12
	tlvOffset = 16
	ccMagic   = 0xE1
)

// TLV tags.
const (
	tlvNull          = 0x00
	tlvLockControl   = 0x01
	tlvMemoryControl = 0x02
	tlvMessage       = 0x03
	tlvTerminator    = 0xFE
)

var (
	ErrTruncated = errors.New("ndef: data truncated")
	ErrChunked   = errors.New("ndef: chunked records not supported")
	ErrNoMessage = errors.New("ndef: no message TLV")
)

// IsFormattedAsNDEF reports whether the capability container carries the
// NDEF magic number.
func IsFormattedAsNDEF(header []byte) bool {
	return len(header) > ccOffset && header[ccOffset] == ccMagic
}

// HasReadPermissions reports whether the capability container grants
// read access without authentication.
func HasReadPermissions(header []byte) bool {
	if len(header) < ccOffset+4 {
		return false
	}
	return header[ccOffset+3]>>4 == 0
}

// MaxDataSize bounds how much of the TLV area a reader is asked for. It
// covers the user memory of every NTAG21x and Ultralight part.
const MaxDataSize = 1024

var errMore = errors.New("ndef: message may follow")

// HasNDEFMessage reports whether the header's TLV bytes start an NDEF
// message, or end inside lock or memory control TLVs that a message may
// follow.
func HasNDEFMessage(header []byte) bool {
	return MessageLength(header) > 0
}

// MessageLength returns how many bytes to read from DataBlock, judging by
// the header alone. It is 0 when the header shows there is no message.
// When the header ends before the message TLV, the length only reaches
// the next TLV; pass what was read to DataLength to learn the rest.
func MessageLength(header []byte) int {
	if len(header) <= tlvOffset {
		return 0
	}
	return DataLength(header[tlvOffset:])
}

// DataLength returns how many bytes from DataBlock cover the NDEF message
// TLV, given the TLV area read so far, rounded up to whole blocks. A result
// larger than len(data) means more must be read. It is 0 when data holds
// no message.
func DataLength(data []byte) int {
	off, n, err := findMessage(data)
	switch {
	case err == nil, errors.Is(err, ErrTruncated):
		return roundBlocks(off + n)
	case errors.Is(err, errMore):
		// Enough to see the next TLV's tag and long-form length.
		return roundBlocks(off + 4)
	}
	return 0
}

func roundBlocks(n int) int {
	if r := n % BlockSize; r != 0 {
		n += BlockSize - r
	}
	return n
}

// findMessage walks TLVs and returns the offset of the NDEF message value
// and its length. ErrTruncated means the message runs past b. errMore means
// b ends before the message TLV was reached; the offset is where to resume.
func findMessage(b []byte) (int, int, error) {
	i := 0
	skipped := false
	for i < len(b) {
		switch b[i] {
		case tlvNull:
			i++
			continue
		case tlvTerminator:
			return 0, 0, ErrNoMessage
		}
		tag := b[i]
		if i+1 >= len(b) {
			return i, 0, errMore
		}
		n := int(b[i+1])
		hdr := 2
		if n == 0xFF {
			if i+3 >= len(b) {
				return i, 0, errMore
			}
			n = int(b[i+2])<<8 | int(b[i+3])
			hdr = 4
		}
		if tag == tlvMessage {
			if i+hdr+n > len(b) {
				return i + hdr, n, ErrTruncated
			}
			return i + hdr, n, nil
		}
		// Lock control, memory control and proprietary TLVs are skipped.
		i += hdr + n
		skipped = true
	}
	if skipped {
		return i, 0, errMore
	}
	return 0, 0, ErrNoMessage
}

// RecordType is the decoded kind of an NDEF record.
type RecordType string

const (
	TypeText    RecordType = "text"
	TypeURI     RecordType = "uri"
	TypeMIME    RecordType = "mime"
	TypeUnknown RecordType = "unknown"
)

// Record is one decoded NDEF record.
type Record struct {
	Type     RecordType
	Text     string // TypeText
	Language string // TypeText
	URI      string // TypeURI
	MIME     string // TypeMIME
	Payload  []byte
}

// Value returns the record's literal string content for text and URI
// records.
func (r Record) Value() (string, bool) {
	switch r.Type {
	case TypeText:
		return r.Text, true
	case TypeURI:
		return r.URI, true
	}
	return "", false
}

// Record header flags and TNF values.
const (
	flagME = 0x40
	flagCF = 0x20
	flagSR = 0x10
	flagIL = 0x08

	tnfEmpty     = 0x00
	tnfWellKnown = 0x01
	tnfMIME      = 0x02
	tnfAbsURI    = 0x03
)

// Parse decodes the records of the NDEF message found in data. data starts
// at DataBlock, i.e. with the TLV area.
func Parse(data []byte) ([]Record, error) {
	off, n, err := findMessage(data)
	if errors.Is(err, errMore) {
		return nil, ErrTruncated
	}
	if err != nil {
		return nil, err
	}
	return ParseMessage(data[off : off+n])
}

// ParseMessage decodes a bare NDEF message (no TLV wrapper).
func ParseMessage(msg []byte) ([]Record, error) {
	var records []Record
	i := 0
	for i < len(msg) {
		flags := msg[i]
		if flags&flagCF != 0 {
			return nil, ErrChunked
		}
		tnf := flags & 0x07
		i++

		if i >= len(msg) {
			return nil, ErrTruncated
		}
		typeLen := int(msg[i])
		i++

		var payloadLen int
		if flags&flagSR != 0 {
			if i >= len(msg) {
				return nil, ErrTruncated
			}
			payloadLen = int(msg[i])
			i++
		} else {
			if i+4 > len(msg) {
				return nil, ErrTruncated
			}
			payloadLen = int(msg[i])<<24 | int(msg[i+1])<<16 | int(msg[i+2])<<8 | int(msg[i+3])
			i += 4
		}

		idLen := 0
		if flags&flagIL != 0 {
			if i >= len(msg) {
				return nil, ErrTruncated
			}
			idLen = int(msg[i])
			i++
		}

		if payloadLen < 0 || i+typeLen+idLen+payloadLen > len(msg) {
			return nil, ErrTruncated
		}
		typ := msg[i : i+typeLen]
		i += typeLen + idLen
		payload := msg[i : i+payloadLen]
		i += payloadLen

		rec, err := decodeRecord(tnf, typ, payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)

		if flags&flagME != 0 {
			break
		}
	}
	return records, nil
}

func decodeRecord(tnf byte, typ, payload []byte) (Record, error) {
	rec := Record{Type: TypeUnknown, Payload: payload}
	switch tnf {
	case tnfWellKnown:
		switch string(typ) {
		case "T":
			text, lang, err := decodeText(payload)
			if err != nil {
				return Record{}, err
			}
			rec.Type, rec.Text, rec.Language = TypeText, text, lang
		case "U":
			uri, err := decodeURI(payload)
			if err != nil {
				return Record{}, err
			}
			rec.Type, rec.URI = TypeURI, uri
		}
	case tnfAbsURI:
		rec.Type, rec.URI = TypeURI, string(typ)
	case tnfMIME:
		rec.Type, rec.MIME = TypeMIME, string(typ)
	case tnfEmpty:
	}
	return rec, nil
}

func decodeText(p []byte) (string, string, error) {
	if len(p) == 0 {
		return "", "", fmt.Errorf("text record: %w", ErrTruncated)
	}
	status := p[0]
	langLen := int(status & 0x3F)
	if 1+langLen > len(p) {
		return "", "", fmt.Errorf("text record: %w", ErrTruncated)
	}
	lang := string(p[1 : 1+langLen])
	body := p[1+langLen:]
	if status&0x80 == 0 {
		return string(body), lang, nil
	}
	return decodeUTF16(body), lang, nil
}

func decodeUTF16(b []byte) string {
	bigEndian := true
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		case b[0] == 0xFF && b[1] == 0xFE:
			b, bigEndian = b[2:], false
		}
	}
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		if bigEndian {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		} else {
			u = append(u, uint16(b[i+1])<<8|uint16(b[i]))
		}
	}
	return string(utf16.Decode(u))
}

// uriPrefixes is the URI identifier code table from the NFC Forum URI RTD.
var uriPrefixes = []string{
	"",
	"http://www.",
	"https://www.",
	"http://",
	"https://",
	"tel:",
	"mailto:",
	"ftp://anonymous:anonymous@",
	"ftp://ftp.",
	"ftps://",
	"sftp://",
	"smb://",
	"nfs://",
	"ftp://",
	"dav://",
	"news:",
	"telnet://",
	"imap:",
	"rtsp://",
	"urn:",
	"pop:",
	"sip:",
	"sips:",
	"tftp:",
	"btspp://",
	"btl2cap://",
	"btgoep://",
	"tcpobex://",
	"irdaobex://",
	"file://",
	"urn:epc:id:",
	"urn:epc:tag:",
	"urn:epc:pat:",
	"urn:epc:raw:",
	"urn:epc:",
	"urn:nfc:",
}

func decodeURI(p []byte) (string, error) {
	if len(p) == 0 {
		return "", fmt.Errorf("uri record: %w", ErrTruncated)
	}
	prefix := ""
	if int(p[0]) < len(uriPrefixes) {
		prefix = uriPrefixes[p[0]]
	}
	return prefix + string(p[1:]), nil
}

// Decoder exposes the package functions as a value, for callers that take
// the decoder as a dependency.
type Decoder struct{}

func (Decoder) IsFormattedAsNDEF(header []byte) bool  { return IsFormattedAsNDEF(header) }
func (Decoder) HasReadPermissions(header []byte) bool { return HasReadPermissions(header) }
func (Decoder) HasNDEFMessage(header []byte) bool     { return HasNDEFMessage(header) }
func (Decoder) MessageLength(header []byte) int       { return MessageLength(header) }
func (Decoder) DataLength(data []byte) int            { return DataLength(data) }
func (Decoder) Parse(data []byte) ([]Record, error)   { return Parse(data) }
