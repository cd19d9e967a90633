package command

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Settings holds the media-server location and the room every request
// targets. The room is changed by "room:" tags while the process runs, so
// it is read on every call rather than captured.
type Settings struct {
	mu      sync.RWMutex
	apiBase string
	room    string
}

// NewSettings returns Settings for the given API base (no trailing slash)
// and starting room.
func NewSettings(apiBase, room string) (*Settings, error) {
	if apiBase == "" {
		return nil, errors.New("api base is empty")
	}
	if room == "" {
		return nil, errors.New("room is empty")
	}
	return &Settings{apiBase: apiBase, room: room}, nil
}

// APIBase returns the configured API base URL.
func (s *Settings) APIBase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiBase
}

// Room returns the room currently targeted.
func (s *Settings) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// SetRoom changes the targeted room. Empty names are refused so the room
// is never blank.
func (s *Settings) SetRoom(room string) bool {
	if room == "" {
		return false
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
	return true
}

// BuildURL returns the absolute URL for an instruction path.
// CompleteURL paths are already absolute and are returned untouched.
func BuildURL(s *Settings, path string, kind Kind) string {
	if kind == CompleteURL {
		return path
	}
	return s.APIBase() + "/" + url.PathEscape(s.Room()) + "/" + escapePath(path)
}

// escapePath percent-encodes the bytes a URL cannot carry literally.
// Slashes, a query or fragment, and existing %XX escapes pass through as
// the tag wrote them.
func escapePath(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '%' && i+2 < len(p) && ishex(p[i+1]) && ishex(p[i+2]):
			b.WriteByte(c)
		case c <= ' ' || c >= 0x7F || strings.IndexByte("%\"<>\\^`{|}", c) >= 0:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func ishex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
