package command

import (
	"strings"
	"testing"
)

func TestBuildURL(t *testing.T) {
	s, err := NewSettings("http://media.local:5005", "Living Room")
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}

	tests := []struct {
		name string
		path string
		kind Kind
		want string
	}{
		{"service path", "spotify/now/spotify:abc", Spotify, "http://media.local:5005/Living%20Room/spotify/now/spotify:abc"},
		{"reset path", "repeat/off", Command, "http://media.local:5005/Living%20Room/repeat/off"},
		{"whitespace in path", "playlist/Morning Mix", Playlist, "http://media.local:5005/Living%20Room/playlist/Morning%20Mix"},
		{"query kept", "seek?t=30", Command, "http://media.local:5005/Living%20Room/seek?t=30"},
		{"encoded id kept", "playlist/Morning%20Mix", Playlist, "http://media.local:5005/Living%20Room/playlist/Morning%20Mix"},
		{"stray percent", "volume/100%", Command, "http://media.local:5005/Living%20Room/volume/100%25"},
		{"non-ascii", "playlist/Café", Playlist, "http://media.local:5005/Living%20Room/playlist/Caf%C3%A9"},
		{"complete url untouched", "http://other/x y", CompleteURL, "http://other/x y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildURL(s, tt.path, tt.kind); got != tt.want {
				t.Errorf("BuildURL(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestBuildURLReadsRoomAtCallTime(t *testing.T) {
	s, _ := NewSettings("http://h", "Kitchen")
	if got := BuildURL(s, "clearqueue", Command); got != "http://h/Kitchen/clearqueue" {
		t.Fatalf("got %q", got)
	}
	s.SetRoom("Den")
	if got := BuildURL(s, "clearqueue", Command); got != "http://h/Den/clearqueue" {
		t.Fatalf("got %q after room change", got)
	}
}

func TestBuildURLRoomIsOneSegment(t *testing.T) {
	s, _ := NewSettings("http://h", "Up/Down")
	got := BuildURL(s, "pause", Command)
	if strings.Count(got, "/") != 4 {
		t.Errorf("room slash leaked into path: %q", got)
	}
}

func TestSettings(t *testing.T) {
	if _, err := NewSettings("", "Den"); err == nil {
		t.Error("expected error for empty api base")
	}
	if _, err := NewSettings("http://h", ""); err == nil {
		t.Error("expected error for empty room")
	}

	s, _ := NewSettings("http://h", "Den")
	if s.SetRoom("") {
		t.Error("SetRoom(\"\") reported success")
	}
	if s.Room() != "Den" {
		t.Errorf("room = %q, want Den", s.Room())
	}
}
