package command

import "strings"

// Kind identifies which media service (or control action) a tag targets.
type Kind int

const (
	Unrecognized Kind = iota
	AppleMusic
	Spotify
	TuneIn
	AmazonMusic
	Playlist // Jellyfin playlist
	CompleteURL
	Command
	RoomChange
)

// String returns the name used in log lines and MQTT status messages.
func (k Kind) String() string {
	switch k {
	case AppleMusic:
		return "applemusic"
	case Spotify:
		return "spotify"
	case TuneIn:
		return "tunein"
	case AmazonMusic:
		return "amazonmusic"
	case Playlist:
		return "jellyfin_playlist"
	case CompleteURL:
		return "completeurl"
	case Command:
		return "command"
	case RoomChange:
		return "room"
	default:
		return "unrecognized"
	}
}

// Instruction is the result of classifying one tag's text.
type Instruction struct {
	Kind Kind
	// Path is relative to <api_base>/<room>, except for CompleteURL where
	// it is the whole URL and for RoomChange where it is the new room.
	Path string
}

type rule struct {
	prefix string
	kind   Kind
	path   func(text, suffix string) string
}

func under(base string) func(text, suffix string) string {
	return func(_, suffix string) string { return base + suffix }
}

// Spotify and TuneIn keep their prefix: the server wants the full URI.
func underWhole(base string) func(text, suffix string) string {
	return func(text, _ string) string { return base + text }
}

func verbatim(text, _ string) string { return text }

func suffixOnly(_, suffix string) string { return suffix }

// Order matters: first match wins.
var rules = []rule{
	{"apple:", AppleMusic, under("applemusic/now/")},
	{"applemusic:", AppleMusic, under("applemusic/now/")},
	{"http", CompleteURL, verbatim},
	{"spotify:", Spotify, underWhole("spotify/now/")},
	{"tunein:", TuneIn, underWhole("tunein/now/")},
	{"amazonmusic:", AmazonMusic, under("amazonmusic/now/")},
	{"playlist:", Playlist, under("playlist/")},
	{"command:", Command, suffixOnly},
	{"room:", RoomChange, suffixOnly},
}

// SupportedPrefixes lists what a tag may start with, for help messages.
const SupportedPrefixes = "'spotify', 'tunein', 'amazonmusic', 'apple'/'applemusic', 'command', 'http', 'playlist', or 'room'"

// Classify maps raw tag text to an Instruction. Prefix matching ignores
// case; the remainder of the text keeps its original case.
func Classify(text string) Instruction {
	for _, r := range rules {
		if len(text) >= len(r.prefix) && strings.EqualFold(text[:len(r.prefix)], r.prefix) {
			return Instruction{
				Kind: r.kind,
				Path: r.path(text, text[len(r.prefix):]),
			}
		}
	}
	return Instruction{Kind: Unrecognized}
}
