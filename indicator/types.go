package indicator

// TapInfo describes a tag instruction for display purposes.
type TapInfo struct {
	Text    string // raw tag text
	Service string // e.g. "spotify", "command"
	Room    string
	Err     error // set for Failed
}

func (t *TapInfo) text() string {
	if t == nil {
		return ""
	}
	return t.Text
}
