//go:build !screen

package video

// ScreenSupported returns whether screen support is compiled in.
func ScreenSupported() bool {
	return false
}

// Video is a stub when screen support is not compiled in.
type Video struct{}

// New returns an error when screen support is not compiled in.
func New() (*Video, error) {
	return nil, ErrScreenNotCompiled
}

func (v *Video) Idle()                             {}
func (v *Video) Working(text string)               {}
func (v *Video) Playing(service, room, text string) {}
func (v *Video) Failed(text, reason string)        {}
func (v *Video) ConnectionLost()                   {}
func (v *Video) DisplayVolume(step string)         {}
func (v *Video) Shutdown()                         {}
func (v *Video) Release() error                    { return nil }
