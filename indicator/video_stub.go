//go:build !screen

package indicator

import (
	"jellytap/video"
)

// NewVideo returns an error when screen support is not compiled in.
func NewVideo() (*VideoIndicator, error) {
	return nil, video.ErrScreenNotCompiled
}

// VideoIndicator is a stub when screen support is not compiled in.
type VideoIndicator struct{}

func (vi *VideoIndicator) Idle()                 {}
func (vi *VideoIndicator) Working(info *TapInfo) {}
func (vi *VideoIndicator) Playing(info *TapInfo) {}
func (vi *VideoIndicator) Failed(info *TapInfo)  {}
func (vi *VideoIndicator) ConnectionLost()       {}
func (vi *VideoIndicator) Shutdown()             {}
func (vi *VideoIndicator) Release() error        { return nil }
func (vi *VideoIndicator) Video() *video.Video   { return nil }
