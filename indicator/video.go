//go:build screen

package indicator

import (
	"jellytap/video"
)

// VideoIndicator wraps the video.Video type to implement Indicator.
type VideoIndicator struct {
	v *video.Video
}

// NewVideo creates a new video-based indicator.
func NewVideo() (*VideoIndicator, error) {
	v, err := video.New()
	if err != nil {
		return nil, err
	}
	return &VideoIndicator{v: v}, nil
}

// Idle implements Indicator.Idle.
func (vi *VideoIndicator) Idle() {
	vi.v.Idle()
}

// Working implements Indicator.Working.
func (vi *VideoIndicator) Working(info *TapInfo) {
	vi.v.Working(info.text())
}

// Playing implements Indicator.Playing.
func (vi *VideoIndicator) Playing(info *TapInfo) {
	var service, room string
	if info != nil {
		service, room = info.Service, info.Room
	}
	vi.v.Playing(service, room, info.text())
}

// Failed implements Indicator.Failed.
func (vi *VideoIndicator) Failed(info *TapInfo) {
	var reason string
	if info != nil && info.Err != nil {
		reason = info.Err.Error()
	}
	vi.v.Failed(info.text(), reason)
}

// ConnectionLost implements Indicator.ConnectionLost.
func (vi *VideoIndicator) ConnectionLost() {
	vi.v.ConnectionLost()
}

// Shutdown implements Indicator.Shutdown.
func (vi *VideoIndicator) Shutdown() {
	vi.v.Shutdown()
}

// Release implements Indicator.Release.
func (vi *VideoIndicator) Release() error {
	return vi.v.Release()
}

// Video returns the underlying video.Video for direct access (e.g., rotary display).
func (vi *VideoIndicator) Video() *video.Video {
	return vi.v
}
