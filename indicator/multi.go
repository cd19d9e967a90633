package indicator

import "jellytap/video"

// Multi combines multiple Indicator implementations.
type Multi struct {
	indicators []Indicator
}

func (m *Multi) each(fn func(Indicator)) {
	for _, ind := range m.indicators {
		fn(ind)
	}
}

func (m *Multi) Idle()                 { m.each(func(i Indicator) { i.Idle() }) }
func (m *Multi) Working(info *TapInfo) { m.each(func(i Indicator) { i.Working(info) }) }
func (m *Multi) Playing(info *TapInfo) { m.each(func(i Indicator) { i.Playing(info) }) }
func (m *Multi) Failed(info *TapInfo)  { m.each(func(i Indicator) { i.Failed(info) }) }
func (m *Multi) ConnectionLost()       { m.each(func(i Indicator) { i.ConnectionLost() }) }
func (m *Multi) Shutdown()             { m.each(func(i Indicator) { i.Shutdown() }) }

// SetConnected forwards to members that track connection state.
func (m *Multi) SetConnected() {
	m.each(func(i Indicator) {
		if c, ok := i.(interface{ SetConnected() }); ok {
			c.SetConnected()
		}
	})
}

// Release implements Indicator.Release. It returns the last error seen.
func (m *Multi) Release() error {
	var lastErr error
	for _, ind := range m.indicators {
		if err := ind.Release(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Video returns the first member's screen, or nil.
func (m *Multi) Video() *video.Video {
	for _, ind := range m.indicators {
		if v, ok := ind.(interface{ Video() *video.Video }); ok && v.Video() != nil {
			return v.Video()
		}
	}
	return nil
}
