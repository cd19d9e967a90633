package indicator

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Neopixel command strings for the external neopixel tool.
const (
	neoConnectionLost = "@2 !150000 001010"
	neoNormalIdle     = "@3 !150000 400000"
	neoWorking        = "@1 !30000 000040"
	neoPlaying        = "@1 !50000 8000"
	neoFailed         = "@2 !10000 ff"
	neoTerminated     = "@0 010101"
)

// Neopixel implements Indicator using an external neopixel tool via named pipe.
type Neopixel struct {
	mu         sync.Mutex
	pipe       io.WriteCloser
	idleString string
}

// NewNeopixel creates a new Neopixel indicator.
func NewNeopixel(pipePath string) (*Neopixel, error) {
	f, err := os.OpenFile(pipePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open neopixel pipe %s: %w", pipePath, err)
	}
	return newNeopixel(f), nil
}

func newNeopixel(w io.WriteCloser) *Neopixel {
	// Start with connection lost until connected
	return &Neopixel{pipe: w, idleString: neoConnectionLost}
}

// Idle implements Indicator.Idle.
func (n *Neopixel) Idle() {
	n.mu.Lock()
	s := n.idleString
	n.mu.Unlock()
	n.write(s)
}

// Working implements Indicator.Working.
func (n *Neopixel) Working(info *TapInfo) { n.write(neoWorking) }

// Playing implements Indicator.Playing.
func (n *Neopixel) Playing(info *TapInfo) { n.write(neoPlaying) }

// Failed implements Indicator.Failed.
func (n *Neopixel) Failed(info *TapInfo) { n.write(neoFailed) }

// ConnectionLost implements Indicator.ConnectionLost.
func (n *Neopixel) ConnectionLost() {
	n.mu.Lock()
	n.idleString = neoConnectionLost
	n.mu.Unlock()
	n.write(neoConnectionLost)
}

// Shutdown implements Indicator.Shutdown.
func (n *Neopixel) Shutdown() { n.write(neoTerminated) }

// Release implements Indicator.Release.
func (n *Neopixel) Release() error {
	if n.pipe == nil {
		return nil
	}
	return n.pipe.Close()
}

// SetConnected updates the idle string to normal when connected.
func (n *Neopixel) SetConnected() {
	n.mu.Lock()
	n.idleString = neoNormalIdle
	n.mu.Unlock()
}

func (n *Neopixel) write(s string) {
	if n.pipe != nil {
		n.pipe.Write([]byte(s))
	}
}
