//go:build !linux

package rotary

// Rotary is a stub for non-linux platforms.
type Rotary struct{}

// New returns an error on non-linux platforms.
func New(cfg Config, handlers Handlers) (*Rotary, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	return nil, ErrNotSupported
}

func (r *Rotary) Position() int64 { return 0 }
func (r *Rotary) Release() error  { return nil }
