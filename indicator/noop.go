package indicator

// Noop implements Indicator but does nothing.
// Used when no indicators are configured.
type Noop struct{}

func (n *Noop) Idle()                 {}
func (n *Noop) Working(info *TapInfo) {}
func (n *Noop) Playing(info *TapInfo) {}
func (n *Noop) Failed(info *TapInfo)  {}
func (n *Noop) ConnectionLost()       {}
func (n *Noop) Shutdown()             {}
func (n *Noop) Release() error        { return nil }
