package state

// Signal coalesces change notifications for consumers that redraw or
// re-publish on any store mutation. Notify never blocks; a pending
// notification absorbs later ones.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a refresh signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify marks the state as dirty.
func (s *Signal) Notify() {
	if s == nil {
		return
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that fires when state changed.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
