package lifecycle

import "sync/atomic"

// Scope is one admitted unit of work. Release it on every exit path,
// typically with defer; only the first Release has an effect.
type Scope struct {
	m        *Manager
	released atomic.Bool
}

// Release returns the scope to the manager. If it was the last scope of a
// drain, the manager moves to Stopped.
func (s *Scope) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	s.m.release()
}
