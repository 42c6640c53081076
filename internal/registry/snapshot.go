package registry

import "sync/atomic"

// atomicSnapshot gives readers a lock-free view of the current
// registry state while writers serialize through Registry.mu and
// publish a new snapshot on every mutation.
type atomicSnapshot struct {
	p atomic.Pointer[snapshot]
}

func (a *atomicSnapshot) load() *snapshot {
	return a.p.Load()
}

func (a *atomicSnapshot) store(s *snapshot) {
	a.p.Store(s)
}
