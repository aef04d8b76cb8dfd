package events

import "sync"

// VersionGate tracks the newest cell version a consumer has applied per port.
// The zero value is ready to use.
type VersionGate struct {
	mu   sync.Mutex
	last map[int]uint64
}

// Advance records version for port and reports whether it is newer than
// anything seen before. Stale or repeated versions return false.
func (g *VersionGate) Advance(port int, version uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.last == nil {
		g.last = make(map[int]uint64)
	}
	if seen, ok := g.last[port]; ok && version <= seen {
		return false
	}
	g.last[port] = version
	return true
}

// Last returns the newest version recorded for port.
func (g *VersionGate) Last(port int) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.last[port]
	return v, ok
}
