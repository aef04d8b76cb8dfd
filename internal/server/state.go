// Package server owns the emulated relay devices: one state cell per
// listening port and the Manager that runs an endpoint for each of them.
package server

import (
	"sync"
	"time"

	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/protocol"
)

// Cell is the ON/OFF state of one emulated relay. It starts OFF and only the
// port's endpoint mutates it; observers read through Snapshot.
type Cell struct {
	mu sync.RWMutex

	port  int
	state protocol.State

	// version counts accepted ON/OFF commands, idempotent ones included.
	version   uint64
	changedAt time.Time

	onCount    uint64
	offCount   uint64
	getCount   uint64
	noopCount  uint64
	lastRemote string
}

// NewCell creates a cell for port in the OFF state.
func NewCell(port int) *Cell {
	return &Cell{
		port:      port,
		state:     protocol.Off,
		changedAt: time.Now(),
	}
}

// Port returns the port the cell is keyed by.
func (c *Cell) Port() int {
	return c.port
}

// State returns the current state.
func (c *Cell) State() protocol.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Version returns the number of ON/OFF commands applied so far.
func (c *Cell) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Apply handles one command under a single lock, so a Snapshot never sees
// the version and the counters out of step. ON/OFF set the state, GET and
// anything else leave it alone.
func (c *Cell) Apply(cmd protocol.Command, remote string) (prev, cur protocol.State, version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev = c.state
	switch cmd {
	case protocol.CommandOn, protocol.CommandOff:
		next, _ := protocol.StateFromCommand(cmd)
		c.state = next
		c.version++
		if prev != next {
			c.changedAt = time.Now()
		}
		if cmd == protocol.CommandOn {
			c.onCount++
		} else {
			c.offCount++
		}
	case protocol.CommandGet:
		c.getCount++
	default:
		c.noopCount++
	}
	c.lastRemote = remote

	return prev, c.state, c.version
}

// Snapshot returns a consistent copy of the cell.
func (c *Cell) Snapshot() events.PortSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return events.PortSnapshot{
		Port:       c.port,
		State:      c.state,
		Version:    c.version,
		ChangedAt:  c.changedAt,
		OnCount:    c.onCount,
		OffCount:   c.offCount,
		GetCount:   c.getCount,
		NoopCount:  c.noopCount,
		LastRemote: c.lastRemote,
	}
}
