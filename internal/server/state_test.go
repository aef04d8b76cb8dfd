package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybench/relaybench/internal/protocol"
)

func TestNewCellStartsOff(t *testing.T) {
	c := NewCell(8080)
	assert.Equal(t, protocol.Off, c.State())
	assert.Equal(t, uint64(0), c.Version())
	assert.Equal(t, 8080, c.Port())
}

func TestCellTransitions(t *testing.T) {
	c := NewCell(8080)

	prev, cur, v := c.Apply(protocol.CommandOn, "10.0.0.2:5000")
	assert.Equal(t, protocol.Off, prev)
	assert.Equal(t, protocol.On, cur)
	assert.Equal(t, uint64(1), v)

	changedAt := c.Snapshot().ChangedAt

	prev, cur, v = c.Apply(protocol.CommandOn, "10.0.0.2:5001")
	assert.Equal(t, protocol.On, prev)
	assert.Equal(t, protocol.On, cur)
	assert.Equal(t, uint64(2), v)
	assert.Equal(t, changedAt, c.Snapshot().ChangedAt, "idempotent ON must not move changed_at")

	prev, cur, _ = c.Apply(protocol.CommandOff, "10.0.0.2:5002")
	assert.Equal(t, protocol.On, prev)
	assert.Equal(t, protocol.Off, cur)
	assert.Equal(t, protocol.Off, c.State())
}

func TestCellCounters(t *testing.T) {
	c := NewCell(8081)
	c.Apply(protocol.CommandOn, "10.0.0.2:5000")
	c.Apply(protocol.CommandOff, "10.0.0.2:5001")
	c.Apply(protocol.CommandGet, "10.0.0.2:5002")
	_, cur, v := c.Apply(protocol.CommandGet, "10.0.0.2:5003")
	c.Apply(protocol.CommandUnknown, "10.0.0.2:5004")
	c.Apply(protocol.CommandEmpty, "10.0.0.3:5005")

	assert.Equal(t, protocol.Off, cur)
	assert.Equal(t, uint64(2), v, "GET must not bump the version")

	s := c.Snapshot()
	assert.Equal(t, uint64(1), s.OnCount)
	assert.Equal(t, uint64(1), s.OffCount)
	assert.Equal(t, uint64(2), s.GetCount)
	assert.Equal(t, uint64(2), s.NoopCount)
	assert.Equal(t, uint64(2), s.Version)
	assert.Equal(t, "10.0.0.3:5005", s.LastRemote)
}

func TestSnapshotVersionMatchesCounters(t *testing.T) {
	c := NewCell(8080)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				cmd := protocol.CommandOn
				if (i+w)%2 == 0 {
					cmd = protocol.CommandOff
				}
				c.Apply(cmd, "10.0.0.2:5000")
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		s := c.Snapshot()
		require.Equal(t, s.Version, s.OnCount+s.OffCount)
		select {
		case <-done:
			s = c.Snapshot()
			assert.Equal(t, uint64(2000), s.Version)
			return
		default:
		}
	}
}
