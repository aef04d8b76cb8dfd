package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/protocol"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Entry{Port: 8080, Command: "on", State: "on", Changed: true, Version: 1, Remote: "10.0.0.1:1"}))
	require.NoError(t, j.Record(ctx, Entry{Port: 8081, Command: "get", State: "off"}))
	require.NoError(t, j.Record(ctx, Entry{Port: 8080, Command: "off", State: "off", Changed: true, Version: 2}))

	entries, err := j.Recent(ctx, 8080, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "off", entries[0].Command)
	assert.Equal(t, uint64(2), entries[0].Version)
	assert.Equal(t, "on", entries[1].Command)
	assert.True(t, entries[1].Changed)
	assert.Equal(t, "10.0.0.1:1", entries[1].Remote)
	assert.False(t, entries[1].CreatedAt.IsZero())

	entries, err = j.Recent(ctx, 8080, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "off", entries[0].Command)

	entries, err = j.Recent(ctx, 9999, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, j.Record(ctx, Entry{Port: 8080, Command: "on", State: "on", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, j.Record(ctx, Entry{Port: 8080, Command: "off", State: "off", CreatedAt: now}))

	removed, err := j.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := j.Recent(ctx, 8080, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "off", entries[0].Command)
}

func TestSubscribeRecordsBusEvents(t *testing.T) {
	j := openTestJournal(t)
	bus := events.NewEventBus()
	j.Subscribe(bus)

	ctx := context.Background()
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type: events.EventCommandApplied,
		Payload: events.CommandPayload{
			Port: 8080, Command: protocol.CommandOn, Raw: []byte{0x01},
			State: protocol.On, Changed: true, Version: 1,
		},
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type: events.EventUnknownCommand,
		Payload: events.CommandPayload{
			Port: 8080, Command: protocol.CommandUnknown, Raw: []byte{0x07},
		},
	}))

	entries, err := j.Recent(ctx, 8080, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "unknown", entries[0].Command)
	assert.Equal(t, "07", entries[0].Raw)
	assert.Equal(t, "on", entries[1].Command)
	assert.NotEmpty(t, entries[1].EventID)

	j.Unsubscribe(bus)
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventCommandApplied,
		Payload: events.CommandPayload{Port: 8080, Command: protocol.CommandOff},
	}))
	entries, err = j.Recent(ctx, 8080, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
