package mirror

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybench/relaybench/internal/config"
	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/protocol"
)

func TestKeys(t *testing.T) {
	keys := Keys{Prefix: "lab"}
	assert.Equal(t, "lab:port:8080", keys.Port(8080))
	assert.Equal(t, "lab:events", keys.Events())
}

func TestNewNormalizesPrefix(t *testing.T) {
	m := New(config.RedisConfig{Address: "localhost:6379", KeyPrefix: "lab:"}, events.NewEventBus())
	defer m.Close()
	assert.Equal(t, "lab", m.keys.Prefix)

	m = New(config.RedisConfig{Address: "localhost:6379"}, events.NewEventBus())
	defer m.Close()
	assert.Equal(t, "relaybench", m.keys.Prefix)
}

func TestStateValue(t *testing.T) {
	assert.Equal(t, "1", stateValue(bool(protocol.On)))
	assert.Equal(t, "0", stateValue(bool(protocol.Off)))
}

func unreachableAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestStartFailsWithoutRedis(t *testing.T) {
	m := New(config.RedisConfig{Address: unreachableAddr(t), DialTimeout: 1, WriteTimeout: 1}, events.NewEventBus())
	defer m.Close()

	err := m.Start(context.Background(), nil)
	assert.Error(t, err)
}

func TestUnchangedCommandSkipsRedis(t *testing.T) {
	m := New(config.RedisConfig{Address: unreachableAddr(t), DialTimeout: 1, WriteTimeout: 1}, events.NewEventBus())
	defer m.Close()

	err := m.onCommandApplied(context.Background(), events.Event{
		Payload: events.CommandPayload{Port: 8080, Command: protocol.CommandOn, State: protocol.On, Changed: false},
	})
	assert.NoError(t, err)

	err = m.onCommandApplied(context.Background(), events.Event{
		Payload: events.CommandPayload{Port: 8080, Command: protocol.CommandOn, State: protocol.On, Changed: true},
	})
	assert.Error(t, err)
}

func newMiniMirror(t *testing.T) (*Mirror, *miniredis.Miniredis, *events.EventBus) {
	t.Helper()
	mr := miniredis.RunT(t)
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	m := New(config.RedisConfig{Address: mr.Addr(), KeyPrefix: "bench", DialTimeout: 1, WriteTimeout: 1}, bus)
	t.Cleanup(func() { m.Close() })
	return m, mr, bus
}

func TestSeedWritesEveryPort(t *testing.T) {
	m, mr, _ := newMiniMirror(t)

	require.NoError(t, m.Seed(context.Background(), []events.PortSnapshot{
		{Port: 8080, State: protocol.On, Version: 2},
		{Port: 8081, State: protocol.Off},
	}))

	mr.CheckGet(t, "bench:port:8080", "1")
	mr.CheckGet(t, "bench:port:8081", "0")
}

func TestApplySetsKeyAndPublishes(t *testing.T) {
	m, mr, _ := newMiniMirror(t)
	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, "bench:events")
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Apply(ctx, "evt-7", events.CommandPayload{
		Port: 8081, Command: protocol.CommandOn, State: protocol.On,
		Previous: protocol.Off, Changed: true, Version: 5, Remote: "10.0.0.9:4000",
	}))
	mr.CheckGet(t, "bench:port:8081", "1")

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := ps.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var change ChangeMessage
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &change))
	assert.Equal(t, "evt-7", change.EventID)
	assert.Equal(t, 8081, change.Port)
	assert.Equal(t, "on", change.State)
	assert.Equal(t, "off", change.Previous)
	assert.Equal(t, uint64(5), change.Version)
	assert.Equal(t, "10.0.0.9:4000", change.Remote)
	assert.False(t, change.Time.IsZero())
}

func TestStartMirrorsBusEventsInOrder(t *testing.T) {
	m, mr, bus := newMiniMirror(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx, []events.PortSnapshot{{Port: 8080}}) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool {
		return bus.HandlerCount(events.EventCommandApplied) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mr.CheckGet(t, "bench:port:8080", "0")

	// Back-to-back changes must leave the key on the last one.
	for round := 0; round < 50; round++ {
		base := uint64(round * 20)
		var last protocol.State
		for i := uint64(1); i <= 20; i++ {
			last = protocol.State(i%2 == 1)
			bus.Emit(context.Background(), events.Event{
				Type: events.EventCommandApplied,
				Payload: events.CommandPayload{
					Port: 8080, Command: protocol.CommandOn, State: last,
					Previous: !last, Changed: true, Version: base + i,
				},
			})
		}
		bus.Wait()
		want := "0"
		if last {
			want = "1"
		}
		mr.CheckGet(t, "bench:port:8080", want)
	}
}

func TestStaleVersionIsNotMirrored(t *testing.T) {
	m, mr, _ := newMiniMirror(t)
	ctx := context.Background()

	apply := func(state protocol.State, version uint64) {
		require.NoError(t, m.onCommandApplied(ctx, events.Event{
			Payload: events.CommandPayload{Port: 8080, State: state, Changed: true, Version: version},
		}))
	}

	apply(protocol.On, 3)
	apply(protocol.Off, 2)
	mr.CheckGet(t, "bench:port:8080", "1")

	apply(protocol.Off, 4)
	mr.CheckGet(t, "bench:port:8080", "0")
}
