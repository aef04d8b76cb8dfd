package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var (
		mu  sync.Mutex
		got []Event
	)
	bus.Subscribe(EventCommandApplied, "test.applied", func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})

	bus.Emit(context.Background(), Event{
		Type:    EventCommandApplied,
		Source:  "endpoint:8080",
		Payload: CommandPayload{Port: 8080, Version: 1},
	})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Time.IsZero())
	assert.Equal(t, 8080, got[0].Payload.(CommandPayload).Port)
}

func TestEmitIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls int32
	bus.Subscribe(EventStateQueried, "test.queried", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventUnknownCommand})
	bus.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("sink down")
	bus.Subscribe(EventSnapshot, "test.fail", func(ctx context.Context, e Event) error {
		return boom
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventSnapshot})
	assert.ErrorIs(t, err, boom)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	bus.Subscribe(EventShutdown, "test.panic", func(ctx context.Context, e Event) error {
		panic("boom")
	})

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), Event{Type: EventShutdown})
		bus.Wait()
	})
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()

	bus.Subscribe(EventSnapshot, "a", func(ctx context.Context, e Event) error { return nil })
	bus.Subscribe(EventSnapshot, "b", func(ctx context.Context, e Event) error { return nil })
	assert.Equal(t, 2, bus.HandlerCount(EventSnapshot))

	bus.Unsubscribe(EventSnapshot, "a")
	assert.Equal(t, 1, bus.HandlerCount(EventSnapshot))

	bus.Stop()
	bus.Stop()

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventSnapshot}))
}

func TestSubscriberSeesEmitOrder(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var (
		mu       sync.Mutex
		versions []uint64
	)
	record := func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, e.Payload.(CommandPayload).Version)
		return nil
	}
	bus.Subscribe(EventCommandApplied, "test.ordered", record)
	bus.Subscribe(EventStateQueried, "test.ordered", record)

	const n = 500
	for v := uint64(1); v <= n; v++ {
		typ := EventCommandApplied
		if v%3 == 0 {
			typ = EventStateQueried
		}
		bus.Emit(context.Background(), Event{Type: typ, Payload: CommandPayload{Port: 8080, Version: v}})
	}
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, versions, n)
	for i, v := range versions {
		require.Equal(t, uint64(i+1), v)
	}
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	release := make(chan struct{})
	var handled atomic.Int32
	bus.Subscribe(EventCommandApplied, "test.slow", func(ctx context.Context, e Event) error {
		<-release
		handled.Add(1)
		return nil
	})

	emitted := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Emit(context.Background(), Event{Type: EventCommandApplied})
		}
		close(emitted)
	}()

	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}

	close(release)
	bus.Wait()
	assert.Equal(t, int32(100), handled.Load())
}

func TestStopDrainsQueuedEvents(t *testing.T) {
	bus := NewEventBus()

	var handled atomic.Int32
	bus.Subscribe(EventSnapshot, "test.drain", func(ctx context.Context, e Event) error {
		time.Sleep(time.Millisecond)
		handled.Add(1)
		return nil
	})

	for i := 0; i < 20; i++ {
		bus.Emit(context.Background(), Event{Type: EventSnapshot})
	}
	bus.Stop()

	assert.Equal(t, int32(20), handled.Load())
	bus.Emit(context.Background(), Event{Type: EventSnapshot})
	bus.Wait()
	assert.Equal(t, int32(20), handled.Load())
}

func TestResubscribeAfterUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls atomic.Int32
	h := func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	}
	bus.Subscribe(EventSnapshot, "test.again", h)
	bus.Unsubscribe(EventSnapshot, "test.again")
	bus.Subscribe(EventSnapshot, "test.again", h)

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventSnapshot}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestVersionGate(t *testing.T) {
	var g VersionGate

	assert.True(t, g.Advance(8080, 1))
	assert.True(t, g.Advance(8080, 3))
	assert.False(t, g.Advance(8080, 2))
	assert.False(t, g.Advance(8080, 3))
	assert.True(t, g.Advance(8081, 1))

	v, ok := g.Last(8080)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), v)

	_, ok = g.Last(9999)
	assert.False(t, ok)
}
