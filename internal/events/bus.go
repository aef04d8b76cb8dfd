package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe bus. Relay endpoints publish
// what they did with each connection; telemetry, the journal and the Redis
// mirror subscribe.
//
// Every subscriber name owns one queue and one worker goroutine, so a
// subscriber sees events in the order they were emitted, across all the
// event types it registered for. Emit never blocks on a slow subscriber.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	routes  map[EventType][]route
	stopCh  chan struct{}
	stopped bool

	// pending counts queued or running deliveries.
	pendMu   sync.Mutex
	pendCond *sync.Cond
	pending  int

	workers sync.WaitGroup
}

type route struct {
	sub     *subscriber
	handler HandlerFunc
}

type delivery struct {
	ctx     context.Context
	event   Event
	handler HandlerFunc
	result  chan<- error
}

// subscriber is an unbounded FIFO drained by a single worker.
type subscriber struct {
	name   string
	routes int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []delivery
	closed bool
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	eb := &EventBus{
		subs:   make(map[string]*subscriber),
		routes: make(map[EventType][]route),
		stopCh: make(chan struct{}),
	}
	eb.pendCond = sync.NewCond(&eb.pendMu)
	return eb
}

// Subscribe registers handler for eventType under name. Handlers sharing a
// name share one ordered queue.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	sub, ok := eb.subs[name]
	if !ok {
		sub = &subscriber{name: name}
		sub.cond = sync.NewCond(&sub.mu)
		eb.subs[name] = sub
		eb.workers.Add(1)
		go eb.work(sub)
	}
	sub.routes++
	eb.routes[eventType] = append(eb.routes[eventType], route{sub: sub, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes the named handler from eventType. Events already queued
// for it are still delivered.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	routes := eb.routes[eventType]
	kept := routes[:0]
	for _, r := range routes {
		if r.sub.name != name {
			kept = append(kept, r)
			continue
		}
		r.sub.routes--
		if r.sub.routes == 0 {
			delete(eb.subs, name)
			r.sub.close()
		}
	}
	eb.routes[eventType] = kept

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// stamp fills in the event ID and time when the emitter left them empty.
func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
}

// Emit queues event for every subscriber of its type and returns.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.publish(ctx, event, nil)
}

// EmitSync queues event and waits until every subscriber has handled it.
// Returns the first handler error, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	results := make(chan error, eb.HandlerCount(event.Type))
	n := eb.publish(ctx, event, results)

	var firstErr error
	for i := 0; i < n; i++ {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// publish enqueues the event and returns the number of deliveries made.
func (eb *EventBus) publish(ctx context.Context, event Event, results chan<- error) int {
	stamp(&event)

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return 0
	}

	routes := eb.routes[event.Type]
	if results != nil && cap(results) < len(routes) {
		// A subscriber was added between sizing and locking.
		routes = routes[:cap(results)]
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(routes)).
		Msg("emitting event")

	eb.addPending(len(routes))
	for _, r := range routes {
		r.sub.push(delivery{ctx: ctx, event: event, handler: r.handler, result: results})
	}
	return len(routes)
}

func (s *subscriber) push(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

// next blocks for the oldest queued delivery. ok is false once the
// subscriber is closed and drained.
func (s *subscriber) next() (d delivery, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return delivery{}, false
	}
	d = s.queue[0]
	s.queue[0] = delivery{}
	s.queue = s.queue[1:]
	return d, true
}

func (eb *EventBus) work(sub *subscriber) {
	defer eb.workers.Done()
	for {
		d, ok := sub.next()
		if !ok {
			return
		}
		err := invoke(sub.name, d)
		if d.result != nil {
			d.result <- err
		}
		eb.addPending(-1)
	}
}

func (eb *EventBus) addPending(delta int) {
	eb.pendMu.Lock()
	eb.pending += delta
	if eb.pending == 0 {
		eb.pendCond.Broadcast()
	}
	eb.pendMu.Unlock()
}

func invoke(name string, d delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(d.event.Type)).
				Str("handler", name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	err = d.handler(d.ctx, d.event)
	if err != nil {
		log.Error().
			Err(err).
			Str("event", string(d.event.Type)).
			Str("handler", name).
			Msg("handler returned error")
	}
	return err
}

// Stop rejects new events, lets every subscriber drain its queue and waits
// for the workers to exit.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for _, sub := range eb.subs {
		sub.close()
	}
	eb.mu.Unlock()

	eb.workers.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// Wait blocks until every event emitted so far has been handled.
func (eb *EventBus) Wait() {
	eb.pendMu.Lock()
	defer eb.pendMu.Unlock()
	for eb.pending > 0 {
		eb.pendCond.Wait()
	}
}

// HandlerCount returns the number of handlers registered for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.routes[eventType])
}
