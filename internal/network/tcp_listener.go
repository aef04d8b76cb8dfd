package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/protocol"
)

// acceptBackoff keeps a persistently failing Accept from spinning.
const acceptBackoff = 100 * time.Millisecond

// Endpoint emulates one relay device: a TCP listener bound to one port and
// the state cell behind it. Connections are handled strictly one at a time
// on the accept loop's goroutine, so commands apply in accept order.
type Endpoint struct {
	port     int
	addr     string
	cell     Cell
	eventBus *events.EventBus
	opts     HandlerOptions
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewEndpoint creates an endpoint for cell that will listen on addr.
// port is the configured port the cell is keyed by; eventBus may be nil.
func NewEndpoint(port int, addr string, cell Cell, eventBus *events.EventBus, opts HandlerOptions) *Endpoint {
	return &Endpoint{
		port:     port,
		addr:     addr,
		cell:     cell,
		eventBus: eventBus,
		opts:     opts,
		logger:   log.With().Str("component", "endpoint").Int("port", port).Logger(),
		ready:    make(chan struct{}),
	}
}

// Port returns the configured port of this endpoint.
func (e *Endpoint) Port() int {
	return e.port
}

// Listen binds the listener. SO_REUSEADDR allows rebinding right after a restart.
func (e *Endpoint) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", e.addr)
	if err != nil {
		return fmt.Errorf("failed to start relay endpoint on %s: %w", e.addr, err)
	}

	e.mu.Lock()
	e.listener = ln
	e.mu.Unlock()
	close(e.ready)

	e.logger.Info().Str("addr", ln.Addr().String()).Msg("relay endpoint listening")
	return nil
}

// Serve runs the accept-and-handle loop until ctx is cancelled or Stop is called.
func (e *Endpoint) Serve(ctx context.Context) error {
	e.mu.Lock()
	ln := e.listener
	e.mu.Unlock()
	if ln == nil {
		return errors.New("relay endpoint is not listening")
	}

	e.emit(ctx, events.EventEndpointStarted, events.EndpointPayload{Port: e.port, Addr: ln.Addr().String()})
	defer e.emit(context.Background(), events.EventEndpointStopped, events.EndpointPayload{Port: e.port, Addr: ln.Addr().String()})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				e.logger.Info().Msg("relay endpoint stopping")
				return nil
			}
			e.logger.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(acceptBackoff)
			continue
		}

		res := HandleConn(conn, e.cell, e.opts)
		e.report(ctx, res)
	}
}

// Start binds and serves. It blocks until the endpoint stops.
func (e *Endpoint) Start(ctx context.Context) error {
	if err := e.Listen(ctx); err != nil {
		return err
	}
	return e.Serve(ctx)
}

// Ready is closed once the listener is bound.
func (e *Endpoint) Ready() <-chan struct{} {
	return e.ready
}

// Addr returns the bound address, or nil before Listen succeeded.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Stop closes the listener, which ends Serve.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Close()
	}
	return nil
}

// report logs one handled connection and publishes it on the event bus.
func (e *Endpoint) report(ctx context.Context, res Result) {
	logger := e.logger.With().
		Str("remote", res.Remote).
		Str("conn_id", res.ConnID).
		Logger()

	if res.Err != nil && res.Command == protocol.CommandEmpty {
		logger.Warn().Err(res.Err).Msg("failed to read command, connection closed")
		return
	}

	payload := events.CommandPayload{
		ConnID:   res.ConnID,
		Port:     e.port,
		Remote:   res.Remote,
		Command:  res.Command,
		Raw:      res.Raw,
		State:    res.State,
		Previous: res.Previous,
		Changed:  res.Changed,
		Version:  res.Version,
	}

	if len(res.Raw) > 1 {
		logger.Debug().Int("length", len(res.Raw)).Msg("trailing bytes after command ignored")
	}

	switch res.Command {
	case protocol.CommandOn, protocol.CommandOff:
		logger.Info().
			Str("command", res.Command.String()).
			Str("state", res.State.String()).
			Bool("changed", res.Changed).
			Uint64("version", res.Version).
			Msg("state updated")
		e.emit(ctx, events.EventCommandApplied, payload)

	case protocol.CommandGet:
		if res.Err != nil {
			logger.Warn().Err(res.Err).Msg("state query reply failed")
		} else {
			logger.Debug().Str("state", res.State.String()).Msg("state queried")
		}
		e.emit(ctx, events.EventStateQueried, payload)

	case protocol.CommandEmpty:
		logger.Debug().Msg("peer closed without sending a command, ignored")
		e.emit(ctx, events.EventUnknownCommand, payload)

	default:
		logger.Info().
			Str("byte", protocol.Hex(res.Raw[0])).
			Int("length", len(res.Raw)).
			Msg("unrecognized command byte, no response sent")
		e.emit(ctx, events.EventUnknownCommand, payload)
	}
}

func (e *Endpoint) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Emit(ctx, events.Event{
		Type:    t,
		Source:  fmt.Sprintf("endpoint:%d", e.port),
		Payload: payload,
	})
}
