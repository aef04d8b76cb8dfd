package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/config"
	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/network"
)

// Manager owns the state cell of every configured port and runs one relay
// endpoint per cell. Cells are disjoint: no lock is shared between ports.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus

	ports     []int
	cells     map[int]*Cell
	endpoints map[int]*network.Endpoint

	retries    int
	retryDelay time.Duration
}

// NewManager creates a cell and an endpoint for every configured port.
func NewManager(cfg *config.Config, eventBus *events.EventBus) (*Manager, error) {
	ep := cfg.GetEndpoint()
	if len(ep.Ports) == 0 {
		return nil, fmt.Errorf("no relay ports configured")
	}

	mgr := &Manager{
		cfg:        cfg,
		eventBus:   eventBus,
		cells:      make(map[int]*Cell, len(ep.Ports)),
		endpoints:  make(map[int]*network.Endpoint, len(ep.Ports)),
		retries:    ep.BindRetries,
		retryDelay: time.Duration(ep.BindRetryDelaySec) * time.Second,
	}

	opts := network.HandlerOptions{
		ReadTimeout:  time.Duration(ep.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(ep.ReadTimeoutSec) * time.Second,
		BufferSize:   ep.ReceiveBufferSize,
	}

	for _, port := range ep.Ports {
		if _, dup := mgr.cells[port]; dup {
			return nil, fmt.Errorf("relay port %d configured more than once", port)
		}
		cell := NewCell(port)
		mgr.cells[port] = cell
		mgr.endpoints[port] = network.NewEndpoint(port, ep.Addr(port), cell, eventBus, opts)
		mgr.ports = append(mgr.ports, port)
	}
	sort.Ints(mgr.ports)

	log.Info().
		Str("host", ep.Host).
		Ints("ports", mgr.ports).
		Dur("read_timeout", opts.ReadTimeout).
		Msg("relay cells initialized (all OFF)")

	return mgr, nil
}

// Run binds and serves every endpoint, each on its own goroutine, and blocks
// until ctx is cancelled. If any port cannot be bound after the configured
// retries, the other endpoints are stopped and the bind error is returned.
func (m *Manager) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for _, port := range m.ports {
		endpoint := m.endpoints[port]
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := m.listenWithRetry(runCtx, endpoint); err != nil {
				if runCtx.Err() == nil {
					errOnce.Do(func() { firstErr = err })
					cancel()
				}
				return
			}

			if err := endpoint.Serve(runCtx); err != nil {
				log.Error().Err(err).Int("port", endpoint.Port()).Msg("relay endpoint failed")
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// listenWithRetry attempts to bind with a fixed interval between tries, which
// gives the OS time to release a port held by a killed predecessor.
func (m *Manager) listenWithRetry(ctx context.Context, endpoint *network.Endpoint) error {
	var lastErr error
	for i := 0; i <= m.retries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = endpoint.Listen(ctx)
		if lastErr == nil {
			return nil
		}
		if i < m.retries {
			log.Warn().
				Err(lastErr).
				Int("port", endpoint.Port()).
				Int("retry", i+1).
				Int("max", m.retries).
				Dur("delay", m.retryDelay).
				Msg("bind failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
	}
	return lastErr
}

// WaitReady blocks until every endpoint is listening or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	for _, port := range m.ports {
		select {
		case <-m.endpoints[port].Ready():
		case <-ctx.Done():
			return fmt.Errorf("relay port %d not ready: %w", port, ctx.Err())
		}
	}
	return nil
}

// Ports returns the configured relay ports in ascending order.
func (m *Manager) Ports() []int {
	return append([]int(nil), m.ports...)
}

// Cell returns the state cell of port.
func (m *Manager) Cell(port int) (*Cell, bool) {
	c, ok := m.cells[port]
	return c, ok
}

// Endpoint returns the relay endpoint of port.
func (m *Manager) Endpoint(port int) (*network.Endpoint, bool) {
	e, ok := m.endpoints[port]
	return e, ok
}

// Snapshot returns the state of every port, ordered by port.
func (m *Manager) Snapshot() []events.PortSnapshot {
	out := make([]events.PortSnapshot, 0, len(m.ports))
	for _, port := range m.ports {
		out = append(out, m.cells[port].Snapshot())
	}
	return out
}

// EmitSnapshot publishes the state of every port on the event bus.
func (m *Manager) EmitSnapshot(ctx context.Context) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventSnapshot,
		Source:  "manager",
		Payload: events.SnapshotPayload{Ports: m.Snapshot()},
	})
}
