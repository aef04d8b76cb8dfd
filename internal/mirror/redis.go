// Package mirror copies relay state into Redis so other processes can read
// it without speaking the relay protocol.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/relaybench/relaybench/internal/config"
	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/util"
)

const handlerName = "redis.mirror"

// Keys builds the Redis key and channel names under a prefix.
type Keys struct {
	Prefix string
}

// Port is the key holding "0" or "1" for a port.
func (k Keys) Port(port int) string {
	return fmt.Sprintf("%s:port:%d", k.Prefix, port)
}

// Events is the pub/sub channel for state changes.
func (k Keys) Events() string {
	return k.Prefix + ":events"
}

// ChangeMessage is published on the events channel for each state change.
type ChangeMessage struct {
	EventID  string    `json:"event_id"`
	Port     int       `json:"port"`
	State    string    `json:"state"`
	Previous string    `json:"previous"`
	Version  uint64    `json:"version"`
	Remote   string    `json:"remote"`
	Time     time.Time `json:"time"`
}

// Mirror writes every applied command to Redis.
type Mirror struct {
	client   *redis.Client
	keys     Keys
	eventBus *events.EventBus
	timeout  time.Duration
	logger   zerolog.Logger

	applied events.VersionGate
}

// New creates a Mirror from the Redis settings. It does not connect.
func New(cfg config.RedisConfig, eventBus *events.EventBus) *Mirror {
	prefix := strings.TrimSuffix(cfg.KeyPrefix, ":")
	if prefix == "" {
		prefix = "relaybench"
	}

	timeout := time.Duration(cfg.WriteTimeout) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		WriteTimeout: timeout,
	})

	return &Mirror{
		client:   client,
		keys:     Keys{Prefix: prefix},
		eventBus: eventBus,
		timeout:  timeout,
		logger:   util.ComponentLogger("mirror"),
	}
}

// Start pings Redis, writes the initial state of every port and subscribes
// to state changes. It blocks until ctx is cancelled.
func (m *Mirror) Start(ctx context.Context, initial []events.PortSnapshot) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping %s failed: %w", m.client.Options().Addr, err)
	}

	if err := m.Seed(ctx, initial); err != nil {
		return err
	}

	m.eventBus.Subscribe(events.EventCommandApplied, handlerName, m.onCommandApplied)
	defer m.eventBus.Unsubscribe(events.EventCommandApplied, handlerName)

	m.logger.Info().Str("addr", m.client.Options().Addr).Msg("redis mirror started")
	<-ctx.Done()
	return nil
}

// Seed writes the state of every port. Ports already mirrored at a newer
// version are left alone.
func (m *Mirror) Seed(ctx context.Context, ports []events.PortSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range ports {
			if !m.applied.Advance(p.Port, p.Version) {
				continue
			}
			pipe.Set(ctx, m.keys.Port(p.Port), stateValue(bool(p.State)), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis seed failed: %w", err)
	}
	return nil
}

// Apply writes one state change and publishes it.
func (m *Mirror) Apply(ctx context.Context, eventID string, payload events.CommandPayload) error {
	msg, err := json.Marshal(ChangeMessage{
		EventID:  eventID,
		Port:     payload.Port,
		State:    payload.State.String(),
		Previous: payload.Previous.String(),
		Version:  payload.Version,
		Remote:   payload.Remote,
		Time:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.keys.Port(payload.Port), stateValue(bool(payload.State)), 0)
		pipe.Publish(ctx, m.keys.Events(), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis mirror port %d: %w", payload.Port, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (m *Mirror) Close() error {
	return m.client.Close()
}

func (m *Mirror) onCommandApplied(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CommandPayload)
	if !ok || !payload.Changed {
		return nil
	}
	if !m.applied.Advance(payload.Port, payload.Version) {
		m.logger.Debug().
			Int("port", payload.Port).
			Uint64("version", payload.Version).
			Msg("stale state change skipped")
		return nil
	}
	return m.Apply(ctx, event.ID, payload)
}

func stateValue(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
