// Package events defines event types and payloads for the relaybench event system.
package events

import (
	"time"

	"github.com/relaybench/relaybench/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Relay protocol events, emitted by endpoints after each connection
	EventCommandApplied EventType = "command_applied"
	EventStateQueried   EventType = "state_queried"
	EventUnknownCommand EventType = "unknown_command"

	// Endpoint lifecycle events
	EventEndpointStarted EventType = "endpoint_started"
	EventEndpointStopped EventType = "endpoint_stopped"

	// Periodic state snapshot from the scheduler
	EventSnapshot EventType = "snapshot"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	ID      string
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// CommandPayload describes one handled relay connection.
// It is the payload of EventCommandApplied, EventStateQueried and EventUnknownCommand.
type CommandPayload struct {
	ConnID   string           `json:"conn_id"`
	Port     int              `json:"port"`
	Remote   string           `json:"remote"`
	Command  protocol.Command `json:"command"`
	Raw      []byte           `json:"raw,omitempty"`
	State    protocol.State   `json:"state"`
	Previous protocol.State   `json:"previous"`
	Changed  bool             `json:"changed"`
	Version  uint64           `json:"version"`
}

// EndpointPayload is emitted when a port starts or stops listening.
type EndpointPayload struct {
	Port int    `json:"port"`
	Addr string `json:"addr"`
}

// PortSnapshot is a point-in-time view of one port's state cell.
type PortSnapshot struct {
	Port       int            `json:"port"`
	State      protocol.State `json:"state"`
	Version    uint64         `json:"version"`
	ChangedAt  time.Time      `json:"changed_at"`
	OnCount    uint64         `json:"on_count"`
	OffCount   uint64         `json:"off_count"`
	GetCount   uint64         `json:"get_count"`
	NoopCount  uint64         `json:"noop_count"`
	LastRemote string         `json:"last_remote,omitempty"`
}

// SnapshotPayload carries the state of every port.
type SnapshotPayload struct {
	Ports []PortSnapshot `json:"ports"`
}
