// Package telemetry publishes relay state changes and snapshots over MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/config"
	"github.com/relaybench/relaybench/internal/events"
	"github.com/relaybench/relaybench/internal/util"
)

const (
	qos = 1

	statusOnline   = "online"
	statusOffline  = "offline"
	statusShutdown = "shutdown"
)

// Topics builds the topic names under a prefix.
type Topics struct {
	Prefix string
}

// State is the retained per-port state topic.
func (t Topics) State(port int) string {
	return fmt.Sprintf("%s/port/%d/state", t.Prefix, port)
}

// Snapshot is the per-port periodic snapshot topic.
func (t Topics) Snapshot(port int) string {
	return fmt.Sprintf("%s/port/%d/snapshot", t.Prefix, port)
}

// Endpoint is the retained per-port listener status topic.
func (t Topics) Endpoint(port int) string {
	return fmt.Sprintf("%s/port/%d/endpoint", t.Prefix, port)
}

// Status carries online/offline/shutdown notices.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// publishFunc sends an encoded message. It is the broker client in production.
type publishFunc func(topic string, retained bool, payload []byte)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	topics   Topics
	send     publishFunc
	applied  events.VersionGate
	shutdown sync.Once

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	hostInfo, _ := util.CollectHostInfo(context.Background())
	handler := newHandler(mqttCfg, eventBus, map[string]interface{}{
		"hostname":    hostInfo.Hostname,
		"platform":    hostInfo.GOOS,
		"app_version": version,
	})

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(mqttCfg))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("relaybench-%s", hostInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	will, _ := json.Marshal(handler.buildMessage(map[string]string{"status": statusOffline}))
	opts.SetWill(handler.topics.Status(), string(will), qos, true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
		handler.publish(handler.topics.Status(), true, map[string]string{"status": statusOnline})
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.send = handler.clientPublish

	return handler, nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, metadata map[string]interface{}) *MQTTHandler {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "relaybench"
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		topics:   Topics{Prefix: prefix},
		metadata: metadata,
	}
}

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in MQTT CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects to the MQTT broker, subscribes to events and blocks until
// ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// mqttHandlerName is shared by every subscription so all telemetry is
// published in emit order.
const mqttHandlerName = "mqtt"

func (h *MQTTHandler) handlers() map[events.EventType]events.HandlerFunc {
	return map[events.EventType]events.HandlerFunc{
		events.EventCommandApplied:  h.onCommandApplied,
		events.EventSnapshot:        h.onSnapshot,
		events.EventEndpointStarted: h.onEndpoint,
		events.EventEndpointStopped: h.onEndpoint,
		events.EventShutdown:        h.onShutdown,
	}
}

func (h *MQTTHandler) subscribeEvents() {
	for t, fn := range h.handlers() {
		h.eventBus.Subscribe(t, mqttHandlerName, fn)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for t := range h.handlers() {
		h.eventBus.Unsubscribe(t, mqttHandlerName)
	}
}

// publish encodes payload with the handler metadata and sends it.
func (h *MQTTHandler) publish(topic string, retained bool, payload interface{}) {
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	h.mu.Lock()
	send := h.send
	h.mu.Unlock()
	if send != nil {
		send(topic, retained, data)
	}
}

func (h *MQTTHandler) clientPublish(topic string, retained bool, data []byte) {
	if !h.client.IsConnected() {
		return
	}

	token := h.client.Publish(topic, qos, retained, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onCommandApplied(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CommandPayload)
	if !ok || !payload.Changed {
		return nil
	}
	// The state topic is retained; never let an older version overwrite it.
	if !h.applied.Advance(payload.Port, payload.Version) {
		return nil
	}

	h.publish(h.topics.State(payload.Port), true, map[string]interface{}{
		"event_id": event.ID,
		"state":    payload.State,
		"previous": payload.Previous,
		"version":  payload.Version,
		"remote":   payload.Remote,
	})
	return nil
}

func (h *MQTTHandler) onSnapshot(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SnapshotPayload)
	if !ok {
		return nil
	}

	for _, port := range payload.Ports {
		h.publish(h.topics.Snapshot(port.Port), false, port)
	}
	return nil
}

func (h *MQTTHandler) onEndpoint(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.EndpointPayload)
	if !ok {
		return nil
	}

	status := "listening"
	if event.Type == events.EventEndpointStopped {
		status = "stopped"
	}
	h.publish(h.topics.Endpoint(payload.Port), true, map[string]string{
		"status": status,
		"addr":   payload.Addr,
	})
	return nil
}

func (h *MQTTHandler) onShutdown(ctx context.Context, event events.Event) error {
	h.PublishShutdown()
	return nil
}

// PublishShutdown sends a retained shutdown notice once.
func (h *MQTTHandler) PublishShutdown() {
	h.shutdown.Do(func() {
		h.publish(h.topics.Status(), true, map[string]string{"status": statusShutdown})
	})
}
