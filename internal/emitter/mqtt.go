package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/phiasco12/liveocr/modules/framebus"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// MQTTOptions configures Connect.
type MQTTOptions struct {
	Broker   string // host:port or a full URL (tcp://, ssl://, ws://)
	ClientID string
}

// Connect establishes a broker connection with automatic reconnection.
// The returned client is shared by the result sink and the control plane.
func Connect(ctx context.Context, o MQTTOptions) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(o.Broker))
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("emitter: mqtt connection established",
			"broker", o.Broker,
			"client_id", o.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", o.Broker,
		)
	}

	client := mqtt.NewClient(opts)
	slog.Info("emitter: connecting to mqtt broker", "broker", o.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return nil, fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	return client, nil
}

// brokerURL accepts "host:port" as shorthand for tcp://host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// MQTTSink publishes results to {results}/{session_id} and session events
// to {events}/{session_id}.
type MQTTSink struct {
	client       mqtt.Client
	resultsTopic string
	eventsTopic  string
	qos          byte

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

// NewMQTTSink wraps a connected client.
func NewMQTTSink(client mqtt.Client, resultsTopic, eventsTopic string, qos byte) *MQTTSink {
	return &MQTTSink{
		client:       client,
		resultsTopic: resultsTopic,
		eventsTopic:  eventsTopic,
		qos:          qos,
		published:    make(map[string]uint64),
	}
}

// Deliver implements Sink.
func (s *MQTTSink) Deliver(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(NewPayload(d))
	if err != nil {
		s.countError()
		return fmt.Errorf("emitter: marshal result: %w", err)
	}
	return s.publish(ctx, fmt.Sprintf("%s/%s", s.resultsTopic, d.SessionID), s.qos, payload)
}

// EventPayload is the wire form of a session event.
type EventPayload struct {
	SessionID   string    `json:"session_id"`
	Event       string    `json:"event"`
	Seq         uint64    `json:"seq"`
	Count       uint32    `json:"count"`
	HeldMS      int64     `json:"held_ms"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PublishEvent publishes a session event at QoS 0 (progress is lossy).
// Terminal events use the configured QoS.
func (s *MQTTSink) PublishEvent(ctx context.Context, ev framebus.Event) error {
	payload, err := json.Marshal(EventPayload{
		SessionID:   ev.SessionID,
		Event:       ev.Kind.String(),
		Seq:         ev.Seq,
		Count:       ev.Count,
		HeldMS:      ev.Held.Milliseconds(),
		Fingerprint: ev.Fingerprint,
		Reason:      ev.Reason,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		s.countError()
		return fmt.Errorf("emitter: marshal event: %w", err)
	}

	qos := byte(0)
	if ev.Kind.Terminal() {
		qos = s.qos
	}
	return s.publish(ctx, fmt.Sprintf("%s/%s", s.eventsTopic, ev.SessionID), qos, payload)
}

func (s *MQTTSink) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !s.client.IsConnected() {
		s.countError()
		return ErrNotConnected
	}

	token := s.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		s.countError()
		return fmt.Errorf("emitter: publish timeout on %s", topic)
	case <-ctx.Done():
		s.countError()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Stats contains sink statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns a snapshot of the sink counters.
func (s *MQTTSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return Stats{
		Connected: s.client.IsConnected(),
		Published: published,
		Errors:    s.errors,
	}
}
