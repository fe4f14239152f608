// Package control implements the MQTT control plane: start, stop and
// status commands for capture sessions, acknowledged on {control}/ack.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Controller executes control commands. Implemented by core.Service.
type Controller interface {
	StartSession(ctx context.Context, req StartRequest) (string, error)
	StopSession(id string) error
	Status() any
}

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const (
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
	queueSize        = 10
)

// Handler handles control plane commands
type Handler struct {
	client     mqtt.Client
	topic      string
	qos        byte
	controller Controller
	commands   chan Command

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHandler creates a handler listening on topic. Acks are published to
// topic + "/ack".
func NewHandler(client mqtt.Client, topic string, qos byte, controller Controller) *Handler {
	return &Handler{
		client:     client,
		topic:      topic,
		qos:        qos,
		controller: controller,
		commands:   make(chan Command, queueSize),
	}
}

// AckTopic returns the topic responses are published on.
func (h *Handler) AckTopic() string { return h.topic + "/ack" }

// Start subscribes to the control topic and processes commands until ctx
// is cancelled or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("control: handler already started")
	}

	slog.Info("subscribing to control plane", "topic", h.topic, "qos", h.qos)

	token := h.client.Subscribe(h.topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.started = true

	go h.processCommands(ctx)

	slog.Info("control plane handler started", "ack_topic", h.AckTopic())
	return nil
}

// Stop unsubscribes and waits for the command loop to exit.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	if h.client.IsConnected() {
		token := h.client.Unsubscribe(h.topic)
		token.WaitTimeout(publishTimeout)
	}
	cancel()
	<-done

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		slog.Warn("rejected control command", "error", err)
		h.sendResponse(Response{CommandAck: "unknown", Status: StatusError, Error: err.Error()})
		return
	}

	slog.Info("control command received", "command", cmd.Command, "session_id", cmd.SessionID)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			Status:     StatusError,
			SessionID:  cmd.SessionID,
			Error:      "command queue full",
		})
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.Handle(ctx, cmd))
		}
	}
}

// Handle executes one command and returns its response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, SessionID: cmd.SessionID}

	switch cmd.Command {
	case CommandStart:
		id, err := h.controller.StartSession(ctx, cmd.StartRequest())
		if err != nil {
			resp.Status = StatusError
			resp.Error = err.Error()
			break
		}
		resp.Status = StatusOK
		resp.SessionID = id

	case CommandStop, CommandCancel:
		if err := h.controller.StopSession(cmd.SessionID); err != nil {
			resp.Status = StatusError
			resp.Error = err.Error()
			break
		}
		resp.Status = StatusOK

	case CommandStatus:
		resp.Status = StatusOK
		resp.Data = h.controller.Status()

	default:
		resp.Status = StatusError
		resp.Error = fmt.Sprintf("unknown command %q", cmd.Command)
	}
	return resp
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.AckTopic(), h.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
