package control

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

//go:embed command.schema.json
var commandSchemaJSON string

var commandSchema = jsonschema.MustCompileString("command.schema.json", commandSchemaJSON)

// Command names.
const (
	CommandStart  = "start"
	CommandStop   = "stop"
	CommandCancel = "cancel" // alias of stop
	CommandStatus = "status"
)

// Command represents a control plane command
type Command struct {
	Command   string  `json:"command"`
	SessionID string  `json:"session_id,omitempty"`
	Params    *Params `json:"params,omitempty"`
}

// Params carries per-session overrides for start.
type Params struct {
	TimeoutMS *uint64         `json:"timeout_ms,omitempty"`
	Engine    json.RawMessage `json:"engine,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"` // "ok" or "error"
	SessionID  string `json:"session_id,omitempty"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// ParseCommand validates raw against the command schema and decodes it.
func ParseCommand(raw []byte) (Command, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Command{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := commandSchema.Validate(doc); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}

	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("invalid command: %w", err)
	}
	return cmd, nil
}

// StartRequest is a decoded start command.
type StartRequest struct {
	SessionID string        // empty = generated
	Timeout   time.Duration // 0 = service default
	// Engine overrides the service defaults field by field; nil = defaults.
	Engine func(base stabilitygate.Config) (stabilitygate.Config, error)
}

// StartRequest decodes the params of a start command.
func (c Command) StartRequest() StartRequest {
	req := StartRequest{SessionID: c.SessionID}
	if c.Params == nil {
		return req
	}
	if c.Params.TimeoutMS != nil {
		req.Timeout = time.Duration(*c.Params.TimeoutMS) * time.Millisecond
	}
	if len(c.Params.Engine) > 0 {
		overrides := c.Params.Engine
		req.Engine = func(base stabilitygate.Config) (stabilitygate.Config, error) {
			if err := json.Unmarshal(overrides, &base); err != nil {
				return base, fmt.Errorf("engine params: %w", err)
			}
			return base, nil
		}
	}
	return req
}
