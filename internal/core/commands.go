package core

import (
	"context"

	"github.com/phiasco12/liveocr/internal/control"
)

// controller adapts Service to control.Controller.
type controller struct {
	s *Service
}

var _ control.Controller = controller{}

// StartSession starts a session from a control command. Engine overrides
// apply on top of the current defaults.
func (c controller) StartSession(_ context.Context, req control.StartRequest) (string, error) {
	opts := SessionOptions{ID: req.SessionID, Timeout: req.Timeout}
	if req.Engine != nil {
		engine, err := req.Engine(c.s.EngineDefaults())
		if err != nil {
			return "", err
		}
		opts.Engine = engine
	}

	sess, err := c.s.StartSession(opts)
	if err != nil {
		return "", err
	}
	return sess.ID(), nil
}

func (c controller) StopSession(id string) error { return c.s.StopSession(id) }

func (c controller) Status() any { return c.s.Status() }
