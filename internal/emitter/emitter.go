// Package emitter delivers committed results to their consumers.
package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Delivery is one committed result of one capture session.
type Delivery struct {
	SessionID string
	Result    stabilitygate.Result
}

// Sink receives committed results.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Payload is the wire form of a Delivery.
//
// Exactly one of Text or Value is set, matching Kind.
type Payload struct {
	SessionID   string    `json:"session_id"`
	Kind        string    `json:"kind"`
	Text        *string   `json:"text,omitempty"`
	Value       *float64  `json:"value,omitempty"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Mode        string    `json:"mode"`
	StableCount uint32    `json:"stable_count"`
	HeldMS      int64     `json:"held_ms"`
}

// NewPayload builds the wire payload for d.
func NewPayload(d Delivery) Payload {
	fp := d.Result.Fingerprint
	p := Payload{
		SessionID:   d.SessionID,
		Kind:        fp.Kind().String(),
		Seq:         d.Result.Seq,
		Timestamp:   d.Result.Timestamp,
		Mode:        d.Result.Mode.String(),
		StableCount: d.Result.Count,
		HeldMS:      d.Result.Held.Milliseconds(),
	}
	if fp.Kind() == stabilitygate.KindText {
		text := fp.Text()
		p.Text = &text
	} else {
		value := fp.Scalar()
		p.Value = &value
	}
	return p
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []Sink

// Deliver implements Sink. One failing sink does not stop the others.
func (m MultiSink) Deliver(ctx context.Context, d Delivery) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
