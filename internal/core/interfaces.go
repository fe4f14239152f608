package core

import (
	"context"

	"github.com/phiasco12/liveocr/modules/framebus"
)

// EventPublisher receives session events.
// emitter.MQTTSink implements this interface.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev framebus.Event) error
}
