// Package framebus provides non-blocking distribution of capture-session
// events (started, progress, fired, cancelled) to multiple subscribers.
//
// Core Philosophy: "Drop events, never block the session."
//
// A session publishes from the same goroutine that offers observations to
// its gate, so Publish must never wait on a slow subscriber:
//   - DropNew: buffered channel; a full buffer drops the incoming event
//   - DropOld: latest-only receiver; an unread event is replaced
//
// Progress events are lossy by contract. Terminal results are delivered to
// sinks directly by the session; subscribers that need every terminal
// event should use a DropNew channel sized for their session count.
//
// Usage:
//
//	bus := framebus.New()
//	defer bus.Close()
//
//	ch := make(chan framebus.Event, 64)
//	bus.Subscribe("mqtt-events", ch)
//
//	receiver, _ := bus.SubscribeDropOld("status")
//	defer receiver.Close()
//
//	bus.Publish(framebus.Event{Kind: framebus.EventProgress, SessionID: id, Count: 2})
package framebus

import "github.com/phiasco12/liveocr/modules/framebus/internal/bus"

// New creates a new event bus.
func New() Bus {
	return bus.New()
}
