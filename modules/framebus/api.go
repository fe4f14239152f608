package framebus

import "github.com/phiasco12/liveocr/modules/framebus/internal/bus"

// Public API - re-export internal types as stable contract

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy = bus.DropPolicy

const (
	// DropNew drops incoming events if the subscriber's buffer is full
	DropNew = bus.DropNew
	// DropOld always accepts new events, replacing the unread one
	DropOld = bus.DropOld
)

// EventKind classifies a session event
type EventKind = bus.EventKind

const (
	EventStarted   = bus.EventStarted
	EventProgress  = bus.EventProgress
	EventFired     = bus.EventFired
	EventCancelled = bus.EventCancelled
)

// Event is one capture-session lifecycle notification
type Event = bus.Event

// EventReceiver provides blocking/non-blocking access for DropOld subscribers
type EventReceiver = bus.EventReceiver

// SubscriberStats tracks per-subscriber distribution metrics
type SubscriberStats = bus.SubscriberStats

// BusStats aggregates all subscribers
type BusStats = bus.BusStats

// Bus distributes events to multiple subscribers with configurable drop policies
type Bus = bus.Bus

// Public API errors
var (
	ErrBusClosed          = bus.ErrBusClosed
	ErrSubscriberExists   = bus.ErrSubscriberExists
	ErrSubscriberNotFound = bus.ErrSubscriberNotFound
	ErrNilChannel         = bus.ErrNilChannel
	ErrReceiverClosed     = bus.ErrReceiverClosed
)
