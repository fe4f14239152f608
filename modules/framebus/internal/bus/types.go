package bus

import (
	"errors"
	"time"
)

// Internal errors - mapped to public errors in framebus package
var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
	ErrReceiverClosed     = errors.New("framebus: receiver is closed")
)

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy int

const (
	DropNew DropPolicy = iota
	DropOld
)

// EventKind classifies a session event
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventFired
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventFired:
		return "fired"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow for the session
func (k EventKind) Terminal() bool {
	return k == EventFired || k == EventCancelled
}

// Event is one capture-session lifecycle notification
type Event struct {
	Kind      EventKind
	SessionID string
	// Seq is the observation sequence the event refers to (0 for started)
	Seq         uint64
	Count       uint32
	Held        time.Duration
	Fingerprint string
	// Reason explains a cancellation: "timeout", "stopped", "source_failed", ...
	Reason    string
	Timestamp time.Time
}

// EventReceiver provides blocking/non-blocking latest-event access
type EventReceiver interface {
	// Receive blocks until an event newer than the last one received is
	// available. ok is false once the receiver is closed.
	Receive() (ev Event, ok bool)
	// TryReceive returns the latest unseen event without blocking
	TryReceive() (Event, bool)
	Close()
}

// SubscriberStats tracks event distribution metrics
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

// BusStats aggregates all subscribers
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// Bus distributes session events to multiple subscribers
type Bus interface {
	Subscribe(id string, ch chan<- Event) error
	SubscribeDropOld(id string) (EventReceiver, error)
	Publish(ev Event)
	Unsubscribe(id string) error
	Stats() BusStats
	Close()
}
