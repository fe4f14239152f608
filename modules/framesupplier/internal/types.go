package internal

import (
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Observation is the unit carried by the mailbox.
type Observation = stabilitygate.Observation

// Delivery is what a session reader receives: the observation plus the
// supplier's distribution sequence. Seq is assigned per distribution
// cycle and is independent of Observation.Seq (the adapter's own counter),
// so a gap in Delivery.Seq seen by one session means that session's slot
// was overwritten.
type Delivery struct {
	Obs *Observation
	Seq uint64
}

// SupplierStats is a snapshot of mailbox operational state.
type SupplierStats struct {
	// Published counts observations accepted by Publish.
	Published uint64

	// InboxDrops counts observations overwritten in the inbox before the
	// distribution loop consumed them.
	InboxDrops uint64

	// Sessions maps session ID to per-session statistics.
	Sessions map[string]SessionStats
}

// SessionStats tracks one subscribed session.
type SessionStats struct {
	SessionID string

	// LastConsumedAt is when the session last returned from its reader.
	LastConsumedAt time.Time

	// LastConsumedSeq is the Delivery.Seq of the last consumed observation.
	LastConsumedSeq uint64

	// ConsecutiveDrops resets to 0 on every consume.
	ConsecutiveDrops uint64

	// TotalDrops is the lifetime overwrite count for this slot.
	TotalDrops uint64

	// IsIdle is true when nothing was consumed for idleThreshold.
	IsIdle bool
}
