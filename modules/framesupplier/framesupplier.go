// Package framesupplier is the latest-only mailbox between one observation
// source and N capture sessions.
//
// Philosophy: "Drop observations, never queue." A stability decision must
// be made on the freshest frame the source has; a backlog of stale frames
// would only delay it.
//
// Design:
//   - Non-blocking Publish (overwrite, counted as InboxDrops)
//   - Blocking per-session reader (sync.Cond mailbox, overwrite on put)
//   - Zero-copy: observations are shared by pointer (immutability contract)
package framesupplier

import (
	"context"

	"github.com/phiasco12/liveocr/modules/framesupplier/internal"
)

// Observation is the engine observation carried by the mailbox.
type Observation = internal.Observation

// Delivery pairs an observation with the supplier's distribution sequence.
type Delivery = internal.Delivery

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = internal.ErrAlreadyStarted

// Supplier distributes observations to capture sessions.
//
// Lifecycle: New() → Start() → Publish()/Subscribe() → Stop().
// All methods are safe for concurrent use.
type Supplier interface {
	// Start spawns the distribution loop and returns immediately.
	// The loop exits when ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop ends distribution and closes every session reader. An
	// observation still in the inbox is distributed first, unless the
	// Start context was already cancelled. After Stop, Publish is a no-op
	// and Subscribe returns a closed reader.
	// Idempotent.
	Stop() error

	// Publish hands the newest observation to the supplier. Never blocks.
	//
	// Contract:
	//   - obs MUST NOT be nil
	//   - obs MUST NOT be modified after Publish
	Publish(obs *Observation)

	// Subscribe registers a session and returns its blocking reader.
	//
	// The reader returns (delivery, true) for the freshest observation not
	// yet consumed, or (zero, false) once the session is unsubscribed or
	// the supplier stops and nothing is left pending. It MUST be called
	// from a single goroutine.
	//
	// Example:
	//   read := supplier.Subscribe(sessionID)
	//   defer supplier.Unsubscribe(sessionID)
	//   for {
	//       d, ok := read()
	//       if !ok { return }
	//       gate.Offer(d.Obs)
	//   }
	Subscribe(sessionID string) func() (Delivery, bool)

	// Unsubscribe closes the session's reader. Safe for unknown IDs.
	Unsubscribe(sessionID string)

	// Stats returns an operational snapshot.
	Stats() SupplierStats
}

// SupplierStats is re-exported from the internal package.
type SupplierStats = internal.SupplierStats

// SessionStats is re-exported from the internal package.
type SessionStats = internal.SessionStats

// New creates a Supplier.
func New() Supplier {
	return internal.NewSupplier()
}
