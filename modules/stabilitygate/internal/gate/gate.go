// Package gate implements the single-fire emission gate.
//
// This package is INTERNAL - clients MUST use the public API in
// modules/stabilitygate.
package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/fingerprint"
	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/tracker"
)

// State is the gate lifecycle state.
type State int

const (
	StateArmed State = iota
	StateFired
	StateCancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Kind classifies an Offer.
type Kind int

const (
	// Pending: gate still armed, window not yet stable.
	Pending Kind = iota
	// Fired: this call won the Armed -> Fired transition.
	Fired
	// AlreadyFired: the gate fired earlier; nothing was done.
	AlreadyFired
	// Cancelled: the gate was cancelled; nothing was done.
	Cancelled
)

// String returns the lowercase outcome name.
func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Fired:
		return "fired"
	case AlreadyFired:
		return "already_fired"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the committed outcome of a fired gate.
type Result struct {
	Fingerprint fingerprint.Fingerprint
	Seq         uint64
	Timestamp   time.Time
	Mode        tracker.Mode
	// Count is the run length that triggered firing.
	Count uint32
	// Held is the anchored duration that triggered firing (duration mode).
	Held time.Duration
}

// Outcome is returned by Offer.
type Outcome struct {
	Kind Kind
	// Result is set only when Kind == Fired.
	Result *Result
	// Count and Held snapshot the window after the observation (Pending).
	Count uint32
	Held  time.Duration
}

// ReleaseFunc is invoked exactly once, by whichever call performed the
// terminal transition. res is nil for cancellation.
type ReleaseFunc func(state State, res *Result)

// terminal is the value stored once the gate leaves Armed.
type terminal struct {
	state  State
	result *Result
}

// Gate wraps a Tracker with exactly-once emission.
//
// The terminal transition is a single compare-and-swap on term
// (nil means Armed). Offer performs its swap while holding mu, so the
// first observation the tracker reports stable is the one that fires.
// mu is never held while extracting or while running the release callback.
type Gate struct {
	extractor fingerprint.Extractor

	mu      sync.Mutex
	tracker *tracker.Tracker

	term    atomic.Pointer[terminal]
	done    chan struct{}
	release ReleaseFunc
}

// New creates an armed gate.
func New(ex fingerprint.Extractor, tr *tracker.Tracker, release ReleaseFunc) *Gate {
	return &Gate{
		extractor: ex,
		tracker:   tr,
		done:      make(chan struct{}),
		release:   release,
	}
}

// Offer classifies one observation. Never blocks on I/O.
func (g *Gate) Offer(obs *fingerprint.Observation) Outcome {
	if out, ok := g.terminalOutcome(); ok {
		return out
	}

	fp := g.extractor.Extract(obs)

	var seq uint64
	var ts time.Time
	if obs != nil {
		seq, ts = obs.Seq, obs.Timestamp
	}

	g.mu.Lock()
	// Re-check under the lock: a concurrent Offer may have fired while we
	// were extracting, and the tracker must not advance past a terminal state.
	if out, ok := g.terminalOutcome(); ok {
		g.mu.Unlock()
		return out
	}
	v := g.tracker.Observe(fp, ts)
	if !v.Stable {
		g.mu.Unlock()
		return Outcome{Kind: Pending, Count: v.Count, Held: v.Held}
	}

	res := &Result{
		Fingerprint: v.Fingerprint,
		Seq:         seq,
		Timestamp:   ts,
		Mode:        g.tracker.Window().Mode,
		Count:       v.Count,
		Held:        v.Held,
	}
	t := &terminal{state: StateFired, result: res}
	won := g.term.CompareAndSwap(nil, t)
	g.mu.Unlock()

	if !won {
		// Cancel got in between the re-check and the swap.
		out, _ := g.terminalOutcome()
		return out
	}
	g.finish(t)
	return Outcome{Kind: Fired, Result: res, Count: v.Count, Held: v.Held}
}

// Cancel moves Armed -> Cancelled. Returns true only for the call that
// performed the transition; no-op once fired or cancelled.
func (g *Gate) Cancel() bool {
	t := &terminal{state: StateCancelled}
	if !g.term.CompareAndSwap(nil, t) {
		return false
	}
	g.finish(t)
	return true
}

// State returns the current state.
func (g *Gate) State() State {
	if t := g.term.Load(); t != nil {
		return t.state
	}
	return StateArmed
}

// Result returns the committed result once fired.
func (g *Gate) Result() (Result, bool) {
	t := g.term.Load()
	if t == nil || t.result == nil {
		return Result{}, false
	}
	return *t.result, true
}

// Done is closed when the gate leaves Armed.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Window snapshots the tracker state.
func (g *Gate) Window() tracker.Window {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tracker.Window()
}

// finish runs once, in the goroutine that won the swap.
func (g *Gate) finish(t *terminal) {
	close(g.done)
	if g.release != nil {
		g.release(t.state, t.result)
	}
}

func (g *Gate) terminalOutcome() (Outcome, bool) {
	t := g.term.Load()
	if t == nil {
		return Outcome{}, false
	}
	if t.state == StateFired {
		return Outcome{Kind: AlreadyFired}, true
	}
	return Outcome{Kind: Cancelled}, true
}
