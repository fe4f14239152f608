// Package stabilitygate decides the single moment a noisy observation
// stream has become stable, and emits that result exactly once.
//
// Pipeline per observation:
//
//	Observation → Extractor → Fingerprint → Tracker (via Policy) → Gate
//
// Design:
//   - Pure, bounded-time Offer (no I/O, no clock, no logging)
//   - Malformed input degrades to a sentinel fingerprint, never an error
//   - One atomic compare-and-swap decides the terminal state
//
// See doc.go for usage.
package stabilitygate

import (
	"fmt"

	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/fingerprint"
	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/gate"
	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/tracker"
)

// Observation is re-exported from the internal package.
// See internal/fingerprint/fingerprint.go for the immutability contract.
type Observation = fingerprint.Observation

// Fingerprint is a tagged Scalar/Text value.
type Fingerprint = fingerprint.Fingerprint

// Kind tags a Fingerprint.
type Kind = fingerprint.Kind

// Fingerprint kinds.
const (
	KindScalar = fingerprint.KindScalar
	KindText   = fingerprint.KindText
)

// PixelFormat describes Observation.Pixels.
type PixelFormat = fingerprint.PixelFormat

// Pixel formats.
const (
	FormatGray8  = fingerprint.FormatGray8
	FormatYUV420 = fingerprint.FormatYUV420
	FormatRGB24  = fingerprint.FormatRGB24
	FormatRGBA32 = fingerprint.FormatRGBA32
)

// ParsePixelFormat maps "gray8", "nv21", "rgb24", ... to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) { return fingerprint.ParsePixelFormat(s) }

// Rect and TextCandidate describe recognized text geometry.
type (
	Rect          = fingerprint.Rect
	TextCandidate = fingerprint.TextCandidate
)

// Scalar, Text and Sentinel construct fingerprints.
var (
	Scalar   = fingerprint.Scalar
	Text     = fingerprint.Text
	Sentinel = fingerprint.Sentinel
)

// Mode is the stability criterion of a fired result.
type Mode = tracker.Mode

// Modes.
const (
	ModeDuration    = tracker.ModeDuration
	ModeConsecutive = tracker.ModeConsecutive
)

// Window is a snapshot of the stability window.
type Window = tracker.Window

// State is the gate lifecycle state.
type State = gate.State

// Gate states.
const (
	StateArmed     = gate.StateArmed
	StateFired     = gate.StateFired
	StateCancelled = gate.StateCancelled
)

// OutcomeKind classifies an Offer.
type OutcomeKind = gate.Kind

// Offer outcomes.
const (
	OutcomePending      = gate.Pending
	OutcomeFired        = gate.Fired
	OutcomeAlreadyFired = gate.AlreadyFired
	OutcomeCancelled    = gate.Cancelled
)

// Outcome and Result are re-exported from internal/gate.
type (
	Outcome = gate.Outcome
	Result  = gate.Result
)

// ReleaseFunc is called exactly once when the gate leaves Armed.
// res is nil on cancellation. It runs on the goroutine that performed
// the transition (Offer or Cancel), so it MUST NOT block.
type ReleaseFunc = gate.ReleaseFunc

// Gate is one capture session's decision point.
//
// Lifecycle: New() → Offer()... → Fired | Cancelled. A Gate is never
// re-armed; create a new one per session.
//
// Thread-safety: all methods are safe for concurrent use. Offer may be
// called from several producers; Cancel from any goroutine.
type Gate interface {
	// Offer extracts, tracks and classifies one observation.
	//
	// Returns:
	//   - OutcomePending: still armed (Count/Held snapshot the window)
	//   - OutcomeFired: this call committed Result (exactly one call ever)
	//   - OutcomeAlreadyFired: fired earlier, no work done
	//   - OutcomeCancelled: cancelled earlier, no work done
	//
	// Contract: obs MUST NOT be modified by the caller after Offer starts.
	Offer(obs *Observation) Outcome

	// Cancel moves Armed → Cancelled. Idempotent; no-op once fired.
	// Returns true only for the call that performed the transition.
	Cancel() bool

	// State returns the current lifecycle state.
	State() State

	// Result returns the committed result once fired.
	Result() (Result, bool)

	// Done is closed on the terminal transition (fired or cancelled).
	// Adapters select on it to stop producing.
	Done() <-chan struct{}

	// Window snapshots the stability window.
	Window() Window
}

// Option customizes New.
type Option func(*options)

type options struct {
	release ReleaseFunc
}

// OnRelease registers the release callback.
func OnRelease(fn ReleaseFunc) Option {
	return func(o *options) { o.release = fn }
}

// New validates cfg (after applying defaults) and returns an armed Gate.
// Errors wrap ErrInvalidConfig.
func New(cfg Config, opts ...Option) (Gate, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ex, pol := cfg.build()
	if ex.Kind() != pol.Kind() {
		return nil, fmt.Errorf("%w: extractor %s does not match policy %s", ErrInvalidConfig, ex.Kind(), pol.Kind())
	}

	return gate.New(ex, tracker.New(cfg.trackerConfig(), pol), o.release), nil
}
