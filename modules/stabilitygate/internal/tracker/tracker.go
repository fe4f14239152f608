// Package tracker implements the stability window state machine.
//
// This package is INTERNAL - clients MUST use the public API in
// modules/stabilitygate.
package tracker

import (
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/fingerprint"
	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/policy"
)

// Mode selects the stability criterion.
type Mode int

const (
	// ModeDuration fires once a "same" run has been held for Config.Hold.
	ModeDuration Mode = iota
	// ModeConsecutive fires once a run reaches Config.Required observations.
	ModeConsecutive
)

// String returns the config spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDuration:
		return "duration"
	case ModeConsecutive:
		return "consecutive"
	default:
		return "unknown"
	}
}

// Config parameterizes a Tracker.
type Config struct {
	Mode     Mode
	Hold     time.Duration
	Required uint32
}

// Verdict is the result of one Observe call.
type Verdict struct {
	Stable      bool
	Fingerprint fingerprint.Fingerprint
	// Count is the length of the current run, baseline included.
	// Zero when the last fingerprint was a sentinel.
	Count uint32
	// Held is how long the current run has been anchored (duration mode).
	Held time.Duration
}

// Window is a read-only snapshot of the tracker state.
type Window struct {
	Mode     Mode
	Last     fingerprint.Fingerprint
	HasLast  bool
	Count    uint32
	Anchor   time.Time
	Anchored bool
	Held     time.Duration
}

// Tracker consumes (fingerprint, timestamp) pairs and reports stability.
//
// Run semantics (both modes):
//   - The first observation is baseline only: no similarity is evaluated.
//   - A divergent observation becomes the new baseline. In consecutive mode
//     the run restarts at 1, or 0 when the new baseline is a sentinel
//     (a sentinel can never be matched, so it never starts a run).
//   - The last fingerprint is replaced after every observation, including
//     the one that reports Stable.
//
// Thread-safety: NOT safe for concurrent use. The gate serializes access.
type Tracker struct {
	cfg    Config
	policy policy.Policy

	last     fingerprint.Fingerprint
	hasLast  bool
	count    uint32
	anchor   time.Time
	anchored bool
	held     time.Duration
}

// New returns a tracker comparing fingerprints with p.
func New(cfg Config, p policy.Policy) *Tracker {
	return &Tracker{cfg: cfg, policy: p}
}

// Observe feeds one fingerprint observed at now.
func (t *Tracker) Observe(fp fingerprint.Fingerprint, now time.Time) Verdict {
	if !t.hasLast {
		t.baseline(fp)
		return t.verdict(false)
	}

	if !t.policy.Same(fp, t.last) {
		t.baseline(fp)
		return t.verdict(false)
	}

	t.last = fp

	switch t.cfg.Mode {
	case ModeConsecutive:
		t.count++
		return t.verdict(t.count >= t.cfg.Required)

	default:
		t.count++
		if !t.anchored {
			t.anchor = now
			t.anchored = true
			t.held = 0
		}
		// Out-of-order timestamps never shrink the held time of a run.
		if d := now.Sub(t.anchor); d > t.held {
			t.held = d
		}
		return t.verdict(t.held >= t.cfg.Hold)
	}
}

// Window returns a snapshot of the current state.
func (t *Tracker) Window() Window {
	return Window{
		Mode:     t.cfg.Mode,
		Last:     t.last,
		HasLast:  t.hasLast,
		Count:    t.count,
		Anchor:   t.anchor,
		Anchored: t.anchored,
		Held:     t.held,
	}
}

// Reset discards all state, as if no observation had been seen.
func (t *Tracker) Reset() {
	t.last = fingerprint.Fingerprint{}
	t.hasLast = false
	t.count = 0
	t.anchor = time.Time{}
	t.anchored = false
	t.held = 0
}

func (t *Tracker) baseline(fp fingerprint.Fingerprint) {
	t.last = fp
	t.hasLast = true
	t.anchor = time.Time{}
	t.anchored = false
	t.held = 0
	if fp.IsSentinel() {
		t.count = 0
	} else {
		t.count = 1
	}
}

func (t *Tracker) verdict(stable bool) Verdict {
	return Verdict{
		Stable:      stable,
		Fingerprint: t.last,
		Count:       t.count,
		Held:        t.held,
	}
}
