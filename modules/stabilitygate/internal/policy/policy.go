// Package policy decides whether two fingerprints are "the same".
//
// This package is INTERNAL - clients MUST use the public API in
// modules/stabilitygate.
package policy

import (
	"fmt"
	"math"
	"strings"

	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/fingerprint"
)

// Policy compares a current fingerprint with the previous one.
//
// Same MUST be pure. Sentinel fingerprints are never the same as anything,
// themselves included. Comparing fingerprints of different kinds panics:
// the engine builds policy and extractor from one strategy, so a mismatch
// is a wiring bug.
type Policy interface {
	Kind() fingerprint.Kind
	Same(current, previous fingerprint.Fingerprint) bool
}

// Numeric treats scalars as the same when |a-b| < Tolerance.
type Numeric struct {
	Tolerance float64
}

// Kind implements Policy.
func (p Numeric) Kind() fingerprint.Kind { return fingerprint.KindScalar }

// Same implements Policy.
func (p Numeric) Same(current, previous fingerprint.Fingerprint) bool {
	mustKind(fingerprint.KindScalar, current, previous)
	if current.IsSentinel() || previous.IsSentinel() {
		return false
	}
	return math.Abs(current.Scalar()-previous.Scalar()) < p.Tolerance
}

// Text treats strings as the same under case-insensitive equality unless
// CaseSensitive is set. Empty text always diverges.
type Text struct {
	CaseSensitive bool
}

// Kind implements Policy.
func (p Text) Kind() fingerprint.Kind { return fingerprint.KindText }

// Same implements Policy.
func (p Text) Same(current, previous fingerprint.Fingerprint) bool {
	mustKind(fingerprint.KindText, current, previous)
	if current.IsSentinel() || previous.IsSentinel() {
		return false
	}
	if p.CaseSensitive {
		return current.Text() == previous.Text()
	}
	return strings.EqualFold(current.Text(), previous.Text())
}

func mustKind(want fingerprint.Kind, a, b fingerprint.Fingerprint) {
	if a.Kind() != want || b.Kind() != want {
		panic(fmt.Sprintf("policy: %s policy cannot compare %s with %s", want, a, b))
	}
}
