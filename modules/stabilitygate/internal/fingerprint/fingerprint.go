// Package fingerprint reduces raw observations to cheap comparable values.
//
// This package is INTERNAL - clients MUST use the public API in
// modules/stabilitygate.
package fingerprint

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind tags the value carried by a Fingerprint.
type Kind int

const (
	// KindScalar carries a single numeric summary (e.g. mean brightness).
	KindScalar Kind = iota
	// KindText carries a sanitized text candidate.
	KindText
)

// String returns the lowercase kind name used in logs and payloads.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Fingerprint is a tagged value: Scalar(f64) or Text(string).
//
// Comparable only to a Fingerprint of the same Kind (see policy package).
// The zero value is Scalar(0), which is a valid fingerprint; use Sentinel
// to obtain the "never similar" value for a kind.
type Fingerprint struct {
	kind   Kind
	scalar float64
	text   string
}

// Scalar returns a numeric fingerprint.
func Scalar(v float64) Fingerprint {
	return Fingerprint{kind: KindScalar, scalar: v}
}

// Text returns a text fingerprint.
func Text(s string) Fingerprint {
	return Fingerprint{kind: KindText, text: s}
}

// Sentinel returns the value a malformed or empty observation maps to.
// Scalar(NaN) for KindScalar, Text("") for KindText.
func Sentinel(k Kind) Fingerprint {
	if k == KindText {
		return Text("")
	}
	return Scalar(math.NaN())
}

// Kind returns the tag.
func (f Fingerprint) Kind() Kind { return f.kind }

// Scalar returns the numeric value (NaN for text fingerprints).
func (f Fingerprint) Scalar() float64 {
	if f.kind != KindScalar {
		return math.NaN()
	}
	return f.scalar
}

// Text returns the text value ("" for scalar fingerprints).
func (f Fingerprint) Text() string {
	if f.kind != KindText {
		return ""
	}
	return f.text
}

// IsSentinel reports whether f can never satisfy a similarity policy.
func (f Fingerprint) IsSentinel() bool {
	switch f.kind {
	case KindScalar:
		return math.IsNaN(f.scalar) || math.IsInf(f.scalar, 0)
	case KindText:
		return f.text == ""
	default:
		return true
	}
}

// String formats the fingerprint as Scalar(v) or Text("s").
func (f Fingerprint) String() string {
	switch f.kind {
	case KindScalar:
		return "Scalar(" + strconv.FormatFloat(f.scalar, 'f', -1, 64) + ")"
	case KindText:
		return fmt.Sprintf("Text(%q)", f.text)
	default:
		return "Invalid"
	}
}

// PixelFormat describes the layout of Observation.Pixels.
type PixelFormat int

const (
	// FormatGray8 is one luma byte per pixel.
	FormatGray8 PixelFormat = iota
	// FormatYUV420 is planar YUV with the full-resolution luma plane first
	// (NV12, NV21, I420). Only the luma plane is read.
	FormatYUV420
	// FormatRGB24 is packed R,G,B.
	FormatRGB24
	// FormatRGBA32 is packed R,G,B,A.
	FormatRGBA32
)

// BytesPerPixel returns the size of one pixel in the first plane.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case FormatRGB24:
		return 3
	case FormatRGBA32:
		return 4
	default:
		return 1
	}
}

// String returns the lowercase format name.
func (p PixelFormat) String() string {
	switch p {
	case FormatGray8:
		return "gray8"
	case FormatYUV420:
		return "yuv420"
	case FormatRGB24:
		return "rgb24"
	case FormatRGBA32:
		return "rgba32"
	default:
		return "unknown"
	}
}

// ParsePixelFormat maps a format name back to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "gray8", "gray", "":
		return FormatGray8, nil
	case "yuv420", "nv12", "nv21", "i420":
		return FormatYUV420, nil
	case "rgb24", "rgb":
		return FormatRGB24, nil
	case "rgba32", "rgba":
		return FormatRGBA32, nil
	default:
		return FormatGray8, fmt.Errorf("unknown pixel format %q", s)
	}
}

// Rect is a half-open rectangle [Left,Right) x [Top,Bottom) in frame pixels.
type Rect struct {
	Left   int `json:"left" msgpack:"left"`
	Top    int `json:"top" msgpack:"top"`
	Right  int `json:"right" msgpack:"right"`
	Bottom int `json:"bottom" msgpack:"bottom"`
}

// Empty reports whether r covers no area.
func (r Rect) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

// Contains reports whether inner lies fully inside r.
// An empty inner rectangle is never contained.
func (r Rect) Contains(inner Rect) bool {
	if inner.Empty() || r.Empty() {
		return false
	}
	return inner.Left >= r.Left && inner.Top >= r.Top &&
		inner.Right <= r.Right && inner.Bottom <= r.Bottom
}

// Intersects reports whether r and o share any area.
func (r Rect) Intersects(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.Left < o.Right && o.Left < r.Right &&
		r.Top < o.Bottom && o.Top < r.Bottom
}

// TextCandidate is one recognized text block and its bounding box.
// A nil Box means the recognizer reported no geometry; such candidates
// never pass the region filter.
type TextCandidate struct {
	Text string `json:"text" msgpack:"text"`
	Box  *Rect  `json:"box,omitempty" msgpack:"box,omitempty"`
}

// Observation is one raw unit delivered by an Observation Source Adapter.
//
// Either Pixels (with Width, Height, Stride, Format) or Candidates is set.
// For text observations Width and Height are the dimensions of the frame
// the candidate boxes refer to.
//
// IMMUTABILITY CONTRACT: the adapter MUST NOT modify Pixels or Candidates
// after handing the observation to the engine.
type Observation struct {
	// Seq is the adapter's monotonic sequence number.
	Seq uint64

	// Timestamp is the capture time (source time, not processing time).
	// Duration mode measures hold time from these values.
	Timestamp time.Time

	Pixels []byte
	Width  int
	Height int
	// Stride is bytes per row of the first plane. 0 means tightly packed.
	Stride int
	Format PixelFormat

	Candidates []TextCandidate

	// TraceID correlates the observation across adapter, engine and sinks.
	TraceID string
}

// Extractor reduces an observation to a Fingerprint.
//
// Contract: pure and total. Malformed or empty observations map to
// Sentinel(Kind()) instead of an error, so a bad frame resets stability
// rather than stalling the stream.
type Extractor interface {
	Kind() Kind
	Extract(obs *Observation) Fingerprint
}
