package fingerprint

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

const (
	// DefaultRegionFraction is the share of each frame dimension covered
	// by the centered region of interest.
	DefaultRegionFraction = 0.33

	// DefaultAcceptancePattern accepts serial-number-like strings.
	DefaultAcceptancePattern = `^[A-Za-z0-9\-]{6,}$`
)

// Selection picks among candidates that pass containment and pattern.
type Selection int

const (
	// SelectFirst takes the first qualifying candidate in recognizer order.
	SelectFirst Selection = iota
	// SelectLongest takes the longest sanitized candidate (ties: first).
	SelectLongest
)

// Containment decides how a candidate box must relate to the region.
type Containment int

const (
	// ContainFull requires the box to lie fully inside the region.
	ContainFull Containment = iota
	// ContainIntersect accepts any overlap with the region.
	ContainIntersect
)

// RegionExtractor selects a sanitized text candidate inside a centered
// region of interest.
type RegionExtractor struct {
	Fraction    float64
	Pattern     *regexp.Regexp
	Selection   Selection
	Containment Containment
}

// Kind implements Extractor.
func (e *RegionExtractor) Kind() Kind { return KindText }

// Region returns the centered region of interest for a width x height frame.
func Region(width, height int, fraction float64) Rect {
	bw := int(math.Round(float64(width) * fraction))
	bh := int(math.Round(float64(height) * fraction))
	return Rect{
		Left:   (width - bw) / 2,
		Top:    (height - bh) / 2,
		Right:  (width + bw) / 2,
		Bottom: (height + bh) / 2,
	}
}

// Extract returns the selected candidate or Text("").
func (e *RegionExtractor) Extract(obs *Observation) Fingerprint {
	if obs == nil || obs.Width <= 0 || obs.Height <= 0 || len(obs.Candidates) == 0 {
		return Sentinel(KindText)
	}

	roi := Region(obs.Width, obs.Height, e.Fraction)

	best := ""
	for _, c := range obs.Candidates {
		if c.Box == nil || !e.inRegion(roi, *c.Box) {
			continue
		}

		cand := Sanitize(c.Text)
		if cand == "" || (e.Pattern != nil && !e.Pattern.MatchString(cand)) {
			continue
		}

		if e.Selection == SelectFirst {
			return Text(cand)
		}
		if len(cand) > len(best) {
			best = cand
		}
	}

	return Text(best)
}

func (e *RegionExtractor) inRegion(roi, box Rect) bool {
	if e.Containment == ContainIntersect {
		return roi.Intersects(box)
	}
	return roi.Contains(box)
}

// Sanitize strips every whitespace rune from s.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
