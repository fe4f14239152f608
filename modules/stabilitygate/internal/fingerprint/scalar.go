package fingerprint

import "math"

// DefaultSampleStride yields roughly one sample per 1000 pixels.
const DefaultSampleStride = 1000

// ScalarExtractor reduces a pixel buffer to its mean sampled luma.
//
// Sampling is purely positional: pixel indices 0, stride, 2*stride, ...
// in row-major order. Identical buffers always yield identical values.
type ScalarExtractor struct {
	Stride int
}

// NewScalarExtractor returns an extractor sampling every stride-th pixel.
// A stride below 1 falls back to DefaultSampleStride.
func NewScalarExtractor(stride int) *ScalarExtractor {
	if stride < 1 {
		stride = DefaultSampleStride
	}
	return &ScalarExtractor{Stride: stride}
}

// Kind implements Extractor.
func (e *ScalarExtractor) Kind() Kind { return KindScalar }

// Extract returns Scalar(mean luma) or Scalar(NaN) for a malformed buffer.
func (e *ScalarExtractor) Extract(obs *Observation) Fingerprint {
	if obs == nil {
		return Sentinel(KindScalar)
	}

	bpp := obs.Format.BytesPerPixel()
	rowBytes := obs.Width * bpp
	stride := obs.Stride
	if stride == 0 {
		stride = rowBytes
	}

	if obs.Width <= 0 || obs.Height <= 0 || stride < rowBytes {
		return Sentinel(KindScalar)
	}

	// Last byte touched by the declared geometry must be inside the buffer.
	need := (obs.Height-1)*stride + rowBytes
	if need <= 0 || len(obs.Pixels) < need {
		return Sentinel(KindScalar)
	}

	step := e.Stride
	if step < 1 {
		step = DefaultSampleStride
	}

	total := obs.Width * obs.Height
	var sum float64
	var n int
	for p := 0; p < total; p += step {
		y := p / obs.Width
		x := p % obs.Width
		off := y*stride + x*bpp
		sum += luma(obs.Pixels[off:off+bpp], obs.Format)
		n++
	}

	if n == 0 {
		return Sentinel(KindScalar)
	}

	mean := sum / float64(n)
	if math.IsNaN(mean) {
		return Sentinel(KindScalar)
	}
	return Scalar(mean)
}

// luma returns the 8-bit brightness of one pixel.
func luma(px []byte, format PixelFormat) float64 {
	switch format {
	case FormatRGB24, FormatRGBA32:
		r, g, b := int(px[0]), int(px[1]), int(px[2])
		return float64(299*r+587*g+114*b) / 1000.0
	default:
		return float64(px[0])
	}
}
