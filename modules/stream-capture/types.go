package streamcapture

import (
	"errors"
	"fmt"
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Observation is the engine observation produced by every source.
type Observation = stabilitygate.Observation

// Adapter error taxonomy. All three are terminal for a capture session.
var (
	// ErrAcquisition: device or stream unavailable (connect failed, retries exhausted).
	ErrAcquisition = errors.New("stream-capture: acquisition failed")
	// ErrPermissionDenied: the source rejected our credentials.
	ErrPermissionDenied = errors.New("stream-capture: permission denied")
	// ErrStreamEnded: the source reached its end (EOS, end of replay file).
	ErrStreamEnded = errors.New("stream-capture: stream ended")
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("stream-capture: source already started")
	// ErrNotRunning is returned by operations that need a live source.
	ErrNotRunning = errors.New("stream-capture: source not running")
)

// SourceStats contains current source statistics.
type SourceStats struct {
	// Kind names the source ("rtsp", "replay", "recognizer(rtsp)").
	Kind string
	// Observations is the total number of observations produced.
	Observations uint64
	// Dropped counts observations discarded because the consumer was behind.
	Dropped uint64
	// DropRate is Dropped / (Observations + Dropped) in percent.
	DropRate float64
	// FPSTarget is the configured rate (0 when unpaced).
	FPSTarget float64
	// FPSReal is Observations / uptime.
	FPSReal float64
	// LatencyMS is the time since the last observation.
	LatencyMS int64
	// Resolution is "WxH" for pixel sources.
	Resolution string
	// Reconnects is the number of reconnection attempts.
	Reconnects uint32
	// BytesRead is the total pixel bytes read.
	BytesRead uint64
	// DecodeErrors counts records or samples that could not be decoded.
	DecodeErrors uint64
	// RecognitionFailures counts frames the recognizer failed on.
	RecognitionFailures uint64
	// Errors groups pipeline errors by category.
	Errors ErrorStats
	// IsRunning is true between Start and the end of the stream.
	IsRunning bool
}

// ErrorStats groups classified pipeline errors.
type ErrorStats struct {
	Network uint64
	Codec   uint64
	Auth    uint64
	Unknown uint64
}

func dropRate(produced, dropped uint64) float64 {
	total := produced + dropped
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total) * 100.0
}

func realFPS(produced uint64, started time.Time) float64 {
	if started.IsZero() {
		return 0
	}
	uptime := time.Since(started).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(produced) / uptime
}

// Resolution represents supported video resolutions
type Resolution int

const (
	// Res720p represents 1280x720 resolution (HD, default)
	Res720p Resolution = iota
	// Res480p represents 640x480 resolution (VGA)
	Res480p
	// Res512p represents 910x512 resolution
	Res512p
	// Res1080p represents 1920x1080 resolution (Full HD)
	Res1080p
)

// Dimensions returns the width and height for the resolution
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Res480p:
		return 640, 480
	case Res512p:
		return 910, 512
	case Res1080p:
		return 1920, 1080
	default:
		return 1280, 720
	}
}

// String returns the resolution name ("720p").
func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res512p:
		return "512p"
	case Res1080p:
		return "1080p"
	default:
		return "720p"
	}
}

// ParseResolution maps a name ("480p", "512p", "720p", "1080p") to a Resolution.
// The empty string yields the default.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "720p", "":
		return Res720p, nil
	case "480p":
		return Res480p, nil
	case "512p":
		return Res512p, nil
	case "1080p":
		return Res1080p, nil
	default:
		return Res720p, fmt.Errorf("stream-capture: unknown resolution %q", s)
	}
}

// HardwareAccel selects the decode path.
type HardwareAccel int

const (
	// AccelAuto tries VAAPI and falls back to software.
	AccelAuto HardwareAccel = iota
	// AccelVAAPI requires VAAPI (fails fast when unavailable).
	AccelVAAPI
	// AccelSoftware forces avdec_h264.
	AccelSoftware
)

// String returns the accel name.
func (a HardwareAccel) String() string {
	switch a {
	case AccelVAAPI:
		return "vaapi"
	case AccelSoftware:
		return "software"
	default:
		return "auto"
	}
}

// ParseHardwareAccel maps "auto", "vaapi" or "software" to a HardwareAccel.
func ParseHardwareAccel(s string) (HardwareAccel, error) {
	switch s {
	case "auto", "":
		return AccelAuto, nil
	case "vaapi":
		return AccelVAAPI, nil
	case "software":
		return AccelSoftware, nil
	default:
		return AccelAuto, fmt.Errorf("stream-capture: unknown acceleration %q", s)
	}
}

// RTSPConfig contains configuration for RTSP capture
type RTSPConfig struct {
	// URL is the RTSP stream URL (required)
	URL string
	// Resolution is the target video resolution
	Resolution Resolution
	// TargetFPS is the target frames per second (0.1 - 30.0)
	TargetFPS float64
	// Acceleration selects the decode path
	Acceleration HardwareAccel
	// MaxReconnectAttempts bounds retries (0 = default 5)
	MaxReconnectAttempts int
	// ReconnectInitialDelay is the first backoff delay (0 = 1s)
	ReconnectInitialDelay time.Duration
	// ReconnectMaxDelay caps the backoff (0 = 30s)
	ReconnectMaxDelay time.Duration
}
