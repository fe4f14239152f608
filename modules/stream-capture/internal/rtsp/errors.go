package rtsp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrEndOfStream is returned by the bus monitor on EOS.
var ErrEndOfStream = errors.New("rtsp: end of stream")

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// PipelineError is a classified GStreamer bus error.
type PipelineError struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

// IsPermanent reports whether retrying cannot help. Credentials do not fix
// themselves, so auth failures end the reconnect loop immediately.
func IsPermanent(err error) bool {
	var perr *PipelineError
	return errors.As(err, &perr) && perr.Category == ErrCategoryAuth
}

// ClassifyGStreamerError categorizes a bus error.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

// ClassifyMessage is the string heuristic behind ClassifyGStreamerError.
// go-gst's GError does not expose the error domain, so classification is
// keyword based. Auth is checked first (most specific), network last
// (most generic: "rtsp" appears in nearly every rtspsrc message).
func ClassifyMessage(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

var authKeywords = []string{
	"unauthorized", "401", "403", "forbidden", "authentication",
	"credentials", "password", "username", "not authorized",
}

var codecKeywords = []string{
	"codec", "decode", "encode", "format", "negotiation", "caps",
	"h264", "h265", "mjpeg", "jpeg", "not negotiated", "no decoder",
	"missing plugin",
}

var networkKeywords = []string{
	"connection", "timeout", "unreachable", "network", "dns", "resolve",
	"socket", "tcp", "udp", "rtsp", "not found", "could not connect",
	"failed to connect",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
