package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCounters holds per-category bus error counts.
type ErrorCounters struct {
	Network atomic.Uint64
	Codec   atomic.Uint64
	Auth    atomic.Uint64
	Unknown atomic.Uint64
}

// Count increments the counter for category.
func (c *ErrorCounters) Count(category ErrorCategory) {
	switch category {
	case ErrCategoryNetwork:
		c.Network.Add(1)
	case ErrCategoryCodec:
		c.Codec.Add(1)
	case ErrCategoryAuth:
		c.Auth.Add(1)
	default:
		c.Unknown.Add(1)
	}
}

// MonitorMetrics carries log context for the monitor.
type MonitorMetrics struct {
	URL        string
	Resolution string
	FrameCount *atomic.Uint64
	StartedAt  time.Time
}

// MonitorPipelineBus polls the pipeline bus until an error, EOS or ctx
// cancellation.
//
// Returns nil on cancellation, ErrEndOfStream on EOS, or a *PipelineError
// for bus errors. Reaching PLAYING resets the reconnect counter.
func MonitorPipelineBus(
	ctx context.Context,
	pipeline *gst.Pipeline,
	counters *ErrorCounters,
	reconnect *ReconnectState,
	metrics *MonitorMetrics,
) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()

	for {
		if ctx.Err() != nil {
			slog.Debug("rtsp: context cancelled, stopping pipeline monitor")
			return nil
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("rtsp: end of stream received",
				"url", metrics.URL,
				"uptime", time.Since(metrics.StartedAt),
				"frames", metrics.FrameCount.Load(),
			)
			return ErrEndOfStream

		case gst.MessageError:
			gerr := msg.ParseError()
			perr := &PipelineError{
				Category: ClassifyGStreamerError(gerr),
				Message:  gerr.Error(),
				Debug:    gerr.DebugString(),
			}
			counters.Count(perr.Category)

			slog.Error("rtsp: pipeline error",
				"error", perr.Message,
				"debug", perr.Debug,
				"category", perr.Category.String(),
				"url", metrics.URL,
				"resolution", metrics.Resolution,
				"uptime", time.Since(metrics.StartedAt),
				"frames", metrics.FrameCount.Load(),
				"reconnects", reconnect.Reconnects.Load(),
			)
			return perr

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					ResetReconnectState(reconnect)
					slog.Info("rtsp: pipeline playing", "url", metrics.URL)
				}
			}
		}
	}
}
