package rtsp

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phiasco12/liveocr/modules/stabilitygate"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// CallbackContext holds state shared by the appsink callback.
// Counters are updated atomically from the GStreamer streaming thread.
type CallbackContext struct {
	Out           chan<- *stabilitygate.Observation
	FrameCounter  *atomic.Uint64
	BytesRead     *atomic.Uint64
	FramesDropped *atomic.Uint64
	LastFrameAt   *atomic.Int64 // unix nanos
	Width         int
	Height        int
}

// OnNewSample converts one appsink sample into a GRAY8 Observation.
//
// The buffer is copied (GStreamer reuses it) and sent non-blocking: when
// the consumer is behind, the observation is dropped and counted. Sample
// failures skip the frame instead of ending the stream.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("rtsp: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("rtsp: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("rtsp: empty buffer received")
		return gst.FlowOK
	}
	pixels := make([]byte, len(data))
	copy(pixels, data)
	buffer.Unmap()

	now := time.Now()
	obs := NewObservation(ctx, pixels, now)
	ctx.BytesRead.Add(uint64(len(pixels)))
	if ctx.LastFrameAt != nil {
		ctx.LastFrameAt.Store(now.UnixNano())
	}

	Forward(ctx, obs)
	return gst.FlowOK
}

// NewObservation stamps a pixel buffer with the next sequence number.
func NewObservation(ctx *CallbackContext, pixels []byte, at time.Time) *stabilitygate.Observation {
	stride := GrayStride(ctx.Width)
	if len(pixels) < stride*ctx.Height {
		// Tightly packed buffer (some converters skip row padding).
		stride = ctx.Width
	}
	return &stabilitygate.Observation{
		Seq:       ctx.FrameCounter.Add(1),
		Timestamp: at,
		Pixels:    pixels,
		Width:     ctx.Width,
		Height:    ctx.Height,
		Stride:    stride,
		Format:    stabilitygate.FormatGray8,
		TraceID:   uuid.New().String(),
	}
}

// Forward sends obs without blocking; a full channel drops it.
func Forward(ctx *CallbackContext, obs *stabilitygate.Observation) bool {
	select {
	case ctx.Out <- obs:
		return true
	default:
		ctx.FramesDropped.Add(1)
		slog.Debug("rtsp: dropping observation, channel full",
			"seq", obs.Seq,
			"trace_id", obs.TraceID,
		)
		return false
	}
}

// OnPadAdded links a dynamic rtspsrc pad to the depayloader.
func OnPadAdded(srcPad *gst.Pad, sinkElement *gst.Element) {
	sinkPad := sinkElement.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("rtsp: failed to get sink pad from depayloader")
		return
	}
	if sinkPad.IsLinked() {
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("rtsp: failed to link pads",
			"src_pad", srcPad.GetName(),
			"ret", ret,
		)
		return
	}

	slog.Debug("rtsp: pads linked", "src_pad", srcPad.GetName())
}
