package rtsp

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Acceleration mirrors streamcapture.HardwareAccel (kept as int to avoid an
// import cycle).
const (
	AccelAuto     = 0
	AccelVAAPI    = 1
	AccelSoftware = 2
)

// PipelineConfig contains configuration for GStreamer pipeline creation
type PipelineConfig struct {
	RTSPURL      string
	Width        int
	Height       int
	TargetFPS    float64
	Acceleration int
}

// PipelineElements holds references to GStreamer pipeline elements
// needed for FPS hot-reload, pad linking and cleanup.
type PipelineElements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	CapsFilter *gst.Element
	RTSPSrc    *gst.Element
	Depay      *gst.Element
	UsingVAAPI bool
}

// decodeChain is the decoder-to-scaler section of the pipeline.
type decodeChain struct {
	elements []*gst.Element
	vaapi    bool
}

// CreatePipeline builds a luminance-only RTSP pipeline:
//
//	rtspsrc → rtph264depay → decoder → [vaapipostproc] → videoconvert →
//	[videoscale] → videorate → capsfilter(GRAY8) → appsink
//
// The pipeline is configured but NOT started (state remains NULL).
// rtspsrc pads are dynamic; link them with OnPadAdded.
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", cfg.RTSPURL)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	rtspsrc.SetProperty("latency", sourceLatency(cfg.TargetFPS))
	rtspsrc.SetProperty("buffer-mode", 3)
	rtspsrc.SetProperty("ntp-sync", false)
	rtspsrc.SetProperty("tcp-timeout", uint64(10000000))

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtph264depay: %w", err)
	}
	depay.SetProperty("request-keyframe", true)

	chain, err := buildDecodeChain(cfg)
	if err != nil {
		return nil, err
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)
	if cfg.TargetFPS <= 2.0 {
		videorate.SetProperty("average-period", uint64(0))
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(BuildCaps(cfg.Width, cfg.Height, cfg.TargetFPS)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	appsink.SetProperty("qos", true)

	linked := []*gst.Element{depay}
	linked = append(linked, chain.elements...)
	linked = append(linked, videorate, capsfilter, appsink.Element)

	if err := pipeline.AddMany(append([]*gst.Element{rtspsrc}, linked...)...); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(linked...); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Info("rtsp: pipeline created",
		"vaapi", chain.vaapi,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.TargetFPS,
		"format", "GRAY8",
	)

	return &PipelineElements{
		Pipeline:   pipeline,
		AppSink:    appsink,
		CapsFilter: capsfilter,
		RTSPSrc:    rtspsrc,
		Depay:      depay,
		UsingVAAPI: chain.vaapi,
	}, nil
}

func buildDecodeChain(cfg PipelineConfig) (decodeChain, error) {
	switch cfg.Acceleration {
	case AccelVAAPI:
		return vaapiChain(cfg)
	case AccelAuto:
		chain, err := vaapiChain(cfg)
		if err == nil {
			return chain, nil
		}
		slog.Warn("rtsp: VAAPI unavailable, using software decoder", "error", err)
		return softwareChain(cfg)
	case AccelSoftware:
		return softwareChain(cfg)
	default:
		return decodeChain{}, fmt.Errorf("invalid acceleration mode: %d", cfg.Acceleration)
	}
}

// vaapiChain decodes and scales on the GPU; videoconvert only extracts luma.
func vaapiChain(cfg PipelineConfig) (decodeChain, error) {
	decoder, err := gst.NewElement("vaapih264dec")
	if err != nil {
		decoder, err = gst.NewElement("vaapidecodebin")
		if err != nil {
			return decodeChain{}, fmt.Errorf("failed to create VAAPI decoder: %w", err)
		}
	} else {
		decoder.SetProperty("low-latency", true)
	}

	postproc, err := gst.NewElement("vaapipostproc")
	if err != nil {
		return decodeChain{}, fmt.Errorf("failed to create vaapipostproc: %w", err)
	}
	postproc.SetProperty("format", "nv12")
	postproc.SetProperty("width", cfg.Width)
	postproc.SetProperty("height", cfg.Height)
	postproc.SetProperty("scale-method", 2)

	converter, err := newConverter()
	if err != nil {
		return decodeChain{}, err
	}

	return decodeChain{elements: []*gst.Element{decoder, postproc, converter}, vaapi: true}, nil
}

func softwareChain(cfg PipelineConfig) (decodeChain, error) {
	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return decodeChain{}, fmt.Errorf("failed to create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)
	decoder.SetProperty("output-corrupt", false)

	converter, err := newConverter()
	if err != nil {
		return decodeChain{}, err
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return decodeChain{}, fmt.Errorf("failed to create videoscale: %w", err)
	}

	return decodeChain{elements: []*gst.Element{decoder, converter, scaler}}, nil
}

func newConverter() (*gst.Element, error) {
	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)
	converter.SetProperty("dither", 0)
	return converter, nil
}

// sourceLatency keeps the jitter buffer small at low frame rates.
func sourceLatency(fps float64) int {
	if fps <= 2.0 {
		return 50
	}
	return 200
}

// UpdateFramerateCaps swaps the capsfilter caps for a new frame rate.
// GStreamer renegotiates in place; expect a short gap in samples.
func UpdateFramerateCaps(capsfilter *gst.Element, fps float64, width, height int) error {
	if capsfilter == nil {
		return fmt.Errorf("capsfilter is nil")
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(BuildCaps(width, height, fps)))
	return nil
}

// DestroyPipeline sets the pipeline to NULL, releasing all resources.
// Safe to call on nil elements.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// BuildCaps returns the appsink caps string.
//
//	fps >= 1: framerate=N/1 (5.0 → 5/1)
//	fps <  1: framerate=1/D (0.5 → 1/2)
func BuildCaps(width, height int, fps float64) string {
	num, den := 1, 1
	if fps < 1.0 {
		if fps > 0 {
			den = int(1.0/fps + 0.5)
		}
	} else {
		num = int(fps)
	}
	return fmt.Sprintf(
		"video/x-raw,format=GRAY8,width=%d,height=%d,framerate=%d/%d",
		width, height, num, den,
	)
}

// GrayStride returns the GStreamer row stride for a GRAY8 frame:
// rows are padded to a multiple of 4 bytes.
func GrayStride(width int) int {
	return (width + 3) &^ 3
}
