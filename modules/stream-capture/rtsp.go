package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phiasco12/liveocr/modules/stream-capture/internal/rtsp"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// RTSPSource captures GRAY8 frames from an RTSP camera through GStreamer.
type RTSPSource struct {
	lc lifecycle

	url          string
	width        int
	height       int
	acceleration HardwareAccel
	reconnectCfg rtsp.ReconnectConfig

	mu        sync.RWMutex
	targetFPS float64
	elements  *rtsp.PipelineElements

	frameCount    atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
	lastFrameAt   atomic.Int64

	errors    rtsp.ErrorCounters
	reconnect rtsp.ReconnectState
}

// NewRTSPSource creates an RTSP source with fail-fast validation:
//   - URL must not be empty
//   - TargetFPS must be between 0.1 and 30.0
//   - GStreamer (and VAAPI, when forced) must be available
func NewRTSPSource(cfg RTSPConfig) (*RTSPSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("stream-capture: GStreamer not available: %w", err)
	}
	if cfg.Acceleration == AccelVAAPI {
		if err := checkVAAPIAvailable(); err != nil {
			return nil, fmt.Errorf("stream-capture: VAAPI not available: %w", err)
		}
	}

	width, height := cfg.Resolution.Dimensions()
	s := &RTSPSource{
		lc:           lifecycle{name: "rtsp"},
		url:          cfg.URL,
		width:        width,
		height:       height,
		targetFPS:    cfg.TargetFPS,
		acceleration: cfg.Acceleration,
		reconnectCfg: cfg.reconnectConfig(),
	}

	slog.Info("stream-capture: RTSP source created",
		"url", cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"target_fps", cfg.TargetFPS,
		"acceleration", cfg.Acceleration.String(),
	)
	return s, nil
}

func (c RTSPConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("stream-capture: RTSP URL is required")
	}
	if c.TargetFPS < 0.1 || c.TargetFPS > 30 {
		return fmt.Errorf("stream-capture: invalid FPS %.2f (must be 0.1-30)", c.TargetFPS)
	}
	return nil
}

func (c RTSPConfig) reconnectConfig() rtsp.ReconnectConfig {
	cfg := rtsp.DefaultReconnectConfig()
	if c.MaxReconnectAttempts > 0 {
		cfg.MaxRetries = c.MaxReconnectAttempts
	}
	if c.ReconnectInitialDelay > 0 {
		cfg.RetryDelay = c.ReconnectInitialDelay
	}
	if c.ReconnectMaxDelay > 0 {
		cfg.MaxRetryDelay = c.ReconnectMaxDelay
	}
	return cfg
}

// Start builds the pipeline, sets it PLAYING and returns immediately.
// Frames arrive once rtspsrc negotiates (typically a few seconds).
func (s *RTSPSource) Start(ctx context.Context) (<-chan *Observation, error) {
	return s.lc.start(ctx, 10, s.run)
}

func (s *RTSPSource) run(ctx context.Context, out chan<- *Observation) error {
	s.mu.RLock()
	fps := s.targetFPS
	s.mu.RUnlock()

	elements, err := rtsp.CreatePipeline(rtsp.PipelineConfig{
		RTSPURL:      s.url,
		Width:        s.width,
		Height:       s.height,
		TargetFPS:    fps,
		Acceleration: int(s.acceleration),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	s.setElements(elements)
	defer func() {
		if err := rtsp.DestroyPipeline(elements); err != nil {
			slog.Error("stream-capture: failed to destroy pipeline", "error", err)
		}
		s.setElements(nil)
	}()

	// raw is never closed: the appsink callback may still fire while the
	// pipeline winds down.
	raw := make(chan *Observation, 1)
	cb := &rtsp.CallbackContext{
		Out:           raw,
		FrameCounter:  &s.frameCount,
		BytesRead:     &s.bytesRead,
		FramesDropped: &s.framesDropped,
		LastFrameAt:   &s.lastFrameAt,
		Width:         s.width,
		Height:        s.height,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return rtsp.OnNewSample(sink, cb)
		},
	})
	if _, err := elements.RTSPSrc.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		rtsp.OnPadAdded(pad, elements.Depay)
	}); err != nil {
		return fmt.Errorf("%w: connect pad-added: %w", ErrAcquisition, err)
	}

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("%w: set PLAYING: %w", ErrAcquisition, err)
	}

	fwdCtx, stopForward := context.WithCancel(ctx)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for {
			select {
			case <-fwdCtx.Done():
				return
			case obs := <-raw:
				select {
				case out <- obs:
				default:
					s.framesDropped.Add(1)
				}
			}
		}
	}()

	metrics := &rtsp.MonitorMetrics{
		URL:        s.url,
		Resolution: fmt.Sprintf("%dx%d", s.width, s.height),
		FrameCount: &s.frameCount,
		StartedAt:  time.Now(),
	}
	err = rtsp.RunWithReconnect(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			if err := restartPipeline(elements); err != nil {
				return err
			}
		}
		return rtsp.MonitorPipelineBus(ctx, elements.Pipeline, &s.errors, &s.reconnect, metrics)
	}, s.reconnectCfg, &s.reconnect)

	stopForward()
	<-forwarded

	return classifyFailure(err)
}

func restartPipeline(elements *rtsp.PipelineElements) error {
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("reset pipeline: %w", err)
	}
	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("restart pipeline: %w", err)
	}
	return nil
}

// classifyFailure maps a reconnect-loop error onto the adapter taxonomy.
func classifyFailure(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case rtsp.IsPermanent(err):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, rtsp.ErrEndOfStream):
		return fmt.Errorf("%w: %w", ErrStreamEnded, err)
	default:
		return fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
}

func (s *RTSPSource) setElements(e *rtsp.PipelineElements) {
	s.mu.Lock()
	s.elements = e
	s.mu.Unlock()
}

// Stop tears down the pipeline. Idempotent.
func (s *RTSPSource) Stop() error {
	err := s.lc.stop()
	slog.Info("stream-capture: RTSP source stopped",
		"frames", s.frameCount.Load(),
		"reconnects", s.reconnect.Reconnects.Load(),
	)
	return err
}

// Err implements Source.
func (s *RTSPSource) Err() error { return s.lc.terminalErr() }

// Stats implements Source.
func (s *RTSPSource) Stats() SourceStats {
	s.mu.RLock()
	fps := s.targetFPS
	s.mu.RUnlock()

	produced := s.frameCount.Load()
	dropped := s.framesDropped.Load()

	var latencyMS int64
	if last := s.lastFrameAt.Load(); last > 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return SourceStats{
		Kind:         "rtsp",
		Observations: produced,
		Dropped:      dropped,
		DropRate:     dropRate(produced, dropped),
		FPSTarget:    fps,
		FPSReal:      realFPS(produced, s.lc.startedAt()),
		LatencyMS:    latencyMS,
		Resolution:   fmt.Sprintf("%dx%d", s.width, s.height),
		Reconnects:   s.reconnect.Reconnects.Load(),
		BytesRead:    s.bytesRead.Load(),
		Errors: ErrorStats{
			Network: s.errors.Network.Load(),
			Codec:   s.errors.Codec.Load(),
			Auth:    s.errors.Auth.Load(),
			Unknown: s.errors.Unknown.Load(),
		},
		IsRunning: s.lc.running(),
	}
}

// SetTargetFPS changes the capsfilter frame rate without a restart.
// On failure the previous rate is kept.
func (s *RTSPSource) SetTargetFPS(fps float64) error {
	if fps < 0.1 || fps > 30 {
		return fmt.Errorf("stream-capture: invalid FPS %.2f (must be 0.1-30)", fps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.elements == nil {
		return ErrNotRunning
	}
	if err := rtsp.UpdateFramerateCaps(s.elements.CapsFilter, fps, s.width, s.height); err != nil {
		return fmt.Errorf("stream-capture: update fps: %w", err)
	}

	slog.Info("stream-capture: target FPS updated", "from", s.targetFPS, "to", fps)
	s.targetFPS = fps
	return nil
}

// checkGStreamerAvailable creates a throwaway element to prove the
// runtime is installed.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

func checkVAAPIAvailable() error {
	gst.Init(nil)

	for _, name := range []string{"vaapidecodebin", "vaapipostproc"} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("%s not available (install gstreamer1.0-vaapi): %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}
	return nil
}
