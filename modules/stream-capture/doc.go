// Package streamcapture provides the observation sources that feed the
// stability engine.
//
// # Sources
//
//   - RTSPSource: GStreamer pipeline producing GRAY8 frames from an IP
//     camera, with VAAPI/software decode, FPS hot-reload, reconnection
//     with exponential backoff and classified pipeline errors.
//   - ReplaySource: JSON Lines file of recorded observations (pixels or
//     text candidates), paced by recorded timestamps, a fixed interval,
//     or not at all. Used for offline runs and tests.
//   - RecognizerSource: wraps a pixel source and a Recognizer, emitting
//     text observations for the region-filtered text strategy.
//
// # Quick Start
//
//	src, err := streamcapture.NewRTSPSource(streamcapture.RTSPConfig{
//	    URL:        "rtsp://192.168.1.100/stream",
//	    Resolution: streamcapture.Res720p,
//	    TargetFPS:  5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer src.Stop()
//
//	obsCh, err := src.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	for obs := range obsCh {
//	    gate.Offer(obs)
//	}
//
// # Replay format
//
// One JSON object per line:
//
//	{"timestamp":"2024-05-01T10:00:00Z","width":4,"height":1,"fill":120}
//	{"width":1280,"height":720,"candidates":[{"text":"SN 1234","box":{"left":600,"top":350,"right":700,"bottom":370}}]}
//
// Pixels may also be given as base64 in "pixels" with an optional
// "format" (gray8, yuv420, rgb24, rgba32) and "stride".
//
// # Error handling
//
// When a source ends on its own, its channel is closed and Err() returns
// one of:
//
//   - ErrAcquisition: the stream could not be opened or reconnection gave up
//   - ErrPermissionDenied: the camera rejected the credentials
//   - ErrStreamEnded: end of stream or end of replay file
//
// Stop and context cancellation close the channel with a nil Err().
//
// # Requirements
//
// RTSPSource needs the GStreamer 1.x runtime (gstreamer1.0-plugins-good,
// -bad, -libav; gstreamer1.0-vaapi for hardware decode). Replay and
// recognizer sources are pure Go.
package streamcapture
