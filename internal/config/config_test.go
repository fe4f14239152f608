package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

const replayYAML = `
instance_id: dock-3
log_level: debug
engine:
  strategy: scalar
  mode: duration
  tolerance: 2.5
  hold_duration_ms: 400
session:
  timeout_ms: 15000
source:
  kind: replay
  replay:
    path: /tmp/frames.jsonl
    pacing: interval
    interval_ms: 100
    loop: true
mqtt:
  broker: localhost:1883
  qos: 2
metrics:
  listen: ":9108"
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(replayYAML))
	require.NoError(t, err)

	assert.Equal(t, "dock-3", cfg.InstanceID)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, stabilitygate.StrategyScalar, cfg.Engine.Strategy)
	assert.Equal(t, 400*time.Millisecond, cfg.Engine.HoldDuration())
	assert.Equal(t, uint32(1000), uint32(cfg.Engine.SampleStride), "engine defaults applied")
	assert.Equal(t, 15*time.Second, cfg.SessionTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Source.Replay.Interval())
	assert.True(t, cfg.Source.Replay.Loop)

	assert.Equal(t, "dock-3", cfg.MQTT.ClientID)
	assert.Equal(t, "liveocr/results/dock-3", cfg.MQTT.Topics.Results)
	assert.Equal(t, "liveocr/control/dock-3", cfg.MQTT.Topics.Control)
	assert.Equal(t, "liveocr/events/dock-3", cfg.MQTT.Topics.Events)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, ":9108", cfg.Metrics.Listen)
}

func TestParse_DefaultEngineIsConsecutiveText(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  kind: replay
  replay: {path: x.jsonl}
`))
	require.NoError(t, err)
	assert.Equal(t, stabilitygate.DefaultConfig(), cfg.Engine)
	assert.Equal(t, "liveocr", cfg.InstanceID)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 2.0, cfg.Session.ProgressHz)
	assert.Equal(t, "recorded", cfg.Source.Replay.Pacing)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad_instance_id": `
instance_id: Dock 3
source: {kind: replay, replay: {path: x}}`,
		"bad_log_level": `
log_level: loud
source: {kind: replay, replay: {path: x}}`,
		"bad_source_kind": `
source: {kind: usb}`,
		"rtsp_without_url": `
engine: {strategy: scalar, mode: consecutive, required_count: 3, tolerance: 1}
source: {kind: rtsp}`,
		"rtsp_text_without_recognizer": `
source: {kind: rtsp, rtsp: {url: "rtsp://cam/stream"}}`,
		"recognizer_without_command": `
source: {kind: rtsp, rtsp: {url: "rtsp://cam/stream"}, recognizer: {args: [x]}}`,
		"replay_without_path": `
source: {kind: replay}`,
		"interval_without_ms": `
source: {kind: replay, replay: {path: x, pacing: interval}}`,
		"fps_out_of_range": `
engine: {strategy: scalar, mode: consecutive, required_count: 3, tolerance: 1}
source: {kind: rtsp, rtsp: {url: "rtsp://cam", fps: 60}}`,
		"engine_required_count": `
engine: {strategy: text, mode: consecutive, required_count: 1}
source: {kind: replay, replay: {path: x}}`,
		"qos": `
source: {kind: replay, replay: {path: x}}
mqtt: {qos: 3}`,
		"yaml_syntax": `source: [`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParse_ValidationErrorNamesYAMLPath(t *testing.T) {
	_, err := Parse([]byte(`
source: {kind: rtsp, rtsp: {url: "rtsp://cam", fps: 60}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.rtsp.fps")
}

func TestParse_EngineErrorWrapsInvalidConfig(t *testing.T) {
	_, err := Parse([]byte(`
engine: {strategy: scalar, mode: duration, tolerance: 1}
source: {kind: replay, replay: {path: x}}`))
	assert.ErrorIs(t, err, stabilitygate.ErrInvalidConfig)
}

func TestParse_RecognizerDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  kind: rtsp
  rtsp: {url: "rtsp://cam/stream", resolution: 1080p, acceleration: software}
  recognizer: {command: /usr/bin/ocr-worker, args: ["--lang", "en"]}`))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Source.Recognizer.Timeout())
	assert.Equal(t, []string{"--lang", "en"}, cfg.Source.Recognizer.Args)
	assert.Equal(t, 5.0, cfg.Source.RTSP.FPS)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func writeConfig(t *testing.T, path string, requiredCount int) {
	t.Helper()
	doc := []byte(`
engine: {strategy: text, mode: consecutive, required_count: ` + strconv.Itoa(requiredCount) + `}
source: {kind: replay, replay: {path: x}}
`)
	require.NoError(t, os.WriteFile(path, doc, 0o644))
}

// TestWatcher_ReloadsOnWrite validates the hot-reload path: a valid edit
// is delivered, an invalid edit is ignored.
func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liveocr.yaml")
	writeConfig(t, path, 3)

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { got <- c })
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a moment to enter its loop.
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, 5)

	select {
	case cfg := <-got:
		assert.Equal(t, uint32(5), uint32(cfg.Engine.RequiredCount))
	case <-time.After(3 * time.Second):
		t.Fatal("reload not delivered")
	}

	require.NoError(t, os.WriteFile(path, []byte("engine: {mode: sideways}"), 0o644))
	select {
	case cfg := <-got:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liveocr.yaml")
	writeConfig(t, path, 3)

	w, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
