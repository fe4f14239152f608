package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/phiasco12/liveocr/internal/config"
	"github.com/phiasco12/liveocr/internal/core"
	"github.com/phiasco12/liveocr/internal/emitter"
	"github.com/phiasco12/liveocr/internal/recognizer"
	streamcapture "github.com/phiasco12/liveocr/modules/stream-capture"
)

const mqttDisconnectQuiesce = 250 // ms

// buildSource creates the configured observation source. The returned
// cleanup releases the recognizer worker, if any.
func buildSource(ctx context.Context, cfg *config.Config) (streamcapture.Source, func(), error) {
	var src streamcapture.Source

	switch cfg.Source.Kind {
	case "rtsp":
		res, err := streamcapture.ParseResolution(cfg.Source.RTSP.Resolution)
		if err != nil {
			return nil, nil, err
		}
		accel, err := streamcapture.ParseHardwareAccel(cfg.Source.RTSP.Acceleration)
		if err != nil {
			return nil, nil, err
		}
		rtspSrc, err := streamcapture.NewRTSPSource(streamcapture.RTSPConfig{
			URL:                  cfg.Source.RTSP.URL,
			Resolution:           res,
			TargetFPS:            cfg.Source.RTSP.FPS,
			Acceleration:         accel,
			MaxReconnectAttempts: cfg.Source.RTSP.MaxReconnectAttempts,
		})
		if err != nil {
			return nil, nil, err
		}
		src = rtspSrc

	case "replay":
		pacing, err := streamcapture.ParsePacing(cfg.Source.Replay.Pacing)
		if err != nil {
			return nil, nil, err
		}
		replaySrc, err := streamcapture.NewReplaySource(streamcapture.ReplayConfig{
			Path:     cfg.Source.Replay.Path,
			Pacing:   pacing,
			Interval: cfg.Source.Replay.Interval(),
			Loop:     cfg.Source.Replay.Loop,
		})
		if err != nil {
			return nil, nil, err
		}
		src = replaySrc

	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}

	rc := cfg.Source.Recognizer
	if rc == nil {
		return src, func() {}, nil
	}

	worker, err := recognizer.Start(ctx, recognizer.Config{
		Command: rc.Command,
		Args:    rc.Args,
		Timeout: rc.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("recognizer worker started", "command", rc.Command)

	cleanup := func() {
		if err := worker.Stop(); err != nil {
			slog.Warn("recognizer worker stop failed", "error", err)
		}
	}
	return streamcapture.NewRecognizerSource(src, worker), cleanup, nil
}

// outputs holds the result sinks and the optional MQTT connection.
type outputs struct {
	sink   emitter.Sink
	events core.EventPublisher
	client mqtt.Client
}

func (o outputs) close() {
	if o.client != nil {
		o.client.Disconnect(mqttDisconnectQuiesce)
	}
}

// buildOutputs connects MQTT when a broker is configured. stdout, when
// non-nil, receives every result as a JSON line.
func buildOutputs(ctx context.Context, cfg *config.Config, stdout io.Writer) (outputs, error) {
	sinks := emitter.MultiSink{emitter.LogSink{}}
	if stdout != nil {
		sinks = append(sinks, emitter.NewWriterSink(stdout))
	}

	out := outputs{sink: sinks}
	if cfg.MQTT.Broker == "" {
		return out, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := emitter.Connect(connectCtx, emitter.MQTTOptions{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
	})
	if err != nil {
		return outputs{}, err
	}

	mqttSink := emitter.NewMQTTSink(client, cfg.MQTT.Topics.Results, cfg.MQTT.Topics.Events, cfg.MQTT.QoS)
	out.sink = append(sinks, mqttSink)
	out.events = mqttSink
	out.client = client
	return out, nil
}
