package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiasco12/liveocr/internal/config"
	"github.com/phiasco12/liveocr/internal/core"
	"github.com/phiasco12/liveocr/internal/emitter"
)

const textRecord = `{"width":100,"height":100,"candidates":[{"text":"%s","box":{"left":40,"top":45,"right":60,"bottom":55}}]}`

func writeRecording(t *testing.T, texts ...string) string {
	t.Helper()
	var b strings.Builder
	for _, text := range texts {
		fmt.Fprintf(&b, textRecord+"\n", text)
	}
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

// TestReplay_PrintsResult runs the replay command end to end on defaults
// (text strategy, three consecutive identical readings). The recording
// holds exactly three, so the last record is the one that fires.
func TestReplay_PrintsResult(t *testing.T) {
	path := writeRecording(t, "SN123456", "SN123456", "SN123456")

	out, err := execute(t, "replay", path, "--pacing", "interval", "--interval", "10ms", "--session-id", "bench-1")
	require.NoError(t, err)

	var p emitter.Payload
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &p))
	assert.Equal(t, "bench-1", p.SessionID)
	assert.Equal(t, "text", p.Kind)
	require.NotNil(t, p.Text)
	assert.Equal(t, "SN123456", *p.Text)
	assert.Equal(t, "consecutive", p.Mode)
	assert.Equal(t, uint32(3), p.StableCount)
}

func TestReplay_NoStableReading(t *testing.T) {
	path := writeRecording(t, "AAAAAA1", "BBBBBB2", "CCCCCC3")

	out, err := execute(t, "replay", path, "--pacing", "interval", "--interval", "5ms", "--session-id", "bench-2")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.ErrorIs(t, err, core.ErrSourceFailed)
	assert.Equal(t, exitNoResult, exitCode(err))
}

func TestSessionFlags_ApplyOnlyChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "capture"}
	addSessionFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--mode", "duration", "--hold", "1500ms", "--timeout", "4s"}))

	cfg := config.Default()
	cfg.Source.Kind = "replay"
	cfg.Source.Replay.Path = "unused.jsonl"
	require.NoError(t, session.apply(cmd, cfg))

	assert.Equal(t, "duration", cfg.Engine.Mode)
	assert.Equal(t, uint64(1500), cfg.Engine.HoldDurationMS)
	assert.Equal(t, uint64(4000), cfg.Session.TimeoutMS)
	assert.Equal(t, "text", cfg.Engine.Strategy, "unset flags keep the config value")
}

func TestSessionFlags_InvalidOverride(t *testing.T) {
	cmd := &cobra.Command{Use: "capture"}
	addSessionFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--required-count", "1"}))

	cfg := config.Default()
	cfg.Source.Kind = "replay"
	cfg.Source.Replay.Path = "unused.jsonl"
	err := session.apply(cmd, cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, exitBadConfig, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitNoResult, exitCode(fmt.Errorf("session x: %w", core.ErrTimeout)))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}

func TestSetupLogging_RejectsUnknownFormat(t *testing.T) {
	defer func() { logFormat = "text" }()
	logFormat = "xml"
	assert.Error(t, setupLogging(io.Discard))
}
