package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/phiasco12/liveocr/internal/config"
	"github.com/phiasco12/liveocr/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture one stable reading from the configured source and exit",
	Long: `Starts the configured source, runs a single capture session and prints
the committed result as a JSON line on stdout. Exits 0 when a result was
committed and 2 when the session timed out, was stopped, or the source
failed first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := session.apply(cmd, cfg); err != nil {
			return err
		}
		return captureOnce(cmd, cfg)
	},
}

// sessionFlags are shared by run and replay.
type sessionFlags struct {
	id            string
	timeout       time.Duration
	strategy      string
	mode          string
	requiredCount uint32
	hold          time.Duration
	tolerance     float64
	pattern       string
}

var session sessionFlags

func init() {
	addSessionFlags(runCmd)
}

func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&session.id, "session-id", "", "session ID (default: random uuid)")
	f.DurationVar(&session.timeout, "timeout", 0, "give up after this long (default: session.timeout_ms)")
	f.StringVar(&session.strategy, "strategy", "", "override engine.strategy: scalar or text")
	f.StringVar(&session.mode, "mode", "", "override engine.mode: duration or consecutive")
	f.Uint32Var(&session.requiredCount, "required-count", 0, "override engine.required_count")
	f.DurationVar(&session.hold, "hold", 0, "override engine.hold_duration_ms")
	f.Float64Var(&session.tolerance, "tolerance", 0, "override engine.tolerance")
	f.StringVar(&session.pattern, "pattern", "", "override engine.acceptance_pattern")
}

// apply copies the flags the user set into cfg and re-validates it.
func (s sessionFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("strategy") {
		cfg.Engine.Strategy = s.strategy
	}
	if f.Changed("mode") {
		cfg.Engine.Mode = s.mode
	}
	if f.Changed("required-count") {
		cfg.Engine.RequiredCount = s.requiredCount
	}
	if f.Changed("hold") {
		cfg.Engine.HoldDurationMS = uint64(s.hold.Milliseconds())
	}
	if f.Changed("tolerance") {
		cfg.Engine.Tolerance = s.tolerance
	}
	if f.Changed("pattern") {
		cfg.Engine.AcceptancePattern = s.pattern
	}
	if f.Changed("timeout") {
		cfg.Session.TimeoutMS = uint64(s.timeout.Milliseconds())
	}

	cfg.Engine = cfg.Engine.WithDefaults()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	return nil
}

// captureOnce runs one session to completion and prints its result.
func captureOnce(cmd *cobra.Command, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	src, cleanup, err := buildSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := buildOutputs(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.close()

	// One-shot runs keep their metrics private to the run.
	reg := prometheus.NewRegistry()
	svc, err := core.New(core.Options{
		Config:     cfg,
		Source:     src,
		Sink:       out.sink,
		Events:     out.events,
		Registerer: reg,
		Gatherer:   reg,
	})
	if err != nil {
		return err
	}

	id := session.id
	if id == "" {
		id = uuid.NewString()
	}
	// Queued before Run so the session sees the first observation.
	sess, err := svc.StartSession(core.SessionOptions{ID: id})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	// The session ends on its own when ctx is cancelled.
	res, sessErr := sess.Wait(context.Background())
	cancel()
	if err := <-runErr; err != nil && sessErr == nil {
		slog.Debug("service ended after the result", "error", err)
	}
	if sessErr != nil {
		return fmt.Errorf("session %s: %w", id, sessErr)
	}

	slog.Info("reading captured",
		"session_id", id,
		"fingerprint", res.Fingerprint.String(),
		"mode", res.Mode.String(),
		"stable_count", res.Count,
		"held", res.Held,
	)
	return nil
}
