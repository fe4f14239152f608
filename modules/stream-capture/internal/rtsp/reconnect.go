package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff reconnection
type ReconnectConfig struct {
	MaxRetries    int           // Maximum number of reconnection attempts (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks the current state of reconnection attempts.
// CurrentRetries is owned by the goroutine running RunWithReconnect.
type ReconnectState struct {
	CurrentRetries int
	Reconnects     atomic.Uint32
}

// ConnectFunc runs one connection attempt. attempt is 0 for the first run.
// It returns nil on graceful shutdown, or an error to trigger a retry.
type ConnectFunc func(ctx context.Context, attempt int) error

// RunWithReconnect runs connectFn, retrying with exponential backoff.
//
// Returns nil when connectFn returns nil, ctx.Err() on cancellation, the
// error itself when IsPermanent(err), or a wrapped last error once
// MaxRetries is exceeded.
func RunWithReconnect(
	ctx context.Context,
	connectFn ConnectFunc,
	cfg ReconnectConfig,
	state *ReconnectState,
) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("rtsp: context cancelled, stopping reconnection")
			return err
		}

		err := connectFn(ctx, attempt)
		if err == nil {
			state.CurrentRetries = 0
			return nil
		}
		if IsPermanent(err) {
			slog.Error("rtsp: permanent failure, not retrying", "error", err)
			return err
		}

		slog.Error("rtsp: connection failed", "error", err)

		state.CurrentRetries++
		state.Reconnects.Add(1)
		attempt++

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("rtsp: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(state.CurrentRetries, cfg)

		slog.Warn("rtsp: retrying connection",
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("rtsp: context cancelled during backoff")
			return ctx.Err()
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// ResetReconnectState clears the retry counter once the pipeline plays again.
func ResetReconnectState(state *ReconnectState) {
	state.CurrentRetries = 0
	slog.Debug("rtsp: reconnect state reset")
}
