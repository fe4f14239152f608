package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phiasco12/liveocr/modules/framebus"
	streamcapture "github.com/phiasco12/liveocr/modules/stream-capture"
)

const (
	statsLogInterval = 5 * time.Second
	eventBuffer      = 64
	eventsSubscriber = "service-events"
)

// pump moves observations from the source into the supplier until the
// source closes its channel, then waits for every session to end.
func (s *Service) pump(ctx context.Context, obs <-chan *streamcapture.Observation) error {
	slog.Info("observation pump started")

	count := uint64(0)
	lastLog := time.Now()

	for o := range obs {
		count++
		s.supplier.Publish(o)

		if time.Since(lastLog) >= statsLogInterval {
			srcStats := s.source.Stats()
			supStats := s.supplier.Stats()
			slog.Debug("pipeline stats",
				"observations", count,
				"source_fps_real", float64(int(srcStats.FPSReal*100))/100,
				"source_dropped", srcStats.Dropped,
				"inbox_drops", supStats.InboxDrops,
				"sessions", len(supStats.Sessions),
				"last_seq", o.Seq,
			)
			lastLog = time.Now()
		}
	}

	srcErr := s.source.Err()
	slog.Info("observation source closed", "observations", count, "error", srcErr)

	// No session can be launched past this point.
	s.markFinished()
	if ctx.Err() == nil {
		cause := srcErr
		if cause == nil {
			cause = streamcapture.ErrStreamEnded
		}
		s.endSessions(cause)
	}
	// Stop hands the last observation to every session before closing
	// their readers; sessions then drain and end on their own.
	s.supplier.Stop()
	s.active.Wait()

	if srcErr != nil && !errors.Is(srcErr, context.Canceled) {
		return fmt.Errorf("core: source: %w", srcErr)
	}
	return nil
}

// forwardEvents relays bus events to the event publisher. The returned
// stop func flushes pending events and waits for the relay to exit; call it
// after every session has ended.
func (s *Service) forwardEvents(ctx context.Context) (stop func(), err error) {
	ch := make(chan framebus.Event, eventBuffer)
	if err := s.bus.Subscribe(eventsSubscriber, ch); err != nil {
		return nil, fmt.Errorf("core: subscribe events: %w", err)
	}

	pubCtx := context.WithoutCancel(ctx)
	publish := func(ev framebus.Event) {
		if err := s.events.PublishEvent(pubCtx, ev); err != nil {
			slog.Debug("session event not published",
				"session_id", ev.SessionID,
				"event", ev.Kind.String(),
				"error", err,
			)
		}
	}

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-ch:
				publish(ev)
			case <-quit:
				for {
					select {
					case ev := <-ch:
						publish(ev)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		close(quit)
		<-done
	}, nil
}
