package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/phiasco12/liveocr/internal/emitter"
	"github.com/phiasco12/liveocr/modules/framebus"
	"github.com/phiasco12/liveocr/modules/framesupplier"
	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Session end causes. Check with errors.Is.
var (
	ErrTimeout      = errors.New("core: session timed out")
	ErrStopped      = errors.New("core: session stopped")
	ErrSourceFailed = errors.New("core: observation source failed")
)

// deliverTimeout bounds result delivery after the gate fired.
const deliverTimeout = 5 * time.Second

// SessionOptions configures one capture session.
type SessionOptions struct {
	// ID identifies the session; empty generates a uuid.
	ID string
	// Engine is the gate configuration (defaults applied by New).
	Engine stabilitygate.Config
	// Timeout cancels the session when it elapses; 0 disables it.
	Timeout time.Duration
	// ProgressHz limits progress events; 0 disables them.
	ProgressHz float64
}

// Session is one capture attempt: a gate fed from a supplier slot.
//
// Lifecycle: newSession() → Run() → Fired | Cancelled. A Session is never
// restarted; the terminal result (or cause) is available from Wait.
type Session struct {
	id      string
	gate    stabilitygate.Gate
	timeout time.Duration
	started time.Time

	supplier framesupplier.Supplier
	read     func() (framesupplier.Delivery, bool)
	bus      framebus.Bus
	sink     emitter.Sink
	metrics  *Metrics
	progress *rate.Limiter

	results chan stabilitygate.Result
	done    chan struct{}

	mu    sync.Mutex
	cause error
	err   error
}

func newSession(opts SessionOptions, supplier framesupplier.Supplier, bus framebus.Bus, sink emitter.Sink, metrics *Metrics) (*Session, error) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	g, err := stabilitygate.New(opts.Engine)
	if err != nil {
		return nil, fmt.Errorf("core: session %s: %w", opts.ID, err)
	}

	s := &Session{
		id:       opts.ID,
		gate:     g,
		timeout:  opts.Timeout,
		supplier: supplier,
		bus:      bus,
		sink:     sink,
		metrics:  metrics,
		results:  make(chan stabilitygate.Result, 1),
		done:     make(chan struct{}),
	}
	if opts.ProgressHz > 0 {
		s.progress = rate.NewLimiter(rate.Limit(opts.ProgressHz), 1)
	}
	// Subscribe before Run so no observation published after StartSession
	// returns is missed.
	s.read = supplier.Subscribe(s.id)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the gate state.
func (s *Session) State() stabilitygate.State { return s.gate.State() }

// Window snapshots the stability window.
func (s *Session) Window() stabilitygate.Window { return s.gate.Window() }

// StartedAt returns when Run began (zero before).
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Results receives the committed result, at most once. Closed when the
// session ends.
func (s *Session) Results() <-chan stabilitygate.Result { return s.results }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the end cause once Done is closed (nil when fired).
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (stabilitygate.Result, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return stabilitygate.Result{}, ctx.Err()
	}
	if res, ok := s.gate.Result(); ok {
		return res, nil
	}
	return stabilitygate.Result{}, s.Err()
}

// Stop cancels the session with ErrStopped. No-op once it has ended.
func (s *Session) Stop() { s.cancel(ErrStopped) }

// fail cancels the session because its source failed.
func (s *Session) fail(err error) {
	if err == nil {
		s.cancel(ErrSourceFailed)
		return
	}
	s.cancel(fmt.Errorf("%w: %w", ErrSourceFailed, err))
}

// sourceEnded records why the source stopped without cancelling the gate,
// so observations already delivered can still fire it.
func (s *Session) sourceEnded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == nil {
		s.cause = fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}
}

// cancel records the first cause, cancels the gate and unblocks the reader.
func (s *Session) cancel(cause error) {
	s.mu.Lock()
	if s.cause == nil {
		s.cause = cause
	}
	s.mu.Unlock()

	if s.gate.Cancel() {
		s.supplier.Unsubscribe(s.id)
	}
}

func (s *Session) causeOr(fallback error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause != nil {
		return s.cause
	}
	return fallback
}

// Run offers observations to the gate until it fires or is cancelled.
//
// Returns the committed result, or the cancellation cause (ErrTimeout,
// ErrStopped, ErrSourceFailed, or ctx.Err() wrapped in ErrStopped).
func (s *Session) Run(ctx context.Context) (stabilitygate.Result, error) {
	start := time.Now()
	s.mu.Lock()
	s.started = start
	s.mu.Unlock()

	defer close(s.done)
	defer close(s.results)
	defer s.supplier.Unsubscribe(s.id)

	if s.timeout > 0 {
		timer := time.AfterFunc(s.timeout, func() { s.cancel(ErrTimeout) })
		defer timer.Stop()
	}

	stopWatch := context.AfterFunc(ctx, func() {
		s.cancel(fmt.Errorf("%w: %w", ErrStopped, context.Cause(ctx)))
	})
	defer stopWatch()

	log := slog.With("session_id", s.id)
	log.Info("session started", "timeout", s.timeout)
	s.publish(framebus.Event{Kind: framebus.EventStarted})

	for {
		d, ok := s.read()
		if !ok {
			// The reader closes when the session is cancelled or the
			// supplier stops, after the last delivery was handed over.
			cause := s.causeOr(ErrStopped)
			s.cancel(cause)
			return s.finish(ctx, log, start, stabilitygate.Result{}, cause)
		}

		out := s.gate.Offer(d.Obs)
		s.metrics.observation(out.Kind)

		switch out.Kind {
		case stabilitygate.OutcomePending:
			if s.progress != nil && s.progress.Allow() {
				s.publish(framebus.Event{
					Kind:  framebus.EventProgress,
					Seq:   d.Obs.Seq,
					Count: out.Count,
					Held:  out.Held,
				})
			}

		case stabilitygate.OutcomeFired:
			return s.finish(ctx, log, start, *out.Result, nil)

		default:
			// Cancelled (or already fired by a concurrent Offer, which a
			// single reader never produces).
			if res, fired := s.gate.Result(); fired {
				return s.finish(ctx, log, start, res, nil)
			}
			return s.finish(ctx, log, start, stabilitygate.Result{}, s.causeOr(ErrStopped))
		}
	}
}

func (s *Session) finish(ctx context.Context, log *slog.Logger, start time.Time, res stabilitygate.Result, cause error) (stabilitygate.Result, error) {
	elapsed := time.Since(start)

	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()

	if cause != nil {
		reason := reasonOf(cause)
		s.metrics.sessionEnded(reason, elapsed)
		s.publish(framebus.Event{Kind: framebus.EventCancelled, Reason: reason})
		log.Info("session cancelled", "reason", reason, "error", cause, "elapsed", elapsed)
		return stabilitygate.Result{}, cause
	}

	s.metrics.sessionEnded(reasonFired, elapsed)
	s.publish(framebus.Event{
		Kind:        framebus.EventFired,
		Seq:         res.Seq,
		Count:       res.Count,
		Held:        res.Held,
		Fingerprint: res.Fingerprint.String(),
	})
	log.Info("session fired",
		"fingerprint", res.Fingerprint.String(),
		"seq", res.Seq,
		"mode", res.Mode.String(),
		"count", res.Count,
		"held", res.Held,
		"elapsed", elapsed,
	)

	s.results <- res

	if s.sink != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
		defer cancel()
		if err := s.sink.Deliver(dctx, emitter.Delivery{SessionID: s.id, Result: res}); err != nil {
			log.Error("result delivery failed", "error", err)
		}
	}
	return res, nil
}

func (s *Session) publish(ev framebus.Event) {
	if s.bus == nil {
		return
	}
	ev.SessionID = s.id
	ev.Timestamp = time.Now()
	s.bus.Publish(ev)
}

// Session end reasons, used as metric labels and event reasons.
const (
	reasonFired        = "fired"
	reasonTimeout      = "timeout"
	reasonStopped      = "stopped"
	reasonSourceFailed = "source_failed"
)

func reasonOf(err error) string {
	switch {
	case err == nil:
		return reasonFired
	case errors.Is(err, ErrTimeout):
		return reasonTimeout
	case errors.Is(err, ErrSourceFailed):
		return reasonSourceFailed
	default:
		return reasonStopped
	}
}
