package streamcapture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Recognizer turns a pixel observation into text candidates.
//
// Implementations may be slow (an external OCR worker); they must honour
// ctx cancellation.
type Recognizer interface {
	Recognize(ctx context.Context, obs *Observation) ([]stabilitygate.TextCandidate, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, obs *Observation) ([]stabilitygate.TextCandidate, error)

// Recognize implements Recognizer.
func (f RecognizerFunc) Recognize(ctx context.Context, obs *Observation) ([]stabilitygate.TextCandidate, error) {
	return f(ctx, obs)
}

// RecognizerSource runs each frame of a pixel source through a Recognizer
// and emits text observations.
//
// A recognition failure drops that frame only; the next frame is a fresh
// attempt. The inner source's terminal error is passed through.
type RecognizerSource struct {
	lc         lifecycle
	inner      Source
	recognizer Recognizer

	produced atomic.Uint64
	failures atomic.Uint64
}

// NewRecognizerSource wraps inner with recognizer.
func NewRecognizerSource(inner Source, recognizer Recognizer) *RecognizerSource {
	return &RecognizerSource{
		lc:         lifecycle{name: "recognizer"},
		inner:      inner,
		recognizer: recognizer,
	}
}

// Start implements Source. It starts the inner source.
func (s *RecognizerSource) Start(ctx context.Context) (<-chan *Observation, error) {
	frames, err := s.inner.Start(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.lc.start(ctx, 1, func(ctx context.Context, out chan<- *Observation) error {
		return s.run(ctx, frames, out)
	})
	if err != nil {
		s.inner.Stop()
		return nil, err
	}
	return out, nil
}

func (s *RecognizerSource) run(ctx context.Context, frames <-chan *Observation, out chan<- *Observation) error {
	defer s.inner.Stop()

	for {
		var frame *Observation
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok = <-frames:
			if !ok {
				return s.inner.Err()
			}
		}

		obs, err := s.recognize(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.failures.Add(1)
			slog.Debug("stream-capture: recognition failed, dropping frame",
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
				"error", err,
			)
			continue
		}

		select {
		case out <- obs:
			s.produced.Add(1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *RecognizerSource) recognize(ctx context.Context, frame *Observation) (*Observation, error) {
	candidates, err := s.recognizer.Recognize(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("recognize seq %d: %w", frame.Seq, err)
	}
	return &Observation{
		Seq:        frame.Seq,
		Timestamp:  frame.Timestamp,
		Width:      frame.Width,
		Height:     frame.Height,
		Candidates: candidates,
		TraceID:    frame.TraceID,
	}, nil
}

// Stop implements Source.
func (s *RecognizerSource) Stop() error {
	err := s.lc.stop()
	if innerErr := s.inner.Stop(); err == nil {
		err = innerErr
	}
	return err
}

// Err implements Source.
func (s *RecognizerSource) Err() error { return s.lc.terminalErr() }

// Stats implements Source. Pixel counters come from the inner source.
func (s *RecognizerSource) Stats() SourceStats {
	st := s.inner.Stats()
	st.Kind = "recognizer(" + st.Kind + ")"
	produced := s.produced.Load()
	st.Observations = produced
	st.DropRate = dropRate(produced, st.Dropped)
	st.FPSReal = realFPS(produced, s.lc.startedAt())
	st.RecognitionFailures = s.failures.Load()
	st.IsRunning = s.lc.running()
	return st
}
