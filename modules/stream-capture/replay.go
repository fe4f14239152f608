package streamcapture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Pacing controls how fast a ReplaySource emits observations.
type Pacing int

const (
	// PaceRecorded sleeps for the delta between recorded timestamps.
	PaceRecorded Pacing = iota
	// PaceInterval emits one observation every ReplayConfig.Interval.
	PaceInterval
	// PaceNone emits as fast as the consumer reads.
	PaceNone
)

// ParsePacing maps "recorded", "interval" or "none" to a Pacing.
func ParsePacing(s string) (Pacing, error) {
	switch s {
	case "recorded", "":
		return PaceRecorded, nil
	case "interval":
		return PaceInterval, nil
	case "none":
		return PaceNone, nil
	default:
		return PaceRecorded, fmt.Errorf("stream-capture: unknown pacing %q", s)
	}
}

// Record is one JSON Lines entry of a replay file.
//
// Pixel records carry Pixels (base64 in JSON) or Fill, a single luma value
// repeated over Width*Height. Text records carry Candidates plus the frame
// size their boxes refer to. A missing Timestamp is stamped at emit time.
type Record struct {
	Seq        uint64                        `json:"seq,omitempty"`
	Timestamp  time.Time                     `json:"timestamp,omitempty"`
	Width      int                           `json:"width"`
	Height     int                           `json:"height"`
	Stride     int                           `json:"stride,omitempty"`
	Format     string                        `json:"format,omitempty"`
	Pixels     []byte                        `json:"pixels,omitempty"`
	Fill       *uint8                        `json:"fill,omitempty"`
	Candidates []stabilitygate.TextCandidate `json:"candidates,omitempty"`
}

// RecordOf converts an observation back into a replay record.
func RecordOf(obs *Observation) Record {
	return Record{
		Seq:        obs.Seq,
		Timestamp:  obs.Timestamp,
		Width:      obs.Width,
		Height:     obs.Height,
		Stride:     obs.Stride,
		Format:     obs.Format.String(),
		Pixels:     obs.Pixels,
		Candidates: obs.Candidates,
	}
}

// Observation builds the engine observation for r.
func (r Record) Observation(seq uint64) (*Observation, error) {
	format, err := stabilitygate.ParsePixelFormat(r.Format)
	if err != nil {
		return nil, err
	}

	pixels := r.Pixels
	if pixels == nil && r.Fill != nil && r.Width > 0 && r.Height > 0 {
		pixels = make([]byte, r.Width*r.Height*format.BytesPerPixel())
		for i := range pixels {
			pixels[i] = *r.Fill
		}
	}

	return &Observation{
		Seq:        seq,
		Timestamp:  r.Timestamp,
		Pixels:     pixels,
		Width:      r.Width,
		Height:     r.Height,
		Stride:     r.Stride,
		Format:     format,
		Candidates: r.Candidates,
		TraceID:    uuid.New().String(),
	}, nil
}

// ReplayConfig configures a ReplaySource.
type ReplayConfig struct {
	// Path is the JSON Lines file. Ignored when Reader is set.
	Path string
	// Reader supplies records directly (single pass, Loop is ignored).
	Reader io.Reader
	// Pacing selects the emit rate.
	Pacing Pacing
	// Interval is the fixed delay for PaceInterval.
	Interval time.Duration
	// Loop restarts from the first record at end of file.
	Loop bool
}

// ReplaySource replays recorded observations from JSON Lines.
//
// Unlike live sources it never drops: sends block until the consumer reads
// or the context is done. Consumers that keep only the latest observation
// (framesupplier) may still coalesce records that arrive faster than a
// session offers them, so reproducible runs use recorded or interval
// pacing slower than the engine.
type ReplaySource struct {
	lc  lifecycle
	cfg ReplayConfig

	produced     atomic.Uint64
	bytesRead    atomic.Uint64
	decodeErrors atomic.Uint64
	lastAt       atomic.Int64
}

// NewReplaySource creates a replay source.
func NewReplaySource(cfg ReplayConfig) (*ReplaySource, error) {
	if cfg.Reader == nil && cfg.Path == "" {
		return nil, fmt.Errorf("stream-capture: replay path is required")
	}
	if cfg.Pacing == PaceInterval && cfg.Interval <= 0 {
		return nil, fmt.Errorf("stream-capture: replay interval must be > 0 for interval pacing")
	}
	if cfg.Reader != nil {
		cfg.Loop = false
	}
	return &ReplaySource{lc: lifecycle{name: "replay"}, cfg: cfg}, nil
}

// Start implements Source. A missing file fails here with ErrAcquisition.
func (s *ReplaySource) Start(ctx context.Context) (<-chan *Observation, error) {
	if s.cfg.Reader == nil {
		if _, err := os.Stat(s.cfg.Path); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAcquisition, err)
		}
	}
	return s.lc.start(ctx, 1, s.run)
}

// replayClock shifts recorded timestamps so that looping never moves
// time backwards.
type replayClock struct {
	offset    time.Duration
	first     time.Time
	lastOut   time.Time
	lastDelta time.Duration
}

func (c *replayClock) stamp(recorded time.Time) time.Time {
	if recorded.IsZero() {
		now := time.Now()
		if !now.After(c.lastOut) {
			now = c.lastOut.Add(time.Millisecond)
		}
		c.lastOut = now
		return now
	}
	if c.first.IsZero() {
		c.first = recorded
	}
	ts := recorded.Add(c.offset)
	if !c.lastOut.IsZero() {
		c.lastDelta = ts.Sub(c.lastOut)
	}
	c.lastOut = ts
	return ts
}

// rewind is called at end of file before looping.
func (c *replayClock) rewind() {
	if c.first.IsZero() {
		return
	}
	step := c.lastDelta
	if step <= 0 {
		step = time.Millisecond
	}
	c.offset = c.lastOut.Add(step).Sub(c.first)
}

func (s *ReplaySource) run(ctx context.Context, out chan<- *Observation) error {
	var seq uint64
	clock := &replayClock{}
	var prev time.Time

	for pass := 0; ; pass++ {
		r, closeFn, err := s.open()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAcquisition, err)
		}

		emitted, err := s.replay(ctx, r, out, clock, &seq, &prev)
		closeFn()
		if err != nil {
			return err
		}

		if !s.cfg.Loop || emitted == 0 {
			slog.Info("stream-capture: replay finished", "observations", seq, "passes", pass+1)
			return ErrStreamEnded
		}
		clock.rewind()
	}
}

func (s *ReplaySource) open() (io.Reader, func(), error) {
	if s.cfg.Reader != nil {
		return s.cfg.Reader, func() {}, nil
	}
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func (s *ReplaySource) replay(
	ctx context.Context,
	r io.Reader,
	out chan<- *Observation,
	clock *replayClock,
	seq *uint64,
	prev *time.Time,
) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	emitted := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		s.bytesRead.Add(uint64(len(raw)))

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.decodeErrors.Add(1)
			slog.Warn("stream-capture: skipping malformed replay record", "line", line, "error", err)
			continue
		}

		*seq++
		obs, err := rec.Observation(*seq)
		if err != nil {
			*seq--
			s.decodeErrors.Add(1)
			slog.Warn("stream-capture: skipping replay record", "line", line, "error", err)
			continue
		}
		obs.Timestamp = clock.stamp(rec.Timestamp)

		if err := s.pace(ctx, *prev, obs.Timestamp, !rec.Timestamp.IsZero()); err != nil {
			return emitted, err
		}
		*prev = obs.Timestamp

		select {
		case out <- obs:
		case <-ctx.Done():
			return emitted, ctx.Err()
		}
		emitted++
		s.produced.Add(1)
		s.lastAt.Store(time.Now().UnixNano())
	}
	if err := scanner.Err(); err != nil {
		return emitted, fmt.Errorf("%w: read replay: %w", ErrAcquisition, err)
	}
	return emitted, nil
}

// pace waits before emitting next. Records without a timestamp are not
// paced in PaceRecorded mode.
func (s *ReplaySource) pace(ctx context.Context, prev, next time.Time, recorded bool) error {
	var wait time.Duration
	switch s.cfg.Pacing {
	case PaceInterval:
		if !prev.IsZero() {
			wait = s.cfg.Interval
		}
	case PaceRecorded:
		if recorded && !prev.IsZero() {
			wait = next.Sub(prev)
		}
	}
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements Source.
func (s *ReplaySource) Stop() error { return s.lc.stop() }

// Err implements Source. A finished replay reports ErrStreamEnded.
func (s *ReplaySource) Err() error { return s.lc.terminalErr() }

// Stats implements Source.
func (s *ReplaySource) Stats() SourceStats {
	produced := s.produced.Load()

	var fps float64
	if s.cfg.Pacing == PaceInterval && s.cfg.Interval > 0 {
		fps = float64(time.Second) / float64(s.cfg.Interval)
	}
	var latencyMS int64
	if last := s.lastAt.Load(); last > 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return SourceStats{
		Kind:         "replay",
		Observations: produced,
		FPSTarget:    fps,
		FPSReal:      realFPS(produced, s.lc.startedAt()),
		LatencyMS:    latencyMS,
		BytesRead:    s.bytesRead.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		IsRunning:    s.lc.running(),
	}
}
