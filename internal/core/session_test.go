package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiasco12/liveocr/internal/emitter"
	"github.com/phiasco12/liveocr/modules/framebus"
	"github.com/phiasco12/liveocr/modules/framesupplier"
	"github.com/phiasco12/liveocr/modules/stabilitygate"
	streamcapture "github.com/phiasco12/liveocr/modules/stream-capture"
)

// fakeSupplier delivers every published observation to every session,
// in order, so session tests are deterministic.
type fakeSupplier struct {
	mu    sync.Mutex
	slots map[string]chan *framesupplier.Observation
}

func newFakeSupplier() *fakeSupplier {
	return &fakeSupplier{slots: make(map[string]chan *framesupplier.Observation)}
}

func (f *fakeSupplier) Start(context.Context) error { return nil }
func (f *fakeSupplier) Stop() error                 { return nil }

func (f *fakeSupplier) Publish(obs *framesupplier.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.slots {
		ch <- obs
	}
}

func (f *fakeSupplier) Subscribe(id string) func() (framesupplier.Delivery, bool) {
	ch := make(chan *framesupplier.Observation, 64)
	f.mu.Lock()
	f.slots[id] = ch
	f.mu.Unlock()
	return func() (framesupplier.Delivery, bool) {
		obs, ok := <-ch
		if !ok {
			return framesupplier.Delivery{}, false
		}
		return framesupplier.Delivery{Obs: obs, Seq: obs.Seq}, true
	}
}

func (f *fakeSupplier) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.slots[id]; ok {
		close(ch)
		delete(f.slots, id)
	}
}

func (f *fakeSupplier) Stats() framesupplier.SupplierStats { return framesupplier.SupplierStats{} }

type recordingSink struct {
	mu         sync.Mutex
	deliveries []emitter.Delivery
}

func (r *recordingSink) Deliver(_ context.Context, d emitter.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *recordingSink) all() []emitter.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitter.Delivery(nil), r.deliveries...)
}

var sessionStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// textObs is a 100x100 frame with one candidate inside the default region.
func textObs(seq uint64, text string) *stabilitygate.Observation {
	return &stabilitygate.Observation{
		Seq:       seq,
		Timestamp: sessionStart.Add(time.Duration(seq) * 100 * time.Millisecond),
		Width:     100,
		Height:    100,
		Candidates: []stabilitygate.TextCandidate{
			{Text: text, Box: &stabilitygate.Rect{Left: 40, Top: 45, Right: 60, Bottom: 55}},
		},
	}
}

type sessionHarness struct {
	supplier *fakeSupplier
	bus      framebus.Bus
	events   chan framebus.Event
	sink     *recordingSink
	reg      *prometheus.Registry
	metrics  *Metrics
}

func newHarness(t *testing.T) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		supplier: newFakeSupplier(),
		bus:      framebus.New(),
		events:   make(chan framebus.Event, 64),
		sink:     &recordingSink{},
		reg:      prometheus.NewRegistry(),
	}
	require.NoError(t, h.bus.Subscribe("test", h.events))
	h.metrics = NewMetrics(h.reg, nil)
	t.Cleanup(h.bus.Close)
	return h
}

func (h *sessionHarness) session(t *testing.T, opts SessionOptions) *Session {
	t.Helper()
	if opts.Engine.Strategy == "" {
		opts.Engine = stabilitygate.DefaultConfig()
	}
	s, err := newSession(opts, h.supplier, h.bus, h.sink, h.metrics)
	require.NoError(t, err)
	return s
}

type runResult struct {
	res stabilitygate.Result
	err error
}

func runAsync(ctx context.Context, s *Session) <-chan runResult {
	out := make(chan runResult, 1)
	go func() {
		res, err := s.Run(ctx)
		out <- runResult{res, err}
	}()
	return out
}

func waitRun(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return runResult{}
	}
}

func (h *sessionHarness) drainEvents() []framebus.Event {
	var out []framebus.Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// TestSession_FiresOnThirdIdenticalReading validates the default text
// scenario: a noisy first read, then three identical reads.
func TestSession_FiresOnThirdIdenticalReading(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, SessionOptions{ID: "dock-1"})
	done := runAsync(context.Background(), s)

	h.supplier.Publish(textObs(1, "SN12O456"))
	h.supplier.Publish(textObs(2, "SN123456"))
	h.supplier.Publish(textObs(3, "SN 123456"))
	h.supplier.Publish(textObs(4, "SN123456"))

	r := waitRun(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, stabilitygate.Text("SN123456"), r.res.Fingerprint)
	assert.Equal(t, uint64(4), r.res.Seq)
	assert.Equal(t, uint32(3), r.res.Count)

	res, ok := <-s.Results()
	require.True(t, ok)
	assert.Equal(t, r.res, res)
	_, ok = <-s.Results()
	assert.False(t, ok, "results channel closes after the single result")

	deliveries := h.sink.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "dock-1", deliveries[0].SessionID)

	events := h.drainEvents()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, framebus.EventStarted, events[0].Kind)
	last := events[len(events)-1]
	assert.Equal(t, framebus.EventFired, last.Kind)
	assert.Equal(t, `Text("SN123456")`, last.Fingerprint)
	assert.Equal(t, "dock-1", last.SessionID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.sessions.WithLabelValues("fired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.observations.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.observations.WithLabelValues("fired")))
	assert.Equal(t, stabilitygate.StateFired, s.State())
	assert.NoError(t, s.Err())
}

func TestSession_Timeout(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, SessionOptions{Timeout: 30 * time.Millisecond})
	assert.NotEmpty(t, s.ID(), "empty ID is generated")

	r := waitRun(t, runAsync(context.Background(), s))
	require.ErrorIs(t, r.err, ErrTimeout)
	assert.ErrorIs(t, s.Err(), ErrTimeout)
	assert.Equal(t, stabilitygate.StateCancelled, s.State())
	assert.Empty(t, h.sink.all())

	events := h.drainEvents()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, framebus.EventCancelled, last.Kind)
	assert.Equal(t, "timeout", last.Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.sessions.WithLabelValues("timeout")))
}

func TestSession_Stop(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, SessionOptions{})
	done := runAsync(context.Background(), s)

	h.supplier.Publish(textObs(1, "SN123456"))
	s.Stop()
	s.Stop()

	r := waitRun(t, done)
	assert.ErrorIs(t, r.err, ErrStopped)

	res, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.Zero(t, res)
}

func TestSession_ContextCancelStops(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, SessionOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)

	cancel()

	r := waitRun(t, done)
	assert.ErrorIs(t, r.err, ErrStopped)
	assert.ErrorIs(t, r.err, context.Canceled)
}

func TestSession_SourceFailure(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, SessionOptions{})
	done := runAsync(context.Background(), s)

	s.fail(streamcapture.ErrStreamEnded)

	r := waitRun(t, done)
	assert.ErrorIs(t, r.err, ErrSourceFailed)
	assert.ErrorIs(t, r.err, streamcapture.ErrStreamEnded)

	events := h.drainEvents()
	assert.Equal(t, "source_failed", events[len(events)-1].Reason)
}

// TestSession_StopAfterFireKeepsResult: a late cancel never overrides a
// committed result.
func TestSession_StopAfterFireKeepsResult(t *testing.T) {
	h := newHarness(t)
	cfg := stabilitygate.DefaultConfig()
	cfg.RequiredCount = 2
	s := h.session(t, SessionOptions{Engine: cfg})
	done := runAsync(context.Background(), s)

	h.supplier.Publish(textObs(1, "SN123456"))
	h.supplier.Publish(textObs(2, "SN123456"))
	r := waitRun(t, done)
	require.NoError(t, r.err)

	s.Stop()
	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Seq)
}

func TestSession_ProgressIsThrottled(t *testing.T) {
	h := newHarness(t)
	s := h.session(t, SessionOptions{ProgressHz: 0.01})
	done := runAsync(context.Background(), s)

	for seq := uint64(1); seq <= 10; seq++ {
		h.supplier.Publish(textObs(seq, "NOISE"+string(rune('A'+seq))))
	}
	// Every reading differs; stop only once the last one was offered.
	require.Eventually(t, func() bool {
		w := s.Window()
		return w.HasLast && w.Last.Text() == "NOISEK"
	}, time.Second, time.Millisecond)
	s.Stop()
	waitRun(t, done)

	progress := 0
	for _, ev := range h.drainEvents() {
		if ev.Kind == framebus.EventProgress {
			progress++
		}
	}
	assert.Equal(t, 1, progress, "burst of one, refill far slower than the test")
}

func TestSession_InvalidEngine(t *testing.T) {
	h := newHarness(t)
	cfg := stabilitygate.DefaultConfig()
	cfg.RequiredCount = 1
	_, err := newSession(SessionOptions{Engine: cfg}, h.supplier, h.bus, nil, nil)
	assert.ErrorIs(t, err, stabilitygate.ErrInvalidConfig)
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "fired", reasonOf(nil))
	assert.Equal(t, "timeout", reasonOf(ErrTimeout))
	assert.Equal(t, "stopped", reasonOf(errors.New("other")))
	assert.Equal(t, "source_failed", reasonOf(errors.Join(ErrSourceFailed, streamcapture.ErrAcquisition)))
}
