package stabilitygate

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// grayFrame builds an 8x8 uniform frame whose sampled mean is value.
func grayFrame(seq uint64, ts time.Time, value byte) *Observation {
	px := make([]byte, 64)
	for i := range px {
		px[i] = value
	}
	return &Observation{Seq: seq, Timestamp: ts, Pixels: px, Width: 8, Height: 8, Format: FormatGray8}
}

// tenthsFrame builds a 10-pixel frame whose mean is v rounded to 0.1.
func tenthsFrame(seq uint64, v float64) *Observation {
	base := math.Floor(v)
	up := int(math.Round((v - base) * 10))
	px := make([]byte, 10)
	for i := range px {
		px[i] = byte(base)
		if i < up {
			px[i]++
		}
	}
	return &Observation{Seq: seq, Pixels: px, Width: 10, Height: 1, Format: FormatGray8}
}

func textObs(seq uint64, text string) *Observation {
	return &Observation{
		Seq: seq, Timestamp: epoch.Add(time.Duration(seq) * 100 * time.Millisecond),
		Width: 100, Height: 100,
		Candidates: []TextCandidate{{Text: text, Box: &Rect{Left: 40, Top: 45, Right: 60, Bottom: 55}}},
	}
}

func scalarConsecutive(t *testing.T, tolerance float64, required uint32) Gate {
	t.Helper()
	g, err := New(Config{
		Strategy: StrategyScalar, Mode: ModeNameConsecutive,
		Tolerance: tolerance, RequiredCount: required, SampleStride: 1,
	})
	require.NoError(t, err)
	return g
}

// TestScenario_NumericConsecutive: threshold 1.5, required_count 3,
// fingerprints [100, 100.3, 100.9, 101.0, 50.0] fire at the 3rd.
func TestScenario_NumericConsecutive(t *testing.T) {
	g, err := New(Config{
		Strategy: StrategyScalar, Mode: ModeNameConsecutive,
		Tolerance: 1.5, RequiredCount: 3, SampleStride: 1,
	})
	require.NoError(t, err)

	var frames []*Observation
	for i, v := range []float64{100, 100.3, 100.9, 101.0, 50.0} {
		frames = append(frames, tenthsFrame(uint64(i+1), v))
	}

	var kinds []OutcomeKind
	for _, f := range frames {
		kinds = append(kinds, g.Offer(f).Kind)
	}

	assert.Equal(t, []OutcomeKind{
		OutcomePending, OutcomePending, OutcomeFired, OutcomeAlreadyFired, OutcomeAlreadyFired,
	}, kinds)

	res, ok := g.Result()
	require.True(t, ok)
	assert.Equal(t, uint64(3), res.Seq)
	assert.InDelta(t, 100.9, res.Fingerprint.Scalar(), 1e-9)
	assert.Equal(t, uint32(3), res.Count)
}

// TestScenario_Text: pattern ^[A-Z0-9\-]{6,}$, required_count 2,
// ["AB12-99", "", "AB12-99", "AB12-99"] fires on the 4th.
func TestScenario_Text(t *testing.T) {
	g, err := New(Config{
		Strategy: StrategyText, Mode: ModeNameConsecutive,
		RequiredCount: 2, AcceptancePattern: `^[A-Z0-9\-]{6,}$`,
	})
	require.NoError(t, err)

	var kinds []OutcomeKind
	for i, s := range []string{"AB12-99", "", "AB12-99", "AB12-99"} {
		kinds = append(kinds, g.Offer(textObs(uint64(i+1), s)).Kind)
	}
	assert.Equal(t, []OutcomeKind{OutcomePending, OutcomePending, OutcomePending, OutcomeFired}, kinds)

	res, _ := g.Result()
	assert.Equal(t, Text("AB12-99"), res.Fingerprint)
	assert.Equal(t, uint64(4), res.Seq)
}

// TestConsecutive_FiresExactlyAtRequiredCount checks every required_count
// in a range against a constant stream longer than the threshold.
func TestConsecutive_FiresExactlyAtRequiredCount(t *testing.T) {
	for required := uint32(2); required <= 10; required++ {
		g := scalarConsecutive(t, 0.5, required)
		firedAt := 0
		fires := 0
		for i := 1; i <= int(required)+5; i++ {
			if g.Offer(grayFrame(uint64(i), epoch, 80)).Kind == OutcomeFired {
				fires++
				firedAt = i
			}
		}
		assert.Equal(t, 1, fires, "required=%d", required)
		assert.Equal(t, int(required), firedAt, "required=%d", required)
	}
}

func TestDivergenceResets(t *testing.T) {
	g := scalarConsecutive(t, 1.0, 3)
	for i, v := range []byte{10, 10, 200, 10, 10} {
		out := g.Offer(grayFrame(uint64(i), epoch, v))
		assert.Equal(t, OutcomePending, out.Kind, "observation %d", i)
	}
	assert.Equal(t, StateArmed, g.State())
}

// TestDuration_FiresOnFirstObservationPastHold feeds 100ms-spaced
// identical frames with hold 350ms. Anchor is the 2nd frame (t=100ms),
// so the first frame with now-anchor >= 350ms is t=500ms (6th frame).
func TestDuration_FiresOnFirstObservationPastHold(t *testing.T) {
	g, err := New(Config{
		Strategy: StrategyScalar, Mode: ModeNameDuration,
		Tolerance: 2, HoldDurationMS: 350, SampleStride: 1,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ts := epoch.Add(time.Duration(i) * 100 * time.Millisecond)
		out := g.Offer(grayFrame(uint64(i), ts, 128))
		if i < 5 {
			require.Equal(t, OutcomePending, out.Kind, "frame %d", i)
			continue
		}
		if i == 5 {
			require.Equal(t, OutcomeFired, out.Kind)
			assert.Equal(t, 400*time.Millisecond, out.Result.Held)
			assert.Equal(t, ModeDuration, out.Result.Mode)
			continue
		}
		assert.Equal(t, OutcomeAlreadyFired, out.Kind)
	}
}

func TestIdempotenceAfterFired(t *testing.T) {
	g := scalarConsecutive(t, 1, 2)
	g.Offer(grayFrame(1, epoch, 50))
	require.Equal(t, OutcomeFired, g.Offer(grayFrame(2, epoch, 50)).Kind)
	want, _ := g.Result()

	for i := 3; i < 100; i++ {
		assert.Equal(t, OutcomeAlreadyFired, g.Offer(grayFrame(uint64(i), epoch, byte(i))).Kind)
	}
	got, _ := g.Result()
	assert.Equal(t, want, got)
}

func TestConcurrentOffers_ExactlyOneFired(t *testing.T) {
	const producers = 32
	var releases atomic.Int32
	g, err := New(Config{
		Strategy: StrategyScalar, Mode: ModeNameConsecutive, Tolerance: 1, RequiredCount: 2,
	}, OnRelease(func(State, *Result) { releases.Add(1) }))
	require.NoError(t, err)

	var fired atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			<-start
			for i := 0; i < 20; i++ {
				if g.Offer(grayFrame(uint64(p*20+i), epoch, 99)).Kind == OutcomeFired {
					fired.Add(1)
				}
			}
		}(p)
	}
	close(start)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producers did not finish")
	}

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, int32(1), releases.Load())
}

func TestCancel_StopsGate(t *testing.T) {
	var state atomic.Int32
	state.Store(-1)
	g, err := New(DefaultConfig(), OnRelease(func(s State, res *Result) {
		state.Store(int32(s))
		assert.Nil(t, res)
	}))
	require.NoError(t, err)

	g.Offer(textObs(1, "SERIAL-1"))
	assert.True(t, g.Cancel())
	assert.False(t, g.Cancel())
	assert.Equal(t, OutcomeCancelled, g.Offer(textObs(2, "SERIAL-1")).Kind)
	assert.Equal(t, int32(StateCancelled), state.Load())

	select {
	case <-g.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Cancel")
	}
}

func TestTimerCancel(t *testing.T) {
	g := scalarConsecutive(t, 1, 5)
	timer := time.AfterFunc(10*time.Millisecond, func() { g.Cancel() })
	defer timer.Stop()

	select {
	case <-g.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("external timer did not cancel the gate")
	}
	assert.Equal(t, StateCancelled, g.State())
}

func TestMalformedFramesNeverFire(t *testing.T) {
	g := scalarConsecutive(t, 100, 2)
	for i := 0; i < 20; i++ {
		out := g.Offer(&Observation{Seq: uint64(i), Pixels: []byte{1}, Width: 10, Height: 10})
		require.Equal(t, OutcomePending, out.Kind)
		assert.Equal(t, uint32(0), out.Count)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cases := map[string]Config{
		"unknown_strategy":   {Strategy: "audio", Mode: ModeNameConsecutive, RequiredCount: 3},
		"unknown_mode":       {Strategy: StrategyText, Mode: "forever"},
		"required_count_1":   {Strategy: StrategyText, Mode: ModeNameConsecutive, RequiredCount: 1},
		"hold_zero":          {Strategy: StrategyText, Mode: ModeNameDuration},
		"scalar_no_tol":      {Strategy: StrategyScalar, Mode: ModeNameConsecutive, RequiredCount: 3},
		"fraction_too_small": {Strategy: StrategyText, Mode: ModeNameConsecutive, RequiredCount: 3, RegionFraction: 0.05},
		"fraction_too_big":   {Strategy: StrategyText, Mode: ModeNameConsecutive, RequiredCount: 3, RegionFraction: 1.5},
		"bad_pattern":        {Strategy: StrategyText, Mode: ModeNameConsecutive, RequiredCount: 3, AcceptancePattern: "(["},
		"bad_selection":      {Strategy: StrategyText, Mode: ModeNameConsecutive, RequiredCount: 3, Selection: "random"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			g, err := New(cfg)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestWithDefaults(t *testing.T) {
	c := Config{Strategy: StrategyText, Mode: ModeNameConsecutive, RequiredCount: 3}.WithDefaults()
	assert.Equal(t, 0.33, c.RegionFraction)
	assert.Equal(t, `^[A-Za-z0-9\-]{6,}$`, c.AcceptancePattern)
	assert.Equal(t, "first", c.Selection)
	assert.Equal(t, "contain", c.Containment)
	assert.Equal(t, uint32(1000), c.SampleStride)
	require.NoError(t, c.Validate())
	assert.Equal(t, 1500*time.Millisecond, Config{HoldDurationMS: 1500}.HoldDuration())
}
