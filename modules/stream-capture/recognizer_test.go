package streamcapture

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pixelReplay(t *testing.T, frames int) *ReplaySource {
	t.Helper()
	lines := strings.Repeat(`{"width":100,"height":100,"fill":9}`+"\n", frames)
	src, err := NewReplaySource(ReplayConfig{Reader: strings.NewReader(lines), Pacing: PaceNone})
	require.NoError(t, err)
	return src
}

func centered(text string) []stabilitygate.TextCandidate {
	return []stabilitygate.TextCandidate{{
		Text: text,
		Box:  &stabilitygate.Rect{Left: 45, Top: 45, Right: 55, Bottom: 55},
	}}
}

// TestRecognizerSource_DropsFailedFrames validates that a recognition
// error costs one frame, never the stream.
func TestRecognizerSource_DropsFailedFrames(t *testing.T) {
	rec := RecognizerFunc(func(ctx context.Context, obs *Observation) ([]stabilitygate.TextCandidate, error) {
		if obs.Seq == 2 {
			return nil, errors.New("worker crashed")
		}
		return centered("ABC123"), nil
	})
	src := NewRecognizerSource(pixelReplay(t, 4), rec)

	ch, err := src.Start(context.Background())
	require.NoError(t, err)
	got := drain(t, ch, 2*time.Second)

	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 3, 4}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
	for _, obs := range got {
		assert.Nil(t, obs.Pixels, "text observations carry no pixels")
		assert.Equal(t, 100, obs.Width)
		assert.Equal(t, "ABC123", obs.Candidates[0].Text)
	}

	assert.ErrorIs(t, src.Err(), ErrStreamEnded, "inner terminal error passes through")
	st := src.Stats()
	assert.Equal(t, "recognizer(replay)", st.Kind)
	assert.Equal(t, uint64(3), st.Observations)
	assert.Equal(t, uint64(1), st.RecognitionFailures)
}

func TestRecognizerSource_TextScenarioFires(t *testing.T) {
	// Stable read on frames 2..4: "ABC123" x3 after a miss.
	reads := []string{"", "ABC123", "abc123", "ABC123", "XYZ999"}
	rec := RecognizerFunc(func(ctx context.Context, obs *Observation) ([]stabilitygate.TextCandidate, error) {
		return centered(reads[obs.Seq-1]), nil
	})
	src := NewRecognizerSource(pixelReplay(t, len(reads)), rec)

	g, err := stabilitygate.New(stabilitygate.DefaultConfig())
	require.NoError(t, err)

	ch, err := src.Start(context.Background())
	require.NoError(t, err)

	var fired stabilitygate.Outcome
	for obs := range ch {
		if out := g.Offer(obs); out.Kind == stabilitygate.OutcomeFired {
			fired = out
		}
	}
	require.Equal(t, stabilitygate.OutcomeFired, fired.Kind)
	assert.Equal(t, uint64(4), fired.Result.Seq)
	assert.Equal(t, "ABC123", fired.Result.Fingerprint.Text())
}

func TestRecognizerSource_StopCancelsRecognition(t *testing.T) {
	var inflight atomic.Int32
	rec := RecognizerFunc(func(ctx context.Context, obs *Observation) ([]stabilitygate.TextCandidate, error) {
		inflight.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	src := NewRecognizerSource(pixelReplay(t, 10), rec)

	ch, err := src.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inflight.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())

	assert.Empty(t, drain(t, ch, time.Second))
	assert.NoError(t, src.Err())
	assert.Equal(t, uint64(0), src.Stats().RecognitionFailures, "cancellation is not a recognition failure")
}

func TestRecognizerSource_InnerStartFailure(t *testing.T) {
	inner, err := NewReplaySource(ReplayConfig{Path: "/nonexistent/replay.jsonl"})
	require.NoError(t, err)

	src := NewRecognizerSource(inner, RecognizerFunc(func(context.Context, *Observation) ([]stabilitygate.TextCandidate, error) {
		return nil, nil
	}))
	_, err = src.Start(context.Background())
	assert.ErrorIs(t, err, ErrAcquisition)
}
