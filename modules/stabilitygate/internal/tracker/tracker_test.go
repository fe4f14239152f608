package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/fingerprint"
	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/policy"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func consecutive(required uint32, tol float64) *Tracker {
	return New(Config{Mode: ModeConsecutive, Required: required}, policy.Numeric{Tolerance: tol})
}

// firstStable returns the 1-based index of the first Stable verdict, or 0.
func firstStable(tr *Tracker, values []float64) int {
	for i, v := range values {
		if tr.Observe(fingerprint.Scalar(v), at(i*10)).Stable {
			return i + 1
		}
	}
	return 0
}

func TestConsecutive_FiresOnRequiredCount(t *testing.T) {
	for required := uint32(2); required <= 6; required++ {
		values := make([]float64, required+3)
		for i := range values {
			values[i] = 42
		}
		got := firstStable(consecutive(required, 0.5), values)
		assert.Equal(t, int(required), got, "required_count=%d", required)
	}
}

func TestConsecutive_ChainedTolerance(t *testing.T) {
	// Each value is compared with its immediate predecessor, not the baseline.
	got := firstStable(consecutive(3, 1.5), []float64{100, 100.3, 100.9, 101.0, 50.0})
	assert.Equal(t, 3, got)
}

func TestConsecutive_DivergenceResets(t *testing.T) {
	got := firstStable(consecutive(3, 0.5), []float64{10, 10, 90, 10, 10})
	assert.Equal(t, 0, got, "2 + divergent + 2 must never reach 3")
}

func TestConsecutive_DivergentBecomesBaseline(t *testing.T) {
	tr := consecutive(3, 0.5)
	tr.Observe(fingerprint.Scalar(10), at(0))
	v := tr.Observe(fingerprint.Scalar(90), at(1))
	assert.False(t, v.Stable)
	assert.Equal(t, uint32(1), v.Count)
	assert.Equal(t, 90.0, v.Fingerprint.Scalar())

	v = tr.Observe(fingerprint.Scalar(90), at(2))
	assert.Equal(t, uint32(2), v.Count)
	v = tr.Observe(fingerprint.Scalar(90), at(3))
	assert.True(t, v.Stable)
	assert.Equal(t, uint32(3), v.Count)
}

func TestConsecutive_SentinelNeverStartsRun(t *testing.T) {
	tr := New(Config{Mode: ModeConsecutive, Required: 2}, policy.Text{})
	txt := fingerprint.Text

	seq := []fingerprint.Fingerprint{txt("AB12-99"), txt(""), txt("AB12-99"), txt("AB12-99")}
	var verdicts []Verdict
	for i, fp := range seq {
		verdicts = append(verdicts, tr.Observe(fp, at(i)))
	}

	assert.Equal(t, uint32(1), verdicts[0].Count)
	assert.Equal(t, uint32(0), verdicts[1].Count)
	assert.Equal(t, uint32(1), verdicts[2].Count)
	assert.False(t, verdicts[2].Stable)
	assert.True(t, verdicts[3].Stable)
	assert.Equal(t, "AB12-99", verdicts[3].Fingerprint.Text())
}

func TestDuration_FiresWhenHeld(t *testing.T) {
	tr := New(Config{Mode: ModeDuration, Hold: 300 * time.Millisecond}, policy.Numeric{Tolerance: 1})

	assert.False(t, tr.Observe(fingerprint.Scalar(5), at(0)).Stable, "baseline")
	v := tr.Observe(fingerprint.Scalar(5), at(100)) // anchor set here
	assert.False(t, v.Stable)
	assert.Equal(t, time.Duration(0), v.Held)

	assert.False(t, tr.Observe(fingerprint.Scalar(5), at(399)).Stable)
	v = tr.Observe(fingerprint.Scalar(5), at(400))
	assert.True(t, v.Stable)
	assert.Equal(t, 300*time.Millisecond, v.Held)
}

func TestDuration_DivergenceClearsAnchor(t *testing.T) {
	tr := New(Config{Mode: ModeDuration, Hold: 200 * time.Millisecond}, policy.Numeric{Tolerance: 1})

	tr.Observe(fingerprint.Scalar(5), at(0))
	tr.Observe(fingerprint.Scalar(5), at(100))
	tr.Observe(fingerprint.Scalar(50), at(250))

	w := tr.Window()
	require.False(t, w.Anchored)
	assert.Equal(t, time.Duration(0), w.Held)

	assert.False(t, tr.Observe(fingerprint.Scalar(50), at(300)).Stable) // re-anchored
	assert.False(t, tr.Observe(fingerprint.Scalar(50), at(450)).Stable)
	assert.True(t, tr.Observe(fingerprint.Scalar(50), at(500)).Stable)
}

func TestDuration_HeldIsMonotonic(t *testing.T) {
	tr := New(Config{Mode: ModeDuration, Hold: time.Second}, policy.Numeric{Tolerance: 1})
	tr.Observe(fingerprint.Scalar(1), at(0))
	tr.Observe(fingerprint.Scalar(1), at(100))
	tr.Observe(fingerprint.Scalar(1), at(500))

	v := tr.Observe(fingerprint.Scalar(1), at(200)) // late timestamp
	assert.Equal(t, 400*time.Millisecond, v.Held)
}

func TestDuration_SentinelClearsAnchor(t *testing.T) {
	tr := New(Config{Mode: ModeDuration, Hold: 100 * time.Millisecond}, policy.Numeric{Tolerance: 1})
	tr.Observe(fingerprint.Scalar(1), at(0))
	tr.Observe(fingerprint.Scalar(1), at(10))
	tr.Observe(fingerprint.Sentinel(fingerprint.KindScalar), at(50))
	assert.False(t, tr.Observe(fingerprint.Scalar(1), at(200)).Stable, "sentinel reset the run")
}

func TestReset(t *testing.T) {
	tr := consecutive(2, 1)
	tr.Observe(fingerprint.Scalar(1), at(0))
	tr.Reset()
	assert.False(t, tr.Window().HasLast)
	assert.False(t, tr.Observe(fingerprint.Scalar(1), at(1)).Stable, "first after reset is baseline")
	assert.True(t, tr.Observe(fingerprint.Scalar(1), at(2)).Stable)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "duration", ModeDuration.String())
	assert.Equal(t, "consecutive", ModeConsecutive.String())
}
