/*
Package stabilitygate turns a live stream of noisy observations (camera
frames, or recognized text candidates) into one committed result.

# Strategies

Scalar: every SampleStride-th pixel is read (row-major, deterministic) and
the mean luma becomes the fingerprint. Two fingerprints are the same when
|a-b| < Tolerance.

Text: the first (or longest) candidate whose box lies inside a centered
region of interest is stripped of whitespace and checked against
AcceptancePattern. Two fingerprints are the same under case-insensitive
equality. Empty text never matches, so an unreadable frame always breaks
the run.

# Criteria

Consecutive: the gate fires when RequiredCount observations in a row
(baseline included) are each the same as their predecessor.

Duration: the first "same" observation anchors the run; the gate fires on
the first observation whose timestamp is HoldDurationMS past the anchor.

# Usage

	g, err := stabilitygate.New(stabilitygate.Config{
	    Strategy:       stabilitygate.StrategyScalar,
	    Mode:           stabilitygate.ModeNameConsecutive,
	    Tolerance:      1.5,
	    RequiredCount:  3,
	})
	if err != nil {
	    return err
	}

	timer := time.AfterFunc(10*time.Second, func() { g.Cancel() })
	defer timer.Stop()

	for obs := range observations {
	    out := g.Offer(obs)
	    switch out.Kind {
	    case stabilitygate.OutcomeFired:
	        deliver(out.Result)
	        return nil
	    case stabilitygate.OutcomeCancelled, stabilitygate.OutcomeAlreadyFired:
	        return nil
	    }
	}

The engine owns no clock: timeouts are an external timer calling Cancel.
*/
package stabilitygate
