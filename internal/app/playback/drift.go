package playback

import (
	"math"
	"time"
)

// DefaultDriftThreshold is the drift tolerated before a corrective seek.
const DefaultDriftThreshold = time.Second

// driftEpsilon absorbs float error so that a drift of exactly the threshold
// (e.g. 41.1 vs 40.1) is never treated as exceeding it.
const driftEpsilon = 1e-6

// DriftCorrector decides whether the local player is far enough from the
// authoritative position to warrant a seek. Sub-threshold jitter is left alone.
type DriftCorrector struct {
	threshold float64 // seconds
}

// NewDriftCorrector creates a corrector. A non-positive threshold uses DefaultDriftThreshold.
func NewDriftCorrector(threshold time.Duration) DriftCorrector {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	return DriftCorrector{threshold: threshold.Seconds()}
}

// Threshold returns the tolerated drift.
func (d DriftCorrector) Threshold() time.Duration {
	return time.Duration(d.threshold * float64(time.Second))
}

// Drift returns |local - authoritative| in seconds.
func (d DriftCorrector) Drift(local, authoritative float64) float64 {
	return math.Abs(local - authoritative)
}

// Correction returns the seek target and true when drift exceeds the threshold.
func (d DriftCorrector) Correction(local, authoritative float64) (float64, bool) {
	if d.Drift(local, authoritative)-d.threshold > driftEpsilon {
		return authoritative, true
	}
	return 0, false
}
