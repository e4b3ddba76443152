package track

import "math"

// DefaultEpsilon is the change-detection threshold in degrees, roughly 0.1m.
// It gates visit writes so a stationary pet does not produce one visit per
// poll.
const DefaultEpsilon = 1e-6

// ChangeDetector decides whether a candidate position is materially
// different from the last recorded one.
type ChangeDetector struct {
	// Epsilon is the per-axis threshold in degrees. Zero or negative values
	// fall back to DefaultEpsilon.
	Epsilon float64
}

// HasChanged reports whether candidate differs from last by more than
// epsilon on either axis. A nil last always counts as changed. The caller
// is responsible for updating last after acting on a positive result.
func (d ChangeDetector) HasChanged(last *Position, candidate Position) bool {
	if last == nil {
		return true
	}
	eps := d.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	return math.Abs(last.Lat-candidate.Lat) > eps ||
		math.Abs(last.Lng-candidate.Lng) > eps
}
