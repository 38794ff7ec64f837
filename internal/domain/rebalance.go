package domain

// RebalanceDistancePct measures how far the active bin drifted from the range center,
// as a percentage of the range span:
//
//	center      = floor((lower + upper) / 2)
//	distance    = |activeBin - center|
//	distancePct = 100 * distance / (upper - lower)
//
// A zero-span range is a configuration error.
func RebalanceDistancePct(r BinRange, activeBin int) (float64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	distance := activeBin - r.Center()
	if distance < 0 {
		distance = -distance
	}
	return 100 * float64(distance) / float64(r.Span()), nil
}

// ShouldRebalance reports whether the drift is strictly above thresholdPct.
// It is pure: same inputs, same answer.
func ShouldRebalance(r BinRange, activeBin int, thresholdPct float64) (bool, error) {
	pct, err := RebalanceDistancePct(r, activeBin)
	if err != nil {
		return false, err
	}
	return pct > thresholdPct, nil
}
