package domain

import (
	"fmt"
	"math"
)

// ActivityRatio computes volume / sizeReference, the health signal of a token.
//
//	activityRatio = recentVolumeUSD / marketCap
//
// A non-positive or non-finite size reference means the provider returned
// garbage, so the result is ErrDataUnavailable rather than Inf or NaN.
func ActivityRatio(volumeUSD, sizeReference float64) (float64, error) {
	if sizeReference <= 0 || math.IsNaN(sizeReference) || math.IsInf(sizeReference, 0) {
		return 0, fmt.Errorf("%w: size reference %v", ErrDataUnavailable, sizeReference)
	}
	if volumeUSD < 0 || math.IsNaN(volumeUSD) || math.IsInf(volumeUSD, 0) {
		return 0, fmt.Errorf("%w: volume %v", ErrDataUnavailable, volumeUSD)
	}
	return volumeUSD / sizeReference, nil
}

// VolumeToLiquidity is volume / pool liquidity. Kept for observability; 0 if liquidity is unknown.
func VolumeToLiquidity(volumeUSD, liquidity float64) float64 {
	if liquidity <= 0 {
		return 0
	}
	return volumeUSD / liquidity
}

// RatioOverBaseline compares the current activity ratio to the one recorded at open.
func RatioOverBaseline(current, baseline float64) (float64, error) {
	if baseline <= 0 || math.IsNaN(baseline) {
		return 0, fmt.Errorf("%w: baseline activity ratio %v", ErrDataUnavailable, baseline)
	}
	return current / baseline, nil
}

// VolumeCollapsed reports whether activity fell below threshold, a fraction of the
// baseline (0.15 means "below 15% of the entry ratio"). Equality does not trigger.
func VolumeCollapsed(ratioOverBaseline, threshold float64) bool {
	return ratioOverBaseline < threshold
}

// ScoreWeights tunes the composite candidate score.
type ScoreWeights struct {
	ActivityRatio float64 `yaml:"activity_ratio" toml:"activity_ratio"`
	PriceMomentum float64 `yaml:"price_momentum" toml:"price_momentum"`
}

// DefaultScoreWeights ranks purely on the activity ratio.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{ActivityRatio: 1}
}

// CompositeScore is a weighted sum of the activity ratio and the 1h price change
// (as a fraction). VolumeToLiquidity does not take part.
func CompositeScore(w ScoreWeights, a TokenAnalysis) float64 {
	return w.ActivityRatio*a.ActivityRatio + w.PriceMomentum*(a.PriceChange1hPct/100)
}
