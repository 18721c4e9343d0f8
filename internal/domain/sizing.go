package domain

import "math"

// Confidence is the qualitative label attached to a model estimate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Multiplier maps a confidence label to a sizing multiplier.
func (c Confidence) Multiplier() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMedium:
		return 0.6
	case ConfidenceLow:
		return 0.3
	default:
		return 0.3
	}
}

// SizingConfig holds the static knobs of the sizing engine.
type SizingConfig struct {
	KellyBaseFraction  float64 // conservative multiplier on full Kelly
	MaxPositionUSD     float64 // cap per position
	MaxGameRiskUSD     float64 // cap per game across both legs
	MergeCapitalUSD    float64 // separate budget for mergeable inventory
	ExpectedFeeUSD     float64 // expected merge settlement fee
	ExpectedGasUSD     float64 // expected merge gas cost
	AssumedMergeShares float64 // amortization base for fee+gas
}

// SizingInput is everything the engine needs for one event.
type SizingInput struct {
	DirPrice   float64
	OppPrice   float64 // 0 → derived as 1 - DirPrice
	PLow       float64 // conservative win probability
	Confidence Confidence
	Balance    float64
	RegimeMult float64 // external de-risking lever in [0,1]
}

// Targets is the sizing engine output. All quantities are share counts
// except the USD fields kept for audit logging.
type Targets struct {
	DirectionalShares float64 // D*
	MergeShares       float64 // M*
	QDirTarget        float64 // M* + D*
	QOppTarget        float64 // M*
	EdgePerShare      float64
	DirectionalUSD    float64
	MergeUSD          float64
	KellyFraction     float64
}

// ComputeTargets sizes the directional and mergeable legs for an event.
//
// A regime multiplier of 0 or a non-positive merge edge yields zero targets
// without error: that is the de-risking no-op, not a failure. Targets are
// always non-negative.
func ComputeTargets(in SizingInput, cfg SizingConfig) Targets {
	var t Targets

	dirPrice := in.DirPrice
	if dirPrice <= 0 || dirPrice >= 1 {
		return t
	}
	oppPrice := in.OppPrice
	if oppPrice <= 0 {
		oppPrice = 1 - dirPrice
	}

	regime := clamp01(in.RegimeMult)

	// Fractional Kelly stake on the directional leg.
	kelly := kellyFraction(in.PLow, dirPrice)
	t.KellyFraction = kelly

	dirUSD := in.Balance * cfg.KellyBaseFraction * kelly * in.Confidence.Multiplier() * regime
	dirUSD = math.Min(dirUSD, cfg.MaxPositionUSD)
	dirUSD = math.Min(dirUSD, cfg.MaxGameRiskUSD)
	if dirUSD < 0 {
		dirUSD = 0
	}
	t.DirectionalUSD = dirUSD
	t.DirectionalShares = dirUSD / dirPrice

	// Mergeable inventory only when the merge edge is positive.
	t.EdgePerShare = MergeEdgePerShare(dirPrice, oppPrice, cfg.ExpectedFeeUSD, cfg.ExpectedGasUSD, cfg.AssumedMergeShares)
	if t.EdgePerShare > 0 {
		mergeUSD := cfg.MergeCapitalUSD * regime
		mergeUSD = math.Min(mergeUSD, cfg.MaxPositionUSD)
		mergeUSD = math.Min(mergeUSD, cfg.MaxGameRiskUSD)
		combined := dirPrice + oppPrice
		if mergeUSD > 0 && combined > 0 {
			t.MergeUSD = mergeUSD
			t.MergeShares = mergeUSD / combined
		}
	}

	// The opposite leg matches only the mergeable portion, never the full
	// directional size.
	t.QDirTarget = t.MergeShares + t.DirectionalShares
	t.QOppTarget = t.MergeShares
	return t
}

// kellyFraction computes the full Kelly stake fraction for buying an outcome
// at price with win probability p: b = 1/price - 1, f = (b*p - (1-p)) / b.
// Negative edge clamps to 0.
func kellyFraction(p, price float64) float64 {
	if p <= 0 || p >= 1 || price <= 0 || price >= 1 {
		return 0
	}
	b := 1/price - 1
	if b <= 0 {
		return 0
	}
	f := (b*p - (1 - p)) / b
	return math.Max(f, 0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
