package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultSizingConfig() SizingConfig {
	return SizingConfig{
		KellyBaseFraction:  0.25,
		MaxPositionUSD:     200,
		MaxGameRiskUSD:     400,
		MergeCapitalUSD:    100,
		ExpectedFeeUSD:     0.02,
		ExpectedGasUSD:     0.05,
		AssumedMergeShares: 100,
	}
}

func TestConfidence_Multiplier(t *testing.T) {
	assert.Equal(t, 1.0, ConfidenceHigh.Multiplier())
	assert.Equal(t, 0.6, ConfidenceMedium.Multiplier())
	assert.Equal(t, 0.3, ConfidenceLow.Multiplier())
	// unknown labels size like low confidence
	assert.Equal(t, 0.3, Confidence("").Multiplier())
	assert.Equal(t, 0.3, Confidence("very high").Multiplier())
}

func TestKellyFraction_PositiveEdge(t *testing.T) {
	// price=0.50 → b=1; p=0.60 → f = (0.60 - 0.40) / 1 = 0.20
	assert.InDelta(t, 0.20, kellyFraction(0.60, 0.50), 0.0001)
}

func TestKellyFraction_NegativeEdgeClampsToZero(t *testing.T) {
	assert.Equal(t, 0.0, kellyFraction(0.40, 0.50))
}

func TestKellyFraction_InvalidInputs(t *testing.T) {
	assert.Equal(t, 0.0, kellyFraction(0, 0.50))
	assert.Equal(t, 0.0, kellyFraction(1, 0.50))
	assert.Equal(t, 0.0, kellyFraction(0.60, 0))
	assert.Equal(t, 0.0, kellyFraction(0.60, 1))
}

func TestComputeTargets_DirectionalSizing(t *testing.T) {
	in := SizingInput{
		DirPrice:   0.50,
		PLow:       0.60,
		Confidence: ConfidenceHigh,
		Balance:    1000,
		RegimeMult: 1.0,
	}
	tg := ComputeTargets(in, defaultSizingConfig())

	// kelly = 0.20; dirUSD = 1000 × 0.25 × 0.20 × 1.0 × 1.0 = $50
	assert.InDelta(t, 0.20, tg.KellyFraction, 0.0001)
	assert.InDelta(t, 50.0, tg.DirectionalUSD, 0.001)
	assert.InDelta(t, 100.0, tg.DirectionalShares, 0.001)
}

func TestComputeTargets_ConfidenceScalesStake(t *testing.T) {
	in := SizingInput{
		DirPrice:   0.50,
		PLow:       0.60,
		Balance:    1000,
		RegimeMult: 1.0,
	}
	cfg := defaultSizingConfig()

	in.Confidence = ConfidenceHigh
	high := ComputeTargets(in, cfg)
	in.Confidence = ConfidenceMedium
	med := ComputeTargets(in, cfg)
	in.Confidence = ConfidenceLow
	low := ComputeTargets(in, cfg)

	assert.InDelta(t, high.DirectionalUSD*0.6, med.DirectionalUSD, 0.001)
	assert.InDelta(t, high.DirectionalUSD*0.3, low.DirectionalUSD, 0.001)
}

func TestComputeTargets_MaxPositionCap(t *testing.T) {
	in := SizingInput{
		DirPrice:   0.50,
		PLow:       0.80, // huge edge
		Confidence: ConfidenceHigh,
		Balance:    100000,
		RegimeMult: 1.0,
	}
	tg := ComputeTargets(in, defaultSizingConfig())
	assert.InDelta(t, 200.0, tg.DirectionalUSD, 0.001)
}

func TestComputeTargets_RegimeZeroYieldsNothing(t *testing.T) {
	in := SizingInput{
		DirPrice:   0.50,
		PLow:       0.60,
		Confidence: ConfidenceHigh,
		Balance:    1000,
		RegimeMult: 0,
	}
	tg := ComputeTargets(in, defaultSizingConfig())
	assert.Equal(t, 0.0, tg.DirectionalUSD)
	assert.Equal(t, 0.0, tg.DirectionalShares)
	assert.Equal(t, 0.0, tg.MergeShares)
	assert.Equal(t, 0.0, tg.QDirTarget)
}

func TestComputeTargets_RegimeClamped(t *testing.T) {
	in := SizingInput{
		DirPrice:   0.50,
		PLow:       0.60,
		Confidence: ConfidenceHigh,
		Balance:    1000,
		RegimeMult: 3.0, // clamped to 1
	}
	tg := ComputeTargets(in, defaultSizingConfig())
	assert.InDelta(t, 50.0, tg.DirectionalUSD, 0.001)
}

func TestComputeTargets_MergeLegOnlyWhenEdgePositive(t *testing.T) {
	cfg := defaultSizingConfig()

	// combined 0.96, amortized cost 0.0007 → edge ≈ 0.0393 > 0
	in := SizingInput{
		DirPrice:   0.48,
		OppPrice:   0.48,
		PLow:       0.55,
		Confidence: ConfidenceHigh,
		Balance:    1000,
		RegimeMult: 1.0,
	}
	tg := ComputeTargets(in, cfg)
	assert.Greater(t, tg.EdgePerShare, 0.0)
	assert.InDelta(t, 100.0/0.96, tg.MergeShares, 0.001)
	assert.InDelta(t, tg.MergeShares+tg.DirectionalShares, tg.QDirTarget, 0.0001)
	assert.InDelta(t, tg.MergeShares, tg.QOppTarget, 0.0001)

	// combined 1.02 → merging destroys value, no merge leg
	in.DirPrice = 0.52
	in.OppPrice = 0.50
	tg = ComputeTargets(in, cfg)
	assert.LessOrEqual(t, tg.EdgePerShare, 0.0)
	assert.Equal(t, 0.0, tg.MergeShares)
	assert.Equal(t, 0.0, tg.QOppTarget)
}

func TestComputeTargets_OppPriceDerivedFromComplement(t *testing.T) {
	in := SizingInput{
		DirPrice:   0.45, // opp derived as 0.55, combined exactly 1.0 → edge < 0
		PLow:       0.55,
		Confidence: ConfidenceHigh,
		Balance:    1000,
		RegimeMult: 1.0,
	}
	tg := ComputeTargets(in, defaultSizingConfig())
	assert.Less(t, tg.EdgePerShare, 0.0)
	assert.Equal(t, 0.0, tg.MergeShares)
}

func TestComputeTargets_PriceOutOfRange(t *testing.T) {
	cfg := defaultSizingConfig()
	for _, price := range []float64{0, -0.1, 1, 1.5} {
		in := SizingInput{DirPrice: price, PLow: 0.6, Balance: 1000, RegimeMult: 1}
		tg := ComputeTargets(in, cfg)
		assert.Equal(t, Targets{}, tg, "price %v", price)
	}
}

func TestMergeEdgePerShare(t *testing.T) {
	// 1 - 0.96 - 0.07/100 = 0.0393
	assert.InDelta(t, 0.0393, MergeEdgePerShare(0.48, 0.48, 0.02, 0.05, 100), 0.0001)
	// zero assumed shares falls back to charging the full cost per share
	assert.InDelta(t, 1-0.96-0.07, MergeEdgePerShare(0.48, 0.48, 0.02, 0.05, 0), 0.0001)
}
