package scanner

import (
	"github.com/shopspring/decimal"

	"github.com/michaelpento.lv/cyclearb/types"
	mathutil "github.com/michaelpento.lv/cyclearb/utils/math"
)

// RiskInputs are the per-opportunity figures risk and confidence are derived from.
// Percentages are in percent units.
type RiskInputs struct {
	MaxImpact   decimal.Decimal
	MaxSlippage decimal.Decimal
	NetROI      decimal.Decimal
	Hops        int
}

var (
	impactBuckets   = thresholds("0.5", "1", "1.5")
	slippageBuckets = thresholds("0.3", "0.6", "1")
	roiBuckets      = thresholds("2", "1", "0.5")
	hopBuckets      = []int{3, 5, 7}
)

func thresholds(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

// ClassifyRisk scores four independent buckets 0-3 points each. Six points or
// more is HIGH, four or more MEDIUM.
func ClassifyRisk(in RiskInputs) (int, types.RiskLevel) {
	score := ascending(in.MaxImpact, impactBuckets) +
		ascending(in.MaxSlippage, slippageBuckets) +
		descending(in.NetROI, roiBuckets)

	points := len(hopBuckets)
	for i, limit := range hopBuckets {
		if in.Hops <= limit {
			points = i
			break
		}
	}
	score += points

	switch {
	case score >= 6:
		return score, types.RiskHigh
	case score >= 4:
		return score, types.RiskMedium
	default:
		return score, types.RiskLow
	}
}

// ascending awards a point for every threshold the value reaches.
func ascending(v decimal.Decimal, limits []decimal.Decimal) int {
	for i, limit := range limits {
		if v.LessThan(limit) {
			return i
		}
	}
	return len(limits)
}

// descending awards a point for every threshold the value falls below.
func descending(v decimal.Decimal, limits []decimal.Decimal) int {
	for i, limit := range limits {
		if v.GreaterThanOrEqual(limit) {
			return i
		}
	}
	return len(limits)
}

// Confidence is a 0-100 score for how likely the opportunity survives until settlement.
func Confidence(in RiskInputs, highLiquidityAssets int) float64 {
	impact, _ := in.MaxImpact.Float64()
	slippage, _ := in.MaxSlippage.Float64()
	roi, _ := in.NetROI.Float64()

	c := 100.0
	c -= 8 * impact
	if in.Hops > 3 {
		c -= 3 * float64(in.Hops-3)
	}
	if roi < 1 {
		c -= 25
	}
	if roi < 0.5 {
		c -= 10
	}
	// every scanned path is circular
	c += 15
	c += 3 * float64(highLiquidityAssets)
	switch {
	case slippage > 2:
		c -= 30
	case slippage > 1:
		c -= 20
	}

	return mathutil.Clamp(c, 0, 100)
}
