package autonomy

import "math"

// kellyShrinkSamples controls how fast the Kelly estimate earns trust: at
// this many samples the raw fraction is halved.
const kellyShrinkSamples = 20

// ComputeFractionalKellyFraction derives the fractional-Kelly allocation
// from signal statistics. With usable expectancy and variance the raw
// fraction is expectancy/variance, shrunk toward zero for small sample
// counts; otherwise the expected edge stands in directly. The result is
// clamped to [0, maxFraction].
func ComputeFractionalKellyFraction(expectedEdge, signalExpectancy, signalVariance float64, sampleCount int, maxFraction float64) float64 {
	raw := expectedEdge
	if signalVariance > 0 && signalExpectancy != 0 {
		raw = signalExpectancy / signalVariance
	}
	if sampleCount > 0 {
		raw *= float64(sampleCount) / float64(sampleCount+kellyShrinkSamples)
	}
	if raw < 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0
	}
	return math.Min(raw, maxFraction)
}

// SessionWeight is the deterministic sizing/confidence multiplier derived
// from the UTC hour and the liquidity bucket, in [0.4, 1.0]. Overlap hours
// carry full weight; thin liquidity discounts further.
func SessionWeight(utcHour int, liquidityBucket string) float64 {
	var w float64
	switch {
	case utcHour >= 12 && utcHour < 16: // London/NY overlap
		w = 1.0
	case utcHour >= 16 && utcHour < 21: // NY
		w = 0.9
	case utcHour >= 7 && utcHour < 12: // London
		w = 0.85
	case utcHour >= 0 && utcHour < 7: // Asia
		w = 0.6
	default: // late US
		w = 0.5
	}
	if liquidityBucket == "thin" || liquidityBucket == "low" {
		w *= 0.8
	}
	return math.Min(math.Max(w, 0.4), 1.0)
}

// SizingInput carries everything probe sizing needs for one expression.
type SizingInput struct {
	ProbeUsd            float64
	KellyFraction       float64
	SessionWeight       float64
	NewsTrigger         bool
	NewsSizeCapFraction float64
	RemainingDailyUsd   float64
	MinOrderUsd         float64
	MarkPrice           float64
}

// SizingResult is the sized order, or a rejection reason.
type SizingResult struct {
	ProbeUsd       float64
	Size           float64
	SizingModifier float64
	Rejected       bool
	Reason         string
}

// SizeProbe scales the discovery probe by the Kelly-derived modifier and
// session weight, applies the news cap, and clamps to the budget window.
func SizeProbe(in SizingInput) SizingResult {
	modifier := math.Max(0.25, in.KellyFraction*4) * in.SessionWeight
	probe := in.ProbeUsd * modifier

	if in.NewsTrigger && in.NewsSizeCapFraction > 0 {
		probe = math.Min(probe, in.RemainingDailyUsd*in.NewsSizeCapFraction)
	}
	if probe > in.RemainingDailyUsd {
		probe = in.RemainingDailyUsd
	}
	if probe < in.MinOrderUsd {
		return SizingResult{Rejected: true, SizingModifier: modifier,
			Reason: "sized below minimum order notional"}
	}
	if in.MarkPrice <= 0 {
		return SizingResult{Rejected: true, SizingModifier: modifier,
			Reason: "no usable mark price"}
	}
	return SizingResult{
		ProbeUsd:       probe,
		Size:           probe / in.MarkPrice,
		SizingModifier: modifier,
	}
}
