package autonomy

import "fmt"

// RiskInput carries one sized expression's exposure for the pre-submit check.
type RiskInput struct {
	NotionalUsd    float64
	Leverage       float64
	LeverageCap    float64
	MarketMax      float64
	MaxNotionalUsd float64
	ReduceOnly     bool
}

// CheckPerpRiskLimits validates an order's exposure against configured and
// market limits. Reduce-only orders always pass: they shrink exposure.
func CheckPerpRiskLimits(in RiskInput) error {
	if in.ReduceOnly {
		return nil
	}
	if in.MaxNotionalUsd > 0 && in.NotionalUsd > in.MaxNotionalUsd {
		return fmt.Errorf("notional %.2f exceeds cap %.2f", in.NotionalUsd, in.MaxNotionalUsd)
	}
	if in.LeverageCap > 0 && in.Leverage > in.LeverageCap {
		return fmt.Errorf("leverage %.1fx exceeds cap %.1fx", in.Leverage, in.LeverageCap)
	}
	if in.MarketMax > 0 && in.Leverage > in.MarketMax {
		return fmt.Errorf("leverage %.1fx exceeds market maximum %.1fx", in.Leverage, in.MarketMax)
	}
	return nil
}

// EffectiveLeverageCap is the tightest of the configured cap, any policy
// override, and the market maximum. Zero values mean "no cap from this
// source".
func EffectiveLeverageCap(configured float64, override *float64, marketMax float64) float64 {
	limit := configured
	if override != nil && (*override < limit || limit == 0) {
		limit = *override
	}
	if marketMax > 0 && (marketMax < limit || limit == 0) {
		limit = marketMax
	}
	return limit
}
