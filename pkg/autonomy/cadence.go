package autonomy

import "time"

// Cadence clamp bounds.
const (
	minScanInterval = 120 * time.Second
	maxScanInterval = 3600 * time.Second
)

// Volatility pulse thresholds, in percent.
const (
	volPulseHighPct  = 1.0
	volPulseQuietPct = 0.25
)

// CadenceInput carries the per-tick signals cadence adapts to.
type CadenceInput struct {
	OpenPositions     int
	ConcurrentCap     int
	RemainingDailyUsd float64
	PerTradeCapUsd    float64
	VolPulsePct       float64
}

// NextInterval adapts the base scan interval: slower when the book is full
// or the budget is nearly spent, slower in high volatility, faster when the
// tape is quiet. Clamped to [120s, 3600s].
func NextInterval(base time.Duration, in CadenceInput) time.Duration {
	interval := base

	if in.ConcurrentCap > 0 && in.OpenPositions >= in.ConcurrentCap {
		interval *= 2
	}
	if in.PerTradeCapUsd > 0 && in.RemainingDailyUsd < in.PerTradeCapUsd {
		interval *= 2
	}
	switch {
	case in.VolPulsePct >= volPulseHighPct:
		interval = interval * 3 / 2
	case in.VolPulsePct <= volPulseQuietPct:
		interval = interval * 3 / 4
	}

	if interval < minScanInterval {
		return minScanInterval
	}
	if interval > maxScanInterval {
		return maxScanInterval
	}
	return interval
}
