package models

import "time"

// ExpressionPlan is one candidate trade expression produced by discovery.
type ExpressionPlan struct {
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"` // buy | sell
	ExpectedEdge float64  `json:"expected_edge"`
	Confidence   float64  `json:"confidence"`
	Leverage     float64  `json:"leverage"`
	ProbeSizeUsd float64  `json:"probe_size_usd"`
	SignalKinds  []string `json:"signal_kinds,omitempty"`
	SignalClass  string   `json:"signal_class,omitempty"`
	MarketRegime string   `json:"market_regime,omitempty"`
	NewsTrigger  bool     `json:"news_trigger"`
	NewsSource   string   `json:"news_source,omitempty"`
	ContextPack  map[string]any `json:"context_pack,omitempty"`
}

// PolicyState is the process-wide adaptive autonomy policy. Single DB row,
// updated only through row-locked transactions.
type PolicyState struct {
	ObservationOnlyUntilMs   int64    `json:"observation_only_until_ms,omitempty"`
	MinEdgeOverride          *float64 `json:"min_edge_override,omitempty"`
	MaxTradesPerScanOverride *int     `json:"max_trades_per_scan_override,omitempty"`
	LeverageCapOverride      *float64 `json:"leverage_cap_override,omitempty"`
	DrawdownCapRemainingUsd  *float64 `json:"drawdown_cap_remaining_usd,omitempty"`
	TradesRemainingToday     *int     `json:"trades_remaining_today,omitempty"`
	Reason                   string   `json:"reason,omitempty"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// ObservationOnly reports whether the policy forbids order submission at now.
func (p *PolicyState) ObservationOnly(now time.Time) bool {
	return p.ObservationOnlyUntilMs > 0 && p.ObservationOnlyUntilMs > now.UnixMilli()
}

// ScanStats summarizes one autonomy scan tick for cadence adaptation and
// the daily report.
type ScanStats struct {
	Candidates  int     `json:"candidates"`
	Gated       int     `json:"gated"`
	Executed    int     `json:"executed"`
	Failed      int     `json:"failed"`
	Blocked     int     `json:"blocked"`
	VolPulsePct float64 `json:"vol_pulse_pct"`
	At          time.Time `json:"at"`
}
