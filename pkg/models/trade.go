package models

import "time"

// Canonical exit modes for reduce-only orders.
const (
	ExitModeThesisInvalidation = "thesis_invalidation"
	ExitModeTakeProfit         = "take_profit"
	ExitModeTimeExit           = "time_exit"
	ExitModeRiskReduction      = "risk_reduction"
	ExitModeManual             = "manual"
)

// Canonical market regimes.
const (
	RegimeTrending         = "trending"
	RegimeChoppy           = "choppy"
	RegimeHighVolExpansion = "high_vol_expansion"
	RegimeLowVolCompress   = "low_vol_compression"
)

// Canonical entry triggers.
const (
	EntryTriggerNews      = "news"
	EntryTriggerTechnical = "technical"
	EntryTriggerHybrid    = "hybrid"
)

// Canonical trade archetypes.
const (
	ArchetypeScalp    = "scalp"
	ArchetypeIntraday = "intraday"
	ArchetypeSwing    = "swing"
)

// OrderRequest is the normalized perp_place_order input. The normalizer
// produces it from loosely-typed LLM tool input; normalization is idempotent.
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // buy | sell
	Size       float64 `json:"size"`
	OrderType  string  `json:"order_type"` // always "market" after normalization
	ReduceOnly bool    `json:"reduce_only"`
	Cloid      string  `json:"cloid,omitempty"`

	// Exit contract (reduce-only orders).
	ExitMode             string `json:"exit_mode,omitempty"`
	ThesisInvalidationHit bool   `json:"thesis_invalidation_hit,omitempty"`
	EmergencyOverride    bool   `json:"emergency_override,omitempty"`
	EmergencyReason      string `json:"emergency_reason,omitempty"`

	// Entry contract (opening orders).
	TradeArchetype    string  `json:"trade_archetype,omitempty"`
	MarketRegime      string  `json:"market_regime,omitempty"`
	EntryTrigger      string  `json:"entry_trigger,omitempty"`
	InvalidationType  string  `json:"invalidation_type,omitempty"`
	InvalidationPrice float64 `json:"invalidation_price,omitempty"`
	TimeStopAtMs      int64   `json:"time_stop_at_ms,omitempty"`
	TakeProfitR       float64 `json:"take_profit_r,omitempty"`
	TrailMode         string  `json:"trail_mode,omitempty"` // atr | structure | none
}

// TradeEnvelope is the durable metadata attached to a live position.
type TradeEnvelope struct {
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Size         float64   `json:"size"`
	EntryPrice   float64   `json:"entry_price"`
	StopCloid    string    `json:"stop_cloid,omitempty"`
	TakeCloid    string    `json:"take_cloid,omitempty"`
	ExpiresAtMs  int64     `json:"expires_at_ms,omitempty"`
	Invalidation string    `json:"invalidation,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// OrderFill is the executor's view of a completed order submission.
type OrderFill struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avg_price"`
	SlippageBps int     `json:"slippage_bps"`
	Cloid       string  `json:"cloid,omitempty"`
}
