package models

import "time"

// Journal entry outcomes. Exactly one journal entry is written per observed
// order attempt, whatever the outcome.
const (
	JournalOutcomeExecuted = "executed"
	JournalOutcomeFailed   = "failed"
	JournalOutcomeBlocked  = "blocked"
)

// JournalEntry is one append-only record of an order attempt, close, or
// block. Immutable once written; amendments reference the prior entry by ID.
type JournalEntry struct {
	ID                 string         `json:"id"`
	Symbol             string         `json:"symbol"`
	Side               string         `json:"side"`
	Outcome            string         `json:"outcome"`
	SizeUsd            float64        `json:"size_usd,omitempty"`
	Size               float64        `json:"size,omitempty"`
	Price              float64        `json:"price,omitempty"`
	PnlUsd             *float64       `json:"pnl_usd,omitempty"`
	Error              string         `json:"error,omitempty"`
	SignalClass        string         `json:"signal_class,omitempty"`
	MarketRegime       string         `json:"market_regime,omitempty"`
	VolatilityBucket   string         `json:"volatility_bucket,omitempty"`
	LiquidityBucket    string         `json:"liquidity_bucket,omitempty"`
	NewsSource         string         `json:"news_source,omitempty"`
	Confidence         float64        `json:"confidence,omitempty"`
	WeightedConfidence float64        `json:"weighted_confidence,omitempty"`
	SizingModifier     float64        `json:"sizing_modifier,omitempty"`
	KellyFraction      float64        `json:"kelly_fraction,omitempty"`
	ContextPack        map[string]any `json:"context_pack,omitempty"`
	AmendsID           string         `json:"amends_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// IncidentRecord is an append-only failure record keyed by tool and blocker.
type IncidentRecord struct {
	ID          string    `json:"id"`
	ToolName    string    `json:"tool_name"`
	BlockerKind string    `json:"blocker_kind"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Playbook is a remediation hint seeded on first occurrence of a blocker.
type Playbook struct {
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Alert is an append-only operator alert with a dedupe key.
type Alert struct {
	ID        string    `json:"id"`
	DedupeKey string    `json:"dedupe_key"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}
