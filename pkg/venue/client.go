// Package venue defines the perp-venue client surface the core consumes.
// The live exchange client is an external collaborator; this package holds
// the interface, the wire shapes, and a paper implementation.
package venue

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by venue implementations.
var (
	// ErrNoImmediateMatch marks the transient "could not immediately match"
	// failure class that the executor retries with widened slippage.
	ErrNoImmediateMatch = errors.New("could not immediately match order")
	// ErrUnknownSymbol marks orders against unlisted markets.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Position is one live perp position.
type Position struct {
	Coin          string  `json:"coin"`
	Szi           float64 `json:"szi"` // signed size: >0 long, <0 short
	EntryPx       float64 `json:"entryPx"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
}

// AssetPosition wraps a position in the clearinghouse response shape.
type AssetPosition struct {
	Position Position `json:"position"`
}

// MarginSummary is the account-level margin view.
type MarginSummary struct {
	AccountValue    float64 `json:"accountValue"`
	TotalNtlPos     float64 `json:"totalNtlPos"`
	TotalMarginUsed float64 `json:"totalMarginUsed"`
}

// ClearinghouseState is the account snapshot used for reduce-only
// reconciliation and portfolio queries.
type ClearinghouseState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
	MarginSummary  *MarginSummary  `json:"marginSummary,omitempty"`
	Withdrawable   float64         `json:"withdrawable,omitempty"`
}

// AssetMeta describes one listed market.
type AssetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage float64 `json:"maxLeverage"`
}

// AssetCtx carries per-market runtime context (funding, volume).
type AssetCtx struct {
	Funding      float64 `json:"funding"`
	DayNtlVlm    float64 `json:"dayNtlVlm"`
	OpenInterest float64 `json:"openInterest"`
	MarkPx       float64 `json:"markPx"`
}

// UserFees is the account fee schedule.
type UserFees struct {
	UserCrossRate float64 `json:"userCrossRate"`
	UserAddRate   float64 `json:"userAddRate"`
}

// Fill is one historical fill.
type Fill struct {
	Coin      string  `json:"coin"`
	Side      string  `json:"side"`
	Px        float64 `json:"px"`
	Sz        float64 `json:"sz"`
	ClosedPnl float64 `json:"closedPnl"`
	Time      int64   `json:"time"`
	Cloid     string  `json:"cloid,omitempty"`
}

// OrderInput is the venue-level order submission.
type OrderInput struct {
	Symbol      string
	Side        string // buy | sell
	Size        float64
	ReduceOnly  bool
	SlippageBps int
	Cloid       string
}

// OrderResult is the venue's acknowledgement of an order.
type OrderResult struct {
	Filled   bool
	AvgPx    float64
	FilledSz float64
	OrderID  string
}

// Client is the venue surface consumed by reconciliation, fee lookups, and
// autonomy sizing.
type Client interface {
	GetClearinghouseState(ctx context.Context) (*ClearinghouseState, error)
	GetAllMids(ctx context.Context) (map[string]float64, error)
	GetMetaAndAssetCtxs(ctx context.Context) ([]AssetMeta, []AssetCtx, error)
	GetUserFees(ctx context.Context) (*UserFees, error)
	GetUserFillsByTime(ctx context.Context, startTime int64) ([]Fill, error)
	Order(ctx context.Context, in OrderInput) (*OrderResult, error)
	Cancel(ctx context.Context, symbol, cloid string) error
}

// PositionFor returns the live position on a symbol, or nil.
func (s *ClearinghouseState) PositionFor(symbol string) *Position {
	for i := range s.AssetPositions {
		if s.AssetPositions[i].Position.Coin == symbol {
			p := s.AssetPositions[i].Position
			if p.Szi != 0 {
				return &p
			}
		}
	}
	return nil
}
