package venue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperClient is an in-memory venue used for paper mode and tests. Orders
// fill immediately at the configured mid plus the requested slippage.
type PaperClient struct {
	mu        sync.Mutex
	mids      map[string]float64
	meta      []AssetMeta
	ctxs      []AssetCtx
	positions map[string]*Position
	fills     []Fill
	fees      UserFees
	nextOrder int

	// FailMatches makes the next N Order calls fail with
	// ErrNoImmediateMatch before filling. Drives retry-widening tests.
	FailMatches int
	// OrderLog records every Order call in submission order.
	OrderLog []OrderInput
}

// NewPaperClient creates a paper venue with the given mid prices.
func NewPaperClient(mids map[string]float64) *PaperClient {
	c := &PaperClient{
		mids:      map[string]float64{},
		positions: map[string]*Position{},
		fees:      UserFees{UserCrossRate: 0.00035, UserAddRate: 0.0001},
	}
	for sym, px := range mids {
		c.mids[sym] = px
		c.meta = append(c.meta, AssetMeta{Name: sym, SzDecimals: 4, MaxLeverage: 20})
		c.ctxs = append(c.ctxs, AssetCtx{MarkPx: px})
	}
	return c
}

// SetPosition seeds a live position (test helper).
func (c *PaperClient) SetPosition(symbol string, szi, entryPx float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[symbol] = &Position{Coin: symbol, Szi: szi, EntryPx: entryPx}
}

// GetClearinghouseState returns the current paper account snapshot.
func (c *PaperClient) GetClearinghouseState(_ context.Context) (*ClearinghouseState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := &ClearinghouseState{
		MarginSummary: &MarginSummary{AccountValue: 10000},
		Withdrawable:  10000,
	}
	for _, p := range c.positions {
		if p.Szi != 0 {
			state.AssetPositions = append(state.AssetPositions, AssetPosition{Position: *p})
		}
	}
	return state, nil
}

// GetAllMids returns the configured mid prices.
func (c *PaperClient) GetAllMids(_ context.Context) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.mids))
	for sym, px := range c.mids {
		out[sym] = px
	}
	return out, nil
}

// GetMetaAndAssetCtxs returns listed markets and their runtime contexts.
func (c *PaperClient) GetMetaAndAssetCtxs(_ context.Context) ([]AssetMeta, []AssetCtx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AssetMeta(nil), c.meta...), append([]AssetCtx(nil), c.ctxs...), nil
}

// GetUserFees returns the paper fee schedule.
func (c *PaperClient) GetUserFees(_ context.Context) (*UserFees, error) {
	fees := c.fees
	return &fees, nil
}

// GetUserFillsByTime returns fills at or after startTime.
func (c *PaperClient) GetUserFillsByTime(_ context.Context, startTime int64) ([]Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Fill
	for _, f := range c.fills {
		if f.Time >= startTime {
			out = append(out, f)
		}
	}
	return out, nil
}

// AddFill seeds a historical fill (test helper).
func (c *PaperClient) AddFill(f Fill) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills = append(c.fills, f)
}

// Order fills immediately at mid, adjusted by the requested slippage.
func (c *PaperClient) Order(_ context.Context, in OrderInput) (*OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.OrderLog = append(c.OrderLog, in)

	if c.FailMatches > 0 {
		c.FailMatches--
		return nil, ErrNoImmediateMatch
	}

	mid, ok := c.mids[in.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, in.Symbol)
	}

	px := mid
	slip := mid * float64(in.SlippageBps) / 10000
	if in.Side == "buy" {
		px += slip
	} else {
		px -= slip
	}

	signed := in.Size
	if in.Side == "sell" {
		signed = -signed
	}
	pos := c.positions[in.Symbol]
	if pos == nil {
		pos = &Position{Coin: in.Symbol, EntryPx: px}
		c.positions[in.Symbol] = pos
	}
	pos.Szi += signed

	c.nextOrder++
	c.fills = append(c.fills, Fill{
		Coin: in.Symbol, Side: in.Side, Px: px, Sz: in.Size,
		Time: time.Now().UnixMilli(), Cloid: in.Cloid,
	})

	return &OrderResult{
		Filled:   true,
		AvgPx:    px,
		FilledSz: in.Size,
		OrderID:  fmt.Sprintf("paper-%d", c.nextOrder),
	}, nil
}

// Cancel is a no-op on the paper venue.
func (c *PaperClient) Cancel(_ context.Context, _, _ string) error { return nil }
