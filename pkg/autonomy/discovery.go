package autonomy

import (
	"context"
	"fmt"
	"math"

	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/venue"
)

// Discovery produces candidate trade expressions for one scan tick.
type Discovery interface {
	Discover(ctx context.Context) ([]*models.ExpressionPlan, error)
}

// FundingDiscovery is the built-in venue-data discovery: it fades crowded
// funding (carry) and follows strong funding with expanding open interest
// (momentum). Symbols are restricted to the configured watch list when one
// is set.
type FundingDiscovery struct {
	venue        venue.Client
	watchlist    map[string]bool
	probeSizeUsd float64
}

// NewFundingDiscovery creates the built-in discovery. symbols may be empty
// (scan every listed market).
func NewFundingDiscovery(client venue.Client, symbols []string, probeSizeUsd float64) *FundingDiscovery {
	if client == nil {
		panic("autonomy.NewFundingDiscovery: venue client must not be nil")
	}
	watch := map[string]bool{}
	for _, s := range symbols {
		watch[s] = true
	}
	return &FundingDiscovery{venue: client, watchlist: watch, probeSizeUsd: probeSizeUsd}
}

// Funding thresholds per hour. Beyond crowded, the carry fade fires; beyond
// strong with rising OI, momentum follows.
const (
	fundingCrowded = 0.0004
	fundingStrong  = 0.0002
)

// Discover scans funding and open interest for expressions.
func (d *FundingDiscovery) Discover(ctx context.Context) ([]*models.ExpressionPlan, error) {
	meta, ctxs, err := d.venue.GetMetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery market fetch failed: %w", err)
	}

	var out []*models.ExpressionPlan
	for i, m := range meta {
		if i >= len(ctxs) {
			break
		}
		if len(d.watchlist) > 0 && !d.watchlist[m.Name] {
			continue
		}
		c := ctxs[i]
		if c.DayNtlVlm <= 0 {
			continue
		}
		oiTurnover := c.OpenInterest / c.DayNtlVlm

		pack := map[string]any{
			"funding":          c.Funding,
			"day_ntl_vlm":      c.DayNtlVlm,
			"open_interest":    c.OpenInterest,
			"oi_turnover":      oiTurnover,
			"liquidity_bucket": liquidityBucket(c.DayNtlVlm),
		}

		switch {
		case math.Abs(c.Funding) >= fundingCrowded:
			// Crowded carry: fade the funding payers.
			side := "buy"
			if c.Funding > 0 {
				side = "sell"
			}
			out = append(out, &models.ExpressionPlan{
				Symbol:       m.Name,
				Side:         side,
				ExpectedEdge: math.Min(math.Abs(c.Funding)*20, 0.05),
				Confidence:   0.55 + math.Min(oiTurnover*0.1, 0.15),
				Leverage:     2,
				ProbeSizeUsd: d.probeSizeUsd,
				SignalKinds:  []string{"funding_fade"},
				SignalClass:  "carry",
				MarketRegime: models.RegimeChoppy,
				ContextPack:  pack,
			})

		case math.Abs(c.Funding) >= fundingStrong && oiTurnover < 0.5:
			// Paid trend with fresh turnover: follow it.
			side := "buy"
			if c.Funding < 0 {
				side = "sell"
			}
			out = append(out, &models.ExpressionPlan{
				Symbol:       m.Name,
				Side:         side,
				ExpectedEdge: math.Min(math.Abs(c.Funding)*15, 0.04),
				Confidence:   0.5 + math.Min(c.DayNtlVlm/1e9, 0.2),
				Leverage:     3,
				ProbeSizeUsd: d.probeSizeUsd,
				SignalKinds:  []string{"funding_momentum"},
				SignalClass:  "momentum",
				MarketRegime: models.RegimeTrending,
				ContextPack:  pack,
			})
		}
	}
	return out, nil
}

func liquidityBucket(dayNtlVlm float64) string {
	switch {
	case dayNtlVlm >= 5e8:
		return "deep"
	case dayNtlVlm >= 5e7:
		return "normal"
	default:
		return "thin"
	}
}
