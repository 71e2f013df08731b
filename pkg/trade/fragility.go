package trade

import (
	"context"
	"fmt"
	"math"

	"github.com/quantfold/perpd/pkg/venue"
)

// FragilityScore estimates how fragile a market is ahead of an entry, in
// [0,1]. Inputs: funding-rate magnitude (crowded carry) and the open
// interest to daily volume ratio (thin turnover relative to positioning).
func FragilityScore(ctx context.Context, client venue.Client, symbol string) (float64, error) {
	meta, ctxs, err := client.GetMetaAndAssetCtxs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch market context: %w", err)
	}
	for i, m := range meta {
		if m.Name != symbol || i >= len(ctxs) {
			continue
		}
		c := ctxs[i]

		// Hourly funding beyond ~0.01% is crowded; saturate at 0.05%.
		fundingScore := math.Min(math.Abs(c.Funding)/0.0005, 1)

		// OI above half the daily volume means positioning dwarfs turnover.
		oiScore := 0.0
		if c.DayNtlVlm > 0 {
			oiScore = math.Min(c.OpenInterest/(c.DayNtlVlm*0.5), 1)
		}

		return math.Min(0.6*fundingScore+0.4*oiScore, 1), nil
	}
	return 0, fmt.Errorf("%w: %s", venue.ErrUnknownSymbol, symbol)
}
