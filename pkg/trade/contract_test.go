package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/perpd/pkg/models"
)

func validEntry(now time.Time) *models.OrderRequest {
	return &models.OrderRequest{
		Symbol:           "BTC",
		Side:             "buy",
		Size:             0.01,
		OrderType:        "market",
		TradeArchetype:   models.ArchetypeIntraday,
		InvalidationType: "price_level",
		InvalidationPrice: 60000,
		TimeStopAtMs:     now.Add(2 * time.Hour).UnixMilli(),
		TakeProfitR:      1.5,
		TrailMode:        "atr",
	}
}

func TestValidateEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid entry passes", func(t *testing.T) {
		assert.NoError(t, ValidateEntry(validEntry(now), now))
	})

	t.Run("reduce-only orders skip the entry contract", func(t *testing.T) {
		o := &models.OrderRequest{Symbol: "BTC", Side: "sell", Size: 0.01, ReduceOnly: true}
		assert.NoError(t, ValidateEntry(o, now))
	})

	tests := []struct {
		name    string
		mutate  func(o *models.OrderRequest)
		wantErr string
	}{
		{
			name:    "missing archetype",
			mutate:  func(o *models.OrderRequest) { o.TradeArchetype = "" },
			wantErr: "trade_archetype is required",
		},
		{
			name:    "unknown archetype",
			mutate:  func(o *models.OrderRequest) { o.TradeArchetype = "position" },
			wantErr: "unknown trade_archetype",
		},
		{
			name:    "missing invalidation type",
			mutate:  func(o *models.OrderRequest) { o.InvalidationType = "" },
			wantErr: "invalidation_type is required",
		},
		{
			name: "price_level invalidation without a price",
			mutate: func(o *models.OrderRequest) {
				o.InvalidationPrice = 0
			},
			wantErr: "invalidation_price is required",
		},
		{
			name: "time stop in the past",
			mutate: func(o *models.OrderRequest) {
				o.TimeStopAtMs = now.Add(-time.Minute).UnixMilli()
			},
			wantErr: "time_stop_at_ms must be in the future",
		},
		{
			name: "take profit below 1R",
			mutate: func(o *models.OrderRequest) {
				o.TakeProfitR = 0.5
			},
			wantErr: "take_profit_r must be >= 1",
		},
		{
			name: "bad trail mode",
			mutate: func(o *models.OrderRequest) {
				o.TrailMode = "chandelier"
			},
			wantErr: "trail_mode must be atr, structure, or none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validEntry(now)
			tt.mutate(o)
			err := ValidateEntry(o, now)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateEntryMinimumHolds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		archetype string
		tooShort  time.Duration
		longEnough time.Duration
	}{
		{models.ArchetypeScalp, 2 * time.Minute, 3 * time.Minute},
		{models.ArchetypeIntraday, 30 * time.Minute, time.Hour},
		{models.ArchetypeSwing, 5 * time.Hour, 6 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.archetype, func(t *testing.T) {
			o := validEntry(now)
			o.TradeArchetype = tt.archetype

			o.TimeStopAtMs = now.Add(tt.tooShort).UnixMilli()
			assert.ErrorContains(t, ValidateEntry(o, now), "minimum hold")

			o.TimeStopAtMs = now.Add(tt.longEnough).UnixMilli()
			assert.NoError(t, ValidateEntry(o, now))
		})
	}
}

func TestValidateExit(t *testing.T) {
	t.Run("non-reduce-only orders skip the exit contract", func(t *testing.T) {
		o := &models.OrderRequest{Symbol: "BTC", Side: "buy", Size: 0.01, ExitMode: "manual"}
		assert.NoError(t, ValidateExit(o))
	})

	t.Run("manual exit is blocked", func(t *testing.T) {
		o := &models.OrderRequest{
			Symbol: "BTC", Side: "sell", Size: 0.01, ReduceOnly: true,
			ExitMode: models.ExitModeManual,
		}
		assert.ErrorContains(t, ValidateExit(o), "manual/unknown reduce-only exits are blocked")
	})

	t.Run("empty exit mode is blocked", func(t *testing.T) {
		o := &models.OrderRequest{Symbol: "BTC", Side: "sell", Size: 0.01, ReduceOnly: true}
		assert.ErrorContains(t, ValidateExit(o), "manual/unknown reduce-only exits are blocked")
	})

	t.Run("emergency override with a reason passes a manual exit", func(t *testing.T) {
		o := &models.OrderRequest{
			Symbol: "BTC", Side: "sell", Size: 0.01, ReduceOnly: true,
			ExitMode: models.ExitModeManual, EmergencyOverride: true,
			EmergencyReason: "venue funding anomaly, de-risking immediately",
		}
		assert.NoError(t, ValidateExit(o))
	})

	t.Run("emergency override without a reason stays blocked", func(t *testing.T) {
		o := &models.OrderRequest{
			Symbol: "BTC", Side: "sell", Size: 0.01, ReduceOnly: true,
			ExitMode: models.ExitModeManual, EmergencyOverride: true,
		}
		assert.ErrorContains(t, ValidateExit(o), "blocked")
	})

	t.Run("thesis invalidation exit requires the hit flag", func(t *testing.T) {
		o := &models.OrderRequest{
			Symbol: "BTC", Side: "sell", Size: 0.01, ReduceOnly: true,
			ExitMode: models.ExitModeThesisInvalidation,
		}
		assert.ErrorContains(t, ValidateExit(o), "thesis_invalidation_hit=true")

		o.ThesisInvalidationHit = true
		assert.NoError(t, ValidateExit(o))
	})

	t.Run("non-invalidation exits reject the hit flag", func(t *testing.T) {
		for _, mode := range []string{models.ExitModeTakeProfit, models.ExitModeTimeExit, models.ExitModeRiskReduction} {
			o := &models.OrderRequest{
				Symbol: "BTC", Side: "sell", Size: 0.01, ReduceOnly: true,
				ExitMode: mode, ThesisInvalidationHit: true,
			}
			assert.ErrorContains(t, ValidateExit(o), "thesis_invalidation_hit=false")

			o.ThesisInvalidationHit = false
			assert.NoError(t, ValidateExit(o))
		}
	})
}
