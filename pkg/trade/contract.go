package trade

import (
	"fmt"
	"time"

	"github.com/quantfold/perpd/pkg/models"
)

// Minimum holds per archetype, enforced on time_stop_at_ms.
var archetypeMinHold = map[string]time.Duration{
	models.ArchetypeScalp:    3 * time.Minute,
	models.ArchetypeIntraday: 1 * time.Hour,
	models.ArchetypeSwing:    6 * time.Hour,
}

var validTrailModes = map[string]bool{"atr": true, "structure": true, "none": true}

// Non-discretionary exit modes allowed on reduce-only orders without an
// emergency override.
var nonDiscretionaryExits = map[string]bool{
	models.ExitModeThesisInvalidation: true,
	models.ExitModeTakeProfit:         true,
	models.ExitModeTimeExit:           true,
	models.ExitModeRiskReduction:      true,
}

// ValidateEntry enforces the entry contract on opening (non-reduce-only)
// orders: archetype, invalidation, time stop with archetype minimum hold,
// take-profit ratio, and trail mode.
func ValidateEntry(o *models.OrderRequest, now time.Time) error {
	if o.ReduceOnly {
		return nil
	}
	if o.TradeArchetype == "" {
		return fmt.Errorf("entry contract: trade_archetype is required")
	}
	minHold, ok := archetypeMinHold[o.TradeArchetype]
	if !ok {
		return fmt.Errorf("entry contract: unknown trade_archetype %q", o.TradeArchetype)
	}
	if o.InvalidationType == "" {
		return fmt.Errorf("entry contract: invalidation_type is required")
	}
	if o.InvalidationType == "price_level" && o.InvalidationPrice <= 0 {
		return fmt.Errorf("entry contract: invalidation_price is required for price_level invalidation")
	}
	if o.TimeStopAtMs <= now.UnixMilli() {
		return fmt.Errorf("entry contract: time_stop_at_ms must be in the future")
	}
	if o.TimeStopAtMs < now.Add(minHold).UnixMilli() {
		return fmt.Errorf("entry contract: time stop violates %s minimum hold of %s",
			o.TradeArchetype, minHold)
	}
	if o.TakeProfitR < 1 {
		return fmt.Errorf("entry contract: take_profit_r must be >= 1, got %v", o.TakeProfitR)
	}
	if !validTrailModes[o.TrailMode] {
		return fmt.Errorf("entry contract: trail_mode must be atr, structure, or none")
	}
	return nil
}

// ValidateExit enforces the exit FSM on reduce-only orders. Manual and
// unknown exits are blocked unless an emergency override with a reason is
// present; exit_mode and thesis_invalidation_hit must be consistent.
func ValidateExit(o *models.OrderRequest) error {
	if !o.ReduceOnly {
		return nil
	}

	if !nonDiscretionaryExits[o.ExitMode] {
		if o.EmergencyOverride && o.EmergencyReason != "" {
			return nil
		}
		return fmt.Errorf("exit contract: manual/unknown reduce-only exits are blocked (exit_mode=%q); set emergency_override with emergency_reason to force", o.ExitMode)
	}

	switch o.ExitMode {
	case models.ExitModeThesisInvalidation:
		if !o.ThesisInvalidationHit {
			return fmt.Errorf("exit contract: thesis_invalidation exit requires thesis_invalidation_hit=true")
		}
	case models.ExitModeTakeProfit, models.ExitModeTimeExit, models.ExitModeRiskReduction:
		if o.ThesisInvalidationHit {
			return fmt.Errorf("exit contract: %s exit requires thesis_invalidation_hit=false", o.ExitMode)
		}
	}
	return nil
}
