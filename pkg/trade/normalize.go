// Package trade implements the deterministic trade-contract layer: input
// normalization, entry/exit validation, reduce-only reconciliation against
// the live book, blocker classification, and the retry-with-widening
// execution strategy.
package trade

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/quantfold/perpd/pkg/models"
)

// minOrderSize is the floor applied to non-positive or non-finite sizes.
const minOrderSize = 0.001

// Alias tables mapping loose LLM vocabulary to canonical enum values.
// Canonical values map to themselves so normalization is a fixed point.
var exitModeAliases = map[string]string{
	models.ExitModeThesisInvalidation: models.ExitModeThesisInvalidation,
	"invalidation":                    models.ExitModeThesisInvalidation,
	"thesis_invalidated":              models.ExitModeThesisInvalidation,
	"stop_loss":                       models.ExitModeThesisInvalidation,
	models.ExitModeTakeProfit:         models.ExitModeTakeProfit,
	"tp":                              models.ExitModeTakeProfit,
	"takeprofit":                      models.ExitModeTakeProfit,
	models.ExitModeTimeExit:           models.ExitModeTimeExit,
	"time_stop":                       models.ExitModeTimeExit,
	"timeout":                         models.ExitModeTimeExit,
	models.ExitModeRiskReduction:      models.ExitModeRiskReduction,
	"liquidity_probe":                 models.ExitModeRiskReduction,
	"emergency_override":              models.ExitModeRiskReduction,
	"liquidity":                       models.ExitModeRiskReduction,
	"de_risk":                         models.ExitModeRiskReduction,
	models.ExitModeManual:             models.ExitModeManual,
	"manual_close":                    models.ExitModeManual,
}

var regimeAliases = map[string]string{
	models.RegimeTrending:         models.RegimeTrending,
	"trend":                       models.RegimeTrending,
	"trending_up":                 models.RegimeTrending,
	"trending_down":               models.RegimeTrending,
	"momentum":                    models.RegimeTrending,
	models.RegimeChoppy:           models.RegimeChoppy,
	"chop":                        models.RegimeChoppy,
	"range":                       models.RegimeChoppy,
	"ranging":                     models.RegimeChoppy,
	"sideways":                    models.RegimeChoppy,
	"mean_reversion":              models.RegimeChoppy,
	models.RegimeHighVolExpansion: models.RegimeHighVolExpansion,
	"high_vol":                    models.RegimeHighVolExpansion,
	"vol_expansion":               models.RegimeHighVolExpansion,
	"expansion":                   models.RegimeHighVolExpansion,
	"volatile":                    models.RegimeHighVolExpansion,
	models.RegimeLowVolCompress:   models.RegimeLowVolCompress,
	"low_vol":                     models.RegimeLowVolCompress,
	"compression":                 models.RegimeLowVolCompress,
	"quiet":                       models.RegimeLowVolCompress,
	"squeeze":                     models.RegimeLowVolCompress,
}

var entryTriggerAliases = map[string]string{
	models.EntryTriggerNews:      models.EntryTriggerNews,
	"headline":                   models.EntryTriggerNews,
	"catalyst":                   models.EntryTriggerNews,
	models.EntryTriggerTechnical: models.EntryTriggerTechnical,
	"ta":                         models.EntryTriggerTechnical,
	"imbalance":                  models.EntryTriggerTechnical,
	"orderflow":                  models.EntryTriggerTechnical,
	"breakout":                   models.EntryTriggerTechnical,
	"levels":                     models.EntryTriggerTechnical,
	models.EntryTriggerHybrid:    models.EntryTriggerHybrid,
	"mixed":                      models.EntryTriggerHybrid,
	"both":                       models.EntryTriggerHybrid,
}

var archetypeAliases = map[string]string{
	models.ArchetypeScalp:    models.ArchetypeScalp,
	"scalping":               models.ArchetypeScalp,
	models.ArchetypeIntraday: models.ArchetypeIntraday,
	"day":                    models.ArchetypeIntraday,
	"day_trade":              models.ArchetypeIntraday,
	models.ArchetypeSwing:    models.ArchetypeSwing,
	"position":               models.ArchetypeSwing,
	"multi_day":              models.ArchetypeSwing,
}

// NormalizeOrderInput canonicalizes a raw perp_place_order input in place
// semantics-free of the caller: enums lowercased and de-aliased, stringy
// numbers and booleans coerced, size floored, order type forced to market.
// Normalizing an already-normalized input returns an equal map.
func NormalizeOrderInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}

	out["symbol"] = strings.ToUpper(strings.TrimSpace(asString(out["symbol"])))

	side := strings.ToLower(strings.TrimSpace(asString(out["side"])))
	if side != "buy" && side != "sell" {
		side = "buy"
	}
	out["side"] = side

	size, ok := asFloat(out["size"])
	if !ok || size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		size = minOrderSize
	}
	out["size"] = size

	// Market orders only for autonomous execution reliability.
	out["order_type"] = "market"
	delete(out, "price")

	reduceOnly := asBool(out["reduce_only"])
	out["reduce_only"] = reduceOnly

	if raw, present := out["exit_mode"]; present {
		out["exit_mode"] = canonical(exitModeAliases, asString(raw))
	}
	if raw, present := out["market_regime"]; present {
		out["market_regime"] = canonical(regimeAliases, asString(raw))
	}
	if raw, present := out["entry_trigger"]; present {
		out["entry_trigger"] = canonical(entryTriggerAliases, asString(raw))
	}

	archetype := canonical(archetypeAliases, asString(out["trade_archetype"]))
	if archetype == "" && !reduceOnly {
		archetype = models.ArchetypeIntraday
	}
	if archetype != "" {
		out["trade_archetype"] = archetype
	}

	if reduceOnly && asString(out["exit_mode"]) == models.ExitModeThesisInvalidation {
		out["thesis_invalidation_hit"] = true
	} else if raw, present := out["thesis_invalidation_hit"]; present {
		out["thesis_invalidation_hit"] = asBool(raw)
	}
	if raw, present := out["emergency_override"]; present {
		out["emergency_override"] = asBool(raw)
	}

	for _, key := range []string{"invalidation_price", "time_stop_at_ms", "take_profit_r"} {
		if raw, present := out[key]; present {
			if f, ok := asFloat(raw); ok {
				if key == "time_stop_at_ms" {
					out[key] = int64(f)
				} else {
					out[key] = f
				}
			}
		}
	}
	for _, key := range []string{"invalidation_type", "trail_mode"} {
		if raw, present := out[key]; present {
			out[key] = strings.ToLower(strings.TrimSpace(asString(raw)))
		}
	}

	return out
}

// OrderFromInput builds the typed order from a normalized input map.
func OrderFromInput(in map[string]any) *models.OrderRequest {
	o := &models.OrderRequest{
		Symbol:     asString(in["symbol"]),
		Side:       asString(in["side"]),
		OrderType:  asString(in["order_type"]),
		ReduceOnly: asBool(in["reduce_only"]),
		Cloid:      asString(in["cloid"]),

		ExitMode:              asString(in["exit_mode"]),
		ThesisInvalidationHit: asBool(in["thesis_invalidation_hit"]),
		EmergencyOverride:     asBool(in["emergency_override"]),
		EmergencyReason:       asString(in["emergency_reason"]),

		TradeArchetype:   asString(in["trade_archetype"]),
		MarketRegime:     asString(in["market_regime"]),
		EntryTrigger:     asString(in["entry_trigger"]),
		InvalidationType: asString(in["invalidation_type"]),
		TrailMode:        asString(in["trail_mode"]),
	}
	o.Size, _ = asFloat(in["size"])
	o.InvalidationPrice, _ = asFloat(in["invalidation_price"])
	o.TakeProfitR, _ = asFloat(in["take_profit_r"])
	if f, ok := asFloat(in["time_stop_at_ms"]); ok {
		o.TimeStopAtMs = int64(f)
	}
	return o
}

func canonical(aliases map[string]string, raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := aliases[key]; ok {
		return mapped
	}
	return key
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
		return err == nil && parsed
	default:
		return false
	}
}
