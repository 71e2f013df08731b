package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/limiter"
	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/trade"
)

// Terminal trade tools: a plan in trade mode with execution intent must end
// in one of these (or an explicit NO_TRADE_DECISION step).
const (
	ToolPlaceOrder  = "perp_place_order"
	ToolCancelOrder = "perp_cancel_order"
)

// RegisterBuiltins adds the built-in venue/memory tool set to the registry.
func RegisterBuiltins(r *Registry) {
	r.Register(&Definition{
		Name:        "tools.list",
		Description: "List the names of all available tools",
		Category:    "meta",
		Execute: func(_ context.Context, _ map[string]any, _ *Context) models.ToolResult {
			return ok(map[string]any{"tools": r.ListNames()})
		},
	})

	r.Register(&Definition{
		Name:        "get_portfolio",
		Description: "Current account portfolio: positions, margin, withdrawable balance",
		Category:    "account",
		CacheTTL:    10 * time.Second,
		Execute: func(ctx context.Context, _ map[string]any, tc *Context) models.ToolResult {
			state, err := tc.Venue.GetClearinghouseState(ctx)
			if err != nil {
				return fail("failed to fetch portfolio: %v", err)
			}
			return ok(state)
		},
	})

	r.Register(&Definition{
		Name:        "get_wallet_info",
		Description: "Wallet margin summary and withdrawable balance",
		Category:    "account",
		CacheTTL:    10 * time.Second,
		Execute: func(ctx context.Context, _ map[string]any, tc *Context) models.ToolResult {
			state, err := tc.Venue.GetClearinghouseState(ctx)
			if err != nil {
				return fail("failed to fetch wallet info: %v", err)
			}
			return ok(map[string]any{
				"margin_summary": state.MarginSummary,
				"withdrawable":   state.Withdrawable,
			})
		},
	})

	r.Register(&Definition{
		Name:        "perp_market_list",
		Description: "List tradable perp markets with leverage caps and mark prices",
		Category:    "market",
		CacheTTL:    60 * time.Second,
		Execute: func(ctx context.Context, _ map[string]any, tc *Context) models.ToolResult {
			meta, ctxs, err := tc.Venue.GetMetaAndAssetCtxs(ctx)
			if err != nil {
				return fail("failed to fetch markets: %v", err)
			}
			markets := make([]map[string]any, 0, len(meta))
			for i, m := range meta {
				entry := map[string]any{"symbol": m.Name, "max_leverage": m.MaxLeverage}
				if i < len(ctxs) {
					entry["mark_px"] = ctxs[i].MarkPx
					entry["funding"] = ctxs[i].Funding
				}
				markets = append(markets, entry)
			}
			return ok(map[string]any{"markets": markets})
		},
	})

	r.Register(&Definition{
		Name:        "perp_market_get",
		Description: "Market metadata and runtime context for one symbol",
		Category:    "market",
		CacheTTL:    30 * time.Second,
		InputSchema: symbolSchema,
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			symbol, _ := input["symbol"].(string)
			meta, ctxs, err := tc.Venue.GetMetaAndAssetCtxs(ctx)
			if err != nil {
				return fail("failed to fetch market %s: %v", symbol, err)
			}
			for i, m := range meta {
				if m.Name == symbol {
					result := map[string]any{"symbol": m.Name, "max_leverage": m.MaxLeverage, "sz_decimals": m.SzDecimals}
					if i < len(ctxs) {
						result["mark_px"] = ctxs[i].MarkPx
						result["funding"] = ctxs[i].Funding
						result["day_ntl_vlm"] = ctxs[i].DayNtlVlm
						result["open_interest"] = ctxs[i].OpenInterest
					}
					return ok(result)
				}
			}
			return fail("unknown symbol: %s", symbol)
		},
	})

	r.Register(&Definition{
		Name:        "perp_analyze",
		Description: "Quick analysis snapshot for one symbol: mark, funding, volume",
		Category:    "market",
		CacheTTL:    30 * time.Second,
		InputSchema: symbolSchema,
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			symbol, _ := input["symbol"].(string)
			mids, err := tc.Venue.GetAllMids(ctx)
			if err != nil {
				return fail("failed to fetch mids: %v", err)
			}
			mid, found := mids[symbol]
			if !found {
				return fail("unknown symbol: %s", symbol)
			}
			meta, ctxs, err := tc.Venue.GetMetaAndAssetCtxs(ctx)
			if err != nil {
				return fail("failed to fetch market context: %v", err)
			}
			result := map[string]any{"symbol": symbol, "mid": mid}
			for i, m := range meta {
				if m.Name == symbol && i < len(ctxs) {
					result["funding"] = ctxs[i].Funding
					result["day_ntl_vlm"] = ctxs[i].DayNtlVlm
					result["open_interest"] = ctxs[i].OpenInterest
				}
			}
			return ok(result)
		},
	})

	r.Register(&Definition{
		Name:        "perp_positions",
		Description: "Live perp positions, optionally filtered by symbol",
		Category:    "account",
		CacheTTL:    5 * time.Second,
		InputSchema: symbolSchema,
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			state, err := tc.Venue.GetClearinghouseState(ctx)
			if err != nil {
				return fail("failed to fetch positions: %v", err)
			}
			symbol, _ := input["symbol"].(string)
			var positions []any
			for _, ap := range state.AssetPositions {
				if symbol == "" || ap.Position.Coin == symbol {
					positions = append(positions, ap.Position)
				}
			}
			return ok(map[string]any{"positions": positions})
		},
	})

	r.Register(&Definition{
		Name:        "perp_open_orders",
		Description: "Resting orders for the account, optionally filtered by symbol",
		Category:    "account",
		CacheTTL:    5 * time.Second,
		InputSchema: symbolSchema,
		Execute: func(ctx context.Context, _ map[string]any, tc *Context) models.ToolResult {
			// Resting-order queries are not part of the venue client surface;
			// market entries are fill-or-revert, so the book is empty between
			// TP/SL placements.
			return ok(map[string]any{"orders": []any{}})
		},
	})

	r.Register(&Definition{
		Name:        "perp_trade_journal_list",
		Description: "Recent trade journal entries (attempts, closes, blocks)",
		Category:    "memory",
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			if tc.Journal == nil {
				return fail("journal not configured")
			}
			limit := 20
			if f, isNum := input["limit"].(float64); isNum && f > 0 {
				limit = int(f)
			}
			entries, err := tc.Journal.Recent(ctx, limit)
			if err != nil {
				return fail("failed to list journal: %v", err)
			}
			return ok(map[string]any{"entries": entries})
		},
	})

	r.Register(&Definition{
		Name:        "trade_review",
		Description: "Per-symbol review of recent trade outcomes from the journal",
		Category:    "memory",
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			if tc.Journal == nil {
				return fail("journal not configured")
			}
			entries, err := tc.Journal.Recent(ctx, 100)
			if err != nil {
				return fail("failed to review trades: %v", err)
			}
			symbol, _ := input["symbol"].(string)
			type agg struct {
				Attempts int     `json:"attempts"`
				Executed int     `json:"executed"`
				Failed   int     `json:"failed"`
				Blocked  int     `json:"blocked"`
				PnlUsd   float64 `json:"pnl_usd"`
			}
			bySymbol := map[string]*agg{}
			for _, e := range entries {
				if symbol != "" && e.Symbol != symbol {
					continue
				}
				a := bySymbol[e.Symbol]
				if a == nil {
					a = &agg{}
					bySymbol[e.Symbol] = a
				}
				a.Attempts++
				switch e.Outcome {
				case models.JournalOutcomeExecuted:
					a.Executed++
				case models.JournalOutcomeFailed:
					a.Failed++
				case models.JournalOutcomeBlocked:
					a.Blocked++
				}
				if e.PnlUsd != nil {
					a.PnlUsd += *e.PnlUsd
				}
			}
			return ok(map[string]any{"review": bySymbol})
		},
	})

	r.Register(&Definition{
		Name:        "intel_search",
		Description: "Search recent market intel and news",
		Category:    "intel",
		CacheTTL:    30 * time.Second,
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			if tc.Intel == nil {
				return fail("intel pipeline not configured")
			}
			query, _ := input["query"].(string)
			data, err := tc.Intel(ctx, query)
			if err != nil {
				return fail("intel search failed: %v", err)
			}
			return ok(data)
		},
	})

	r.Register(&Definition{
		Name:        "qmd_query",
		Description: "Query the knowledge base for playbook and strategy notes",
		Category:    "memory",
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			if tc.Knowledge == nil {
				return fail("knowledge base not configured")
			}
			query, _ := input["query"].(string)
			data, err := tc.Knowledge(ctx, query)
			if err != nil {
				return fail("knowledge query failed: %v", err)
			}
			return ok(data)
		},
	})

	r.Register(&Definition{
		Name:                 ToolPlaceOrder,
		Description:          "Place a perp market order (entry or reduce-only exit)",
		Category:             "trade",
		SideEffects:          true,
		RequiresConfirmation: true,
		InputSchema:          placeOrderSchema,
		Execute:              executePlaceOrder,
	})

	r.Register(&Definition{
		Name:                 ToolCancelOrder,
		Description:          "Cancel a resting order by client order id",
		Category:             "trade",
		SideEffects:          true,
		RequiresConfirmation: true,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol": map[string]any{"type": "string"},
				"cloid":  map[string]any{"type": "string"},
			},
			"required": []string{"symbol", "cloid"},
		},
		Execute: func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
			symbol, _ := input["symbol"].(string)
			cloid, _ := input["cloid"].(string)
			if symbol == "" || cloid == "" {
				return fail("symbol and cloid are required")
			}
			if err := tc.Venue.Cancel(ctx, symbol, cloid); err != nil {
				return fail("cancel failed: %v", err)
			}
			return ok(map[string]any{"cancelled": cloid})
		},
	})
}

// executePlaceOrder is the terminal trade tool: normalize, validate the
// entry/exit contracts, reconcile reduce-only orders against the live book,
// reserve budget, execute with retry-widening, and journal the attempt.
func executePlaceOrder(ctx context.Context, input map[string]any, tc *Context) models.ToolResult {
	normalized := trade.NormalizeOrderInput(input)
	order := trade.OrderFromInput(normalized)
	if order.Symbol == "" {
		return fail("symbol is required")
	}
	if order.Cloid == "" {
		order.Cloid = uuid.New().String()
	}

	trading := tc.Config.Trading
	if !order.ReduceOnly && trading.EnforceEntryContract != nil && *trading.EnforceEntryContract {
		if err := trade.ValidateEntry(order, time.Now()); err != nil {
			journalAttempt(ctx, tc, order, models.JournalOutcomeBlocked, 0, err.Error())
			return fail("%v", err)
		}
	}

	if order.ReduceOnly && tc.Config.Venue.Live() {
		enforceFSM := trading.EnforceExitFSM != nil && *trading.EnforceExitFSM
		if err := trade.ReconcileReduceOnly(ctx, tc.Venue, order, enforceFSM); err != nil {
			journalAttempt(ctx, tc, order, models.JournalOutcomeFailed, 0, err.Error())
			return fail("%v", err)
		}
	}

	mids, err := tc.Venue.GetAllMids(ctx)
	if err != nil {
		return fail("failed to fetch mark price: %v", err)
	}
	mark, found := mids[order.Symbol]
	if !found || mark <= 0 {
		journalAttempt(ctx, tc, order, models.JournalOutcomeFailed, 0, "market unavailable")
		return fail("unknown symbol: %s", order.Symbol)
	}
	notional := order.Size * mark

	// Reduce-only orders return capital; only entries consume budget.
	reservationID := ""
	if tc.Limiter != nil && !order.ReduceOnly {
		reservationID, err = tc.Limiter.CheckAndReserve(ctx, notional)
		if err != nil {
			if errors.Is(err, limiter.ErrBudgetExceeded) {
				journalAttempt(ctx, tc, order, models.JournalOutcomeBlocked, notional, err.Error())
			}
			return fail("budget check failed: %v", err)
		}
	}

	fill, err := tc.Executor.Execute(ctx, order, reservationID)
	if err != nil {
		journalAttempt(ctx, tc, order, models.JournalOutcomeFailed, notional, err.Error())
		return fail("%v", err)
	}

	journalFill(ctx, tc, order, fill, notional)
	return ok(map[string]any{
		"symbol":       fill.Symbol,
		"side":         fill.Side,
		"size":         fill.Size,
		"avg_price":    fill.AvgPrice,
		"slippage_bps": fill.SlippageBps,
		"cloid":        fill.Cloid,
		"reduce_only":  order.ReduceOnly,
	})
}

func journalAttempt(ctx context.Context, tc *Context, o *models.OrderRequest, outcome string, notional float64, errMsg string) {
	if tc.Journal == nil {
		return
	}
	_, err := tc.Journal.Append(ctx, &models.JournalEntry{
		Symbol:  o.Symbol,
		Side:    o.Side,
		Outcome: outcome,
		Size:    o.Size,
		SizeUsd: notional,
		Error:   errMsg,
	})
	if err != nil {
		// Journal writes are fail-open; the order outcome stands.
		_ = err
	}
}

func journalFill(ctx context.Context, tc *Context, o *models.OrderRequest, fill *models.OrderFill, notional float64) {
	if tc.Journal == nil {
		return
	}
	_, _ = tc.Journal.Append(ctx, &models.JournalEntry{
		Symbol:  fill.Symbol,
		Side:    fill.Side,
		Outcome: models.JournalOutcomeExecuted,
		Size:    fill.Size,
		SizeUsd: notional,
		Price:   fill.AvgPrice,
	})
}

var symbolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"symbol": map[string]any{"type": "string"},
	},
}

var placeOrderSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"symbol":      map[string]any{"type": "string"},
		"side":        map[string]any{"type": "string", "enum": []string{"buy", "sell"}},
		"size":        map[string]any{"type": "number"},
		"reduce_only": map[string]any{"type": "boolean"},
		"exit_mode":   map[string]any{"type": "string"},
		"trade_archetype": map[string]any{
			"type": "string", "enum": []string{"scalp", "intraday", "swing"},
		},
	},
	"required": []string{"symbol", "side", "size"},
}

func ok(data any) models.ToolResult {
	return models.ToolResult{Success: true, Data: data}
}

func fail(format string, args ...any) models.ToolResult {
	return models.ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}
