package agent

import (
	"strings"

	"github.com/quantfold/perpd/pkg/models"
)

// Goal classification is deterministic keyword matching. The term tables are
// fixed configuration; retrospective detection always wins over execution
// intent so that "why did you close X" never triggers an order.
var (
	executionIntentTerms = []string{
		"buy", "sell", "long", "short", "open a", "close my", "close the",
		"execute", "place an order", "place order", "enter", "exit",
		"take a position", "autonomously", "trade now", "go long", "go short",
	}

	retrospectiveTerms = []string{
		"why did", "why was", "what happened", "last trade", "previous",
		"yesterday", "review", "retrospective", "recap", "explain the",
		"walk me through",
	}

	lossComplaintTerms = []string{
		"lost money", "losing", "loss streak", "losses", "drawdown",
		"bleeding", "keeps failing", "keep failing", "down bad",
	}

	tradeTerms = []string{
		"perp", "position", "order", "leverage", "trade", "long", "short",
		"buy", "sell", "close", "entry", "exit", "stop loss", "take profit",
	}

	adminTerms = []string{
		"/schedule", "scheduled task", "unschedule", "restart", "config",
		"configuration", "set the", "heartbeat",
	}
)

// knownTickers is the closed set used to infer a symbol from goal text.
var knownTickers = []string{
	"BTC", "ETH", "SOL", "DOGE", "XRP", "AVAX", "LINK", "ARB", "OP", "BNB",
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// DetectMode classifies the goal into a mode.
func DetectMode(goal string) models.Mode {
	text := strings.ToLower(goal)
	switch {
	case containsAny(text, adminTerms):
		return models.ModeAdmin
	case containsAny(text, tradeTerms):
		return models.ModeTrade
	default:
		return models.ModeAnalysis
	}
}

// IsRetrospective reports whether the goal asks about past activity.
func IsRetrospective(goal string) bool {
	return containsAny(strings.ToLower(goal), retrospectiveTerms)
}

// IsLossComplaint reports whether the goal complains about losses.
func IsLossComplaint(goal string) bool {
	return containsAny(strings.ToLower(goal), lossComplaintTerms)
}

// HasExecutionIntent reports whether the goal asks for an order to be
// placed. Retrospective and loss-complaint goals never carry execution
// intent, whatever other terms they contain.
func HasExecutionIntent(goal string) bool {
	text := strings.ToLower(goal)
	if containsAny(text, retrospectiveTerms) || containsAny(text, lossComplaintTerms) {
		return false
	}
	return containsAny(text, executionIntentTerms)
}

// InferSymbol extracts the first known ticker mentioned in the goal, or "".
func InferSymbol(goal string) string {
	upper := strings.ToUpper(goal)
	for _, t := range knownTickers {
		if containsTicker(upper, t) {
			return t
		}
	}
	return ""
}

// containsTicker matches a ticker on word boundaries so "OP" does not match
// inside "open" or "stop".
func containsTicker(upper, ticker string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], ticker)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(ticker)
		beforeOK := start == 0 || !isWordChar(upper[start-1])
		afterOK := end == len(upper) || !isWordChar(upper[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
