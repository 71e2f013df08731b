package trade

import "strings"

// Blocker tags form a closed set; every tool failure classifies into one or
// more of them, falling back to BlockerUnknown.
const (
	BlockerMissingSigner        = "hyperliquid_missing_signer"
	BlockerNetworkTransient     = "network_transient"
	BlockerRateLimited          = "rate_limited"
	BlockerInvalidInput         = "invalid_input"
	BlockerUnknownTool          = "unknown_tool"
	BlockerMarketUnavailable    = "market_unavailable"
	BlockerInsufficientBalance  = "insufficient_balance"
	BlockerLeverageExceeded     = "leverage_exceeded"
	BlockerReduceOnlyImpossible = "reduce_only_impossible"
	BlockerUnknown              = "unknown"
)

// blockerPatterns maps error substrings to blocker tags, checked in order.
// First match per tag wins; a failure can carry several tags.
var blockerPatterns = []struct {
	tag      string
	patterns []string
}{
	{BlockerMissingSigner, []string{"signer", "private key", "wallet not configured", "no signing key"}},
	{BlockerRateLimited, []string{"rate limit", "too many requests", "429"}},
	{BlockerReduceOnlyImpossible, []string{"reduce-only", "reduce only", "no live position", "would increase"}},
	{BlockerInsufficientBalance, []string{"insufficient balance", "insufficient margin", "insufficient funds"}},
	{BlockerLeverageExceeded, []string{"leverage"}},
	{BlockerMarketUnavailable, []string{"unknown symbol", "market unavailable", "not listed", "halted", "delisted"}},
	{BlockerUnknownTool, []string{"unknown tool", "tool not found", "no such tool"}},
	{BlockerInvalidInput, []string{"invalid", "missing required", "must be", "is required"}},
	{BlockerNetworkTransient, []string{"timeout", "timed out", "connection reset", "connection refused", "eof", "temporarily unavailable", "502", "503"}},
}

// DetectBlockers classifies a tool error message into blocker tags.
func DetectBlockers(errMsg string) []string {
	msg := strings.ToLower(errMsg)
	var tags []string
	for _, entry := range blockerPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(msg, p) {
				tags = append(tags, entry.tag)
				break
			}
		}
	}
	if len(tags) == 0 {
		tags = append(tags, BlockerUnknown)
	}
	return tags
}

// RemediationStep is a suggested recovery tool call for a blocker.
type RemediationStep struct {
	ToolName    string
	Description string
}

// remediations maps each blocker tag to recovery steps. Only steps whose
// tool is actually registered get injected; tags with no entry retry bare.
var remediations = map[string][]RemediationStep{
	BlockerMissingSigner: {
		{ToolName: "get_wallet_info", Description: "Verify wallet and signer availability before retrying"},
	},
	BlockerInsufficientBalance: {
		{ToolName: "get_portfolio", Description: "Re-check available balance and open reservations"},
	},
	BlockerMarketUnavailable: {
		{ToolName: "perp_market_list", Description: "Refresh the market list and re-resolve the symbol"},
	},
	BlockerUnknownTool: {
		{ToolName: "tools.list", Description: "List available tools to correct the tool name"},
	},
	BlockerInvalidInput: {
		{ToolName: "perp_market_get", Description: "Fetch market constraints to correct the order parameters"},
	},
	BlockerReduceOnlyImpossible: {
		{ToolName: "perp_positions", Description: "Reconcile live positions before closing"},
	},
}

// RemediationsFor returns the remediation steps for the detected blockers,
// filtered to tools present in available. Duplicate tools collapse.
func RemediationsFor(blockers []string, available map[string]bool) []RemediationStep {
	var out []RemediationStep
	seen := map[string]bool{}
	for _, tag := range blockers {
		for _, step := range remediations[tag] {
			if !available[step.ToolName] || seen[step.ToolName] {
				continue
			}
			seen[step.ToolName] = true
			out = append(out, step)
		}
	}
	return out
}
