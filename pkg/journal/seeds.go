package journal

// playbookSeeds maps blocker kinds to the remediation playbook seeded on
// their first occurrence. Seeds never overwrite operator edits.
var playbookSeeds = map[string]struct {
	title   string
	content string
}{
	"hyperliquid_missing_signer": {
		title:   "Missing venue signer",
		content: "Order signing key is not loaded. Check the keystore mount and the account env var, then restart the gateway. Orders are blocked until the signer is present.",
	},
	"network_transient": {
		title:   "Transient venue network failure",
		content: "Venue RPCs are timing out or resetting. Usually self-heals; if it persists past 10 minutes, check venue status page and local egress.",
	},
	"rate_limited": {
		title:   "Venue rate limit hit",
		content: "Back off: lengthen the scan interval and avoid burst tool batches. Persistent limits usually mean a runaway loop.",
	},
	"insufficient_balance": {
		title:   "Insufficient balance",
		content: "Withdrawable balance is below the requested notional. Reduce probe size, or top up margin. Check open reservations in spending_state.",
	},
	"leverage_exceeded": {
		title:   "Leverage cap exceeded",
		content: "Requested leverage exceeds the market or policy cap. The sizing layer should clamp this; investigate if it recurs.",
	},
	"reduce_only_impossible": {
		title:   "Reduce-only with no position",
		content: "A reduce-only order referenced a flat symbol or would increase the position. Reconcile the live book before closing.",
	},
	"market_unavailable": {
		title:   "Market unavailable",
		content: "The referenced symbol is not listed or is halted. Refresh the market list and re-resolve the symbol.",
	},
}
