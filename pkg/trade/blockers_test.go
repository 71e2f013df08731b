package trade

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlockers(t *testing.T) {
	tests := []struct {
		name   string
		errMsg string
		want   []string
	}{
		{"missing signer", "exchange client: no signing key configured", []string{BlockerMissingSigner}},
		{"rate limited", "request rejected: 429 Too Many Requests", []string{BlockerRateLimited}},
		{"reduce-only impossible", "reduce-only order would increase position", []string{BlockerReduceOnlyImpossible}},
		{"insufficient balance", "insufficient margin for order", []string{BlockerInsufficientBalance}},
		{"leverage", "order exceeds max leverage for market", []string{BlockerLeverageExceeded}},
		{"market unavailable", "unknown symbol: FOO", []string{BlockerMarketUnavailable}},
		{"unknown tool", "unknown tool \"perp_orderbook\"", []string{BlockerUnknownTool}},
		{"invalid input", "size is required", []string{BlockerInvalidInput}},
		{"network transient", "dial tcp: connection refused", []string{BlockerNetworkTransient}},
		{"unclassified", "something odd happened", []string{BlockerUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBlockers(tt.errMsg))
		})
	}
}

func TestDetectBlockersMultipleTags(t *testing.T) {
	tags := DetectBlockers("invalid order: insufficient balance after timeout")
	assert.Contains(t, tags, BlockerInvalidInput)
	assert.Contains(t, tags, BlockerInsufficientBalance)
	assert.Contains(t, tags, BlockerNetworkTransient)
	assert.NotContains(t, tags, BlockerUnknown)
}

func TestRemediationsFor(t *testing.T) {
	available := map[string]bool{
		"get_wallet_info":  true,
		"get_portfolio":    true,
		"perp_market_list": true,
		"perp_positions":   true,
	}

	t.Run("maps each blocker to its registered tool", func(t *testing.T) {
		steps := RemediationsFor([]string{BlockerMissingSigner, BlockerInsufficientBalance}, available)
		var tools []string
		for _, s := range steps {
			tools = append(tools, s.ToolName)
		}
		assert.Equal(t, []string{"get_wallet_info", "get_portfolio"}, tools)
	})

	t.Run("skips tools that are not registered", func(t *testing.T) {
		steps := RemediationsFor([]string{BlockerUnknownTool}, available)
		assert.Empty(t, steps)
	})

	t.Run("deduplicates repeated tools", func(t *testing.T) {
		steps := RemediationsFor(
			[]string{BlockerInsufficientBalance, BlockerInsufficientBalance}, available)
		assert.Len(t, steps, 1)
	})

	t.Run("tags with no remediation produce nothing", func(t *testing.T) {
		assert.Empty(t, RemediationsFor([]string{BlockerNetworkTransient, BlockerUnknown}, available))
	})
}
