package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPlaceholders(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  bool
	}{
		{"to_be_determined", map[string]any{"side": "to_be_determined"}, true},
		{"to_be_decided variant", map[string]any{"size": "to_be_decided"}, true},
		{"based_on_step", map[string]any{"size": "based_on_step_2"}, true},
		{"TBD marker", map[string]any{"side": "TBD"}, true},
		{"placeholder word", map[string]any{"note": "placeholder value"}, true},
		{"braced step reference", map[string]any{"size": "{result of step 1}"}, true},
		{"FILL_IN marker", map[string]any{"side": "FILL_IN"}, true},
		{"concrete values", map[string]any{"symbol": "BTC", "side": "buy", "size": 0.01}, false},
		{"non-string values ignored", map[string]any{"size": 0.01, "reduce_only": true}, false},
		{"empty input", map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPlaceholders(tt.input))
		})
	}
}

func TestEnsureSymbol(t *testing.T) {
	t.Run("fills the default for symbol tools", func(t *testing.T) {
		out := EnsureSymbol("perp_place_order", map[string]any{"side": "buy"}, "ETH")
		assert.Equal(t, "ETH", out["symbol"])
		assert.Equal(t, "buy", out["side"])
	})

	t.Run("existing symbol is kept", func(t *testing.T) {
		out := EnsureSymbol("perp_place_order", map[string]any{"symbol": "SOL"}, "ETH")
		assert.Equal(t, "SOL", out["symbol"])
	})

	t.Run("blank symbol is replaced", func(t *testing.T) {
		out := EnsureSymbol("perp_analyze", map[string]any{"symbol": "  "}, "ETH")
		assert.Equal(t, "ETH", out["symbol"])
	})

	t.Run("non-symbol tools untouched", func(t *testing.T) {
		in := map[string]any{"query": "funding"}
		out := EnsureSymbol("intel_search", in, "ETH")
		assert.NotContains(t, out, "symbol")
	})

	t.Run("empty default falls back to BTC", func(t *testing.T) {
		out := EnsureSymbol("perp_positions", map[string]any{}, "")
		assert.Equal(t, "BTC", out["symbol"])
	})

	t.Run("original map is not mutated", func(t *testing.T) {
		in := map[string]any{"side": "buy"}
		_ = EnsureSymbol("perp_place_order", in, "ETH")
		assert.NotContains(t, in, "symbol")
	})
}
