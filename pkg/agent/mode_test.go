package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/perpd/pkg/models"
)

func TestDetectMode(t *testing.T) {
	tests := []struct {
		name string
		goal string
		want models.Mode
	}{
		{"autonomous buy", "Buy BTC perp autonomously", models.ModeTrade},
		{"position question", "What is my current SOL position?", models.ModeTrade},
		{"retrospective close", "Why did you close the previous BTC long?", models.ModeTrade},
		{"schedule command", "/schedule tomorrow 9am | check funding", models.ModeAdmin},
		{"config change", "set the log level to debug", models.ModeAdmin},
		{"market question", "What moved crypto markets overnight?", models.ModeAnalysis},
		{"general question", "Summarize the macro calendar for this week", models.ModeAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMode(tt.goal))
		})
	}
}

func TestHasExecutionIntent(t *testing.T) {
	tests := []struct {
		name string
		goal string
		want bool
	}{
		{"autonomous buy", "Buy BTC perp autonomously", true},
		{"go short", "go short ETH with 2x leverage", true},
		{"close position", "close my DOGE position", true},
		{"retrospective wins over close", "Why did you close the previous BTC long?", false},
		{"loss complaint wins over trade terms", "You keep losing money on SOL shorts", false},
		{"plain question", "How is the BTC funding rate trending?", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasExecutionIntent(tt.goal))
		})
	}
}

func TestIsRetrospectiveAndLossComplaint(t *testing.T) {
	assert.True(t, IsRetrospective("Why did you close the previous BTC long?"))
	assert.True(t, IsRetrospective("walk me through yesterday's trades"))
	assert.False(t, IsRetrospective("Buy BTC perp autonomously"))

	assert.True(t, IsLossComplaint("we are in a drawdown again"))
	assert.True(t, IsLossComplaint("the bot keeps failing and losing"))
	assert.False(t, IsLossComplaint("open a small BTC long"))
}

func TestInferSymbol(t *testing.T) {
	tests := []struct {
		name string
		goal string
		want string
	}{
		{"plain ticker", "Buy BTC perp autonomously", "BTC"},
		{"lowercase ticker", "short eth now", "ETH"},
		{"first ticker wins", "rotate from BTC into SOL", "BTC"},
		{"OP does not match inside open", "open a position when ready", ""},
		{"OP does not match inside stop", "move the stop loss up", ""},
		{"OP on word boundary", "long OP against the market", "OP"},
		{"no ticker", "how are markets today", ""},
		{"punctuation boundary", "what about BTC?", "BTC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferSymbol(tt.goal))
		})
	}
}
