package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/tools"
)

func execOf(tool string, success bool, errMsg string) *models.ToolExecution {
	return &models.ToolExecution{
		ToolName: tool,
		Input:    map[string]any{"symbol": "BTC", "side": "buy", "size": 0.01},
		Result:   models.ToolResult{Success: success, Error: errMsg},
	}
}

func TestActionLine(t *testing.T) {
	t.Run("counts executed orders", func(t *testing.T) {
		state := &models.AgentState{ToolExecutions: []*models.ToolExecution{
			execOf(tools.ToolPlaceOrder, true, ""),
		}}
		assert.Equal(t, "I executed 1 perp order(s).", ActionLine(state))

		state.RecordExecution(execOf(tools.ToolPlaceOrder, true, ""))
		assert.Equal(t, "I executed 2 perp order(s).", ActionLine(state))
	})

	t.Run("reports the last failure when nothing executed", func(t *testing.T) {
		state := &models.AgentState{ToolExecutions: []*models.ToolExecution{
			execOf(tools.ToolPlaceOrder, false, "insufficient margin"),
			execOf(tools.ToolPlaceOrder, false, "order failed after retries"),
		}}
		assert.Equal(t,
			"I did not execute a new perp order. Last perp_place_order failed: order failed after retries",
			ActionLine(state))
	})

	t.Run("a success outweighs earlier failures", func(t *testing.T) {
		state := &models.AgentState{ToolExecutions: []*models.ToolExecution{
			execOf(tools.ToolPlaceOrder, false, "no match"),
			execOf(tools.ToolPlaceOrder, true, ""),
		}}
		assert.Equal(t, "I executed 1 perp order(s).", ActionLine(state))
	})

	t.Run("no order attempts at all", func(t *testing.T) {
		state := &models.AgentState{ToolExecutions: []*models.ToolExecution{
			execOf("get_portfolio", true, ""),
		}}
		assert.Equal(t, "I did not execute a new perp order.", ActionLine(state))
	})
}

func TestEnforceContract(t *testing.T) {
	t.Run("in-shape response keeps its prose, action overwritten", func(t *testing.T) {
		state := &models.AgentState{
			Response: "Action: I opened a huge position.\nBook State: flat\nRisk: low\nNext Action: hold",
			ToolExecutions: []*models.ToolExecution{
				execOf(tools.ToolPlaceOrder, true, ""),
			},
		}
		out := EnforceContract(state)
		assert.Contains(t, out, "Action: I executed 1 perp order(s).")
		assert.Contains(t, out, "Book State: flat")
		assert.Contains(t, out, "Risk: low")
		assert.Contains(t, out, "Next Action: hold")
		assert.NotContains(t, out, "huge position")
	})

	t.Run("free-form response replaced wholesale", func(t *testing.T) {
		state := &models.AgentState{
			Response:   "I think the market looks good.",
			Confidence: 0.7,
			ToolExecutions: []*models.ToolExecution{
				execOf(tools.ToolPlaceOrder, false, "insufficient margin"),
			},
		}
		out := EnforceContract(state)
		lines := strings.Split(out, "\n")
		assert.True(t, strings.HasPrefix(lines[0], "Action: "))
		assert.Contains(t, out, "Last perp_place_order failed: insufficient margin")
		assert.Contains(t, out, "Book State: ")
		assert.Contains(t, out, "Risk: ")
		assert.Contains(t, out, "Next Action: ")
		assert.NotContains(t, out, "market looks good")
	})

	t.Run("headers out of order count as free-form", func(t *testing.T) {
		state := &models.AgentState{
			Response: "Risk: low\nAction: did stuff\nBook State: flat\nNext Action: hold",
		}
		out := EnforceContract(state)
		assert.True(t, strings.HasPrefix(out, "Action: "))
		assert.NotContains(t, out, "did stuff")
	})

	t.Run("book state pulls the last portfolio snapshot", func(t *testing.T) {
		state := &models.AgentState{
			Response: "not in shape",
			ToolExecutions: []*models.ToolExecution{
				{
					ToolName: "get_portfolio",
					Result:   models.ToolResult{Success: true, Data: map[string]any{"account_value": 10000}},
				},
			},
		}
		out := EnforceContract(state)
		assert.Contains(t, out, "account_value")
	})

	t.Run("risk line carries fragility and warnings", func(t *testing.T) {
		frag := 0.42
		state := &models.AgentState{
			Response:       "not in shape",
			Confidence:     0.8,
			FragilityScore: &frag,
			Warnings:       []string{"w1", "w2"},
		}
		out := EnforceContract(state)
		assert.Contains(t, out, "fragility score 0.42")
		assert.Contains(t, out, "run confidence 0.80")
		assert.Contains(t, out, "2 warning(s)")
	})
}

func TestFallbackResponse(t *testing.T) {
	state := &models.AgentState{
		Confidence: 0.5,
		ToolExecutions: []*models.ToolExecution{
			execOf("get_portfolio", true, ""),
			execOf(tools.ToolPlaceOrder, false, "insufficient margin"),
			execOf(tools.ToolPlaceOrder, false, "order failed after retries"),
		},
	}
	out := FallbackResponse(state)

	assert.Contains(t, out, "Action: I did not execute a new perp order.")
	assert.Contains(t, out, "Failed attempts: 2. Last error: order failed after retries")
	assert.Contains(t, out, "symbol=BTC side=buy size=0.01")
	assert.Contains(t, out, "Tools run: get_portfolio, perp_place_order, perp_place_order")
	for _, header := range []string{"Action:", "Book State:", "Risk:", "Next Action:"} {
		assert.Contains(t, out, header)
	}
}

func TestFallbackResponseCapsAttemptBreakdown(t *testing.T) {
	state := &models.AgentState{}
	for i := 0; i < 5; i++ {
		state.RecordExecution(execOf(tools.ToolPlaceOrder, false, "no match"))
	}
	out := FallbackResponse(state)
	assert.Contains(t, out, "Failed attempts: 5.")
	assert.Equal(t, 3, strings.Count(out, "\n- symbol="))
}
