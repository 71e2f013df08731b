package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/tools"
)

// contractHeaders are the four required section headers of a trade-mode
// response, in order.
var contractHeaders = []string{"Action:", "Book State:", "Risk:", "Next Action:"}

// orderAttempts summarizes the perp_place_order executions of a run.
type orderAttempts struct {
	executed int
	failed   []*models.ToolExecution
}

func collectOrderAttempts(state *models.AgentState) orderAttempts {
	var a orderAttempts
	for _, exec := range state.ToolExecutions {
		if exec.ToolName != tools.ToolPlaceOrder {
			continue
		}
		if exec.Result.Success {
			a.executed++
		} else {
			a.failed = append(a.failed, exec)
		}
	}
	return a
}

// ActionLine builds the deterministic Action line from the tool trace.
func ActionLine(state *models.AgentState) string {
	a := collectOrderAttempts(state)
	if a.executed > 0 {
		return fmt.Sprintf("I executed %d perp order(s).", a.executed)
	}
	if n := len(a.failed); n > 0 {
		last := a.failed[n-1]
		return fmt.Sprintf("I did not execute a new perp order. Last perp_place_order failed: %s", last.Result.Error)
	}
	return "I did not execute a new perp order."
}

// hasContractShape reports whether the response carries all four section
// headers in order.
func hasContractShape(response string) bool {
	pos := 0
	for _, h := range contractHeaders {
		i := strings.Index(response[pos:], h)
		if i < 0 {
			return false
		}
		pos += i + len(h)
	}
	return true
}

// EnforceContract ensures the response matches the four-line contract. A
// response already in contract shape keeps the LLM's prose and only has its
// Action line overwritten with the deterministic summary; anything else is
// replaced wholesale.
func EnforceContract(state *models.AgentState) string {
	action := ActionLine(state)
	if hasContractShape(state.Response) {
		return overwriteActionLine(state.Response, action)
	}
	return buildContractResponse(state, action)
}

func overwriteActionLine(response, action string) string {
	lines := strings.Split(response, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "Action:") {
			lines[i] = "Action: " + action
			break
		}
	}
	return strings.Join(lines, "\n")
}

func buildContractResponse(state *models.AgentState, action string) string {
	var sb strings.Builder
	sb.WriteString("Action: ")
	sb.WriteString(action)
	sb.WriteString("\nBook State: ")
	sb.WriteString(bookStateLine(state))
	sb.WriteString("\nRisk: ")
	sb.WriteString(riskLine(state))
	sb.WriteString("\nNext Action: ")
	sb.WriteString(nextActionLine(state))
	return sb.String()
}

func bookStateLine(state *models.AgentState) string {
	for i := len(state.ToolExecutions) - 1; i >= 0; i-- {
		exec := state.ToolExecutions[i]
		if !exec.Result.Success {
			continue
		}
		switch exec.ToolName {
		case "get_portfolio", "perp_positions":
			data, err := json.Marshal(exec.Result.Data)
			if err == nil {
				return truncate(string(data), 400)
			}
		}
	}
	return "No portfolio snapshot was taken this run."
}

func riskLine(state *models.AgentState) string {
	var parts []string
	if state.FragilityScore != nil {
		parts = append(parts, fmt.Sprintf("fragility score %.2f", *state.FragilityScore))
	}
	parts = append(parts, fmt.Sprintf("run confidence %.2f", state.Confidence))
	if len(state.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", len(state.Warnings)))
	}
	return strings.Join(parts, "; ")
}

func nextActionLine(state *models.AgentState) string {
	a := collectOrderAttempts(state)
	if len(a.failed) > 0 && a.executed == 0 {
		return "Resolve the order failure before retrying."
	}
	if a.executed > 0 {
		return "Monitor the new position against its invalidation contract."
	}
	return "Await the next scan or instruction."
}

// FallbackResponse is the deterministic reply used when the critic
// disapproves without supplying a revision: the order outcome, a per-attempt
// breakdown of up to three failures, and the full tool run list.
func FallbackResponse(state *models.AgentState) string {
	a := collectOrderAttempts(state)

	var sb strings.Builder
	sb.WriteString("Action: ")
	sb.WriteString(ActionLine(state))
	sb.WriteString("\nBook State: ")
	sb.WriteString(bookStateLine(state))
	sb.WriteString("\nRisk: ")
	sb.WriteString(riskLine(state))
	sb.WriteString("\nNext Action: ")
	sb.WriteString(nextActionLine(state))

	if n := len(a.failed); n > 0 {
		sb.WriteString(fmt.Sprintf("\n\nFailed attempts: %d. Last error: %s", n, a.failed[n-1].Result.Error))
		limit := n
		if limit > 3 {
			limit = 3
		}
		for _, exec := range a.failed[:limit] {
			sb.WriteString(fmt.Sprintf(
				"\n- symbol=%v side=%v size=%v reduce_only=%v error=%s",
				exec.Input["symbol"], exec.Input["side"], exec.Input["size"],
				exec.Input["reduce_only"], exec.Result.Error))
		}
	}

	var ran []string
	for _, exec := range state.ToolExecutions {
		ran = append(ran, exec.ToolName)
	}
	sb.WriteString("\n\nTools run: ")
	sb.WriteString(strings.Join(ran, ", "))
	return sb.String()
}
