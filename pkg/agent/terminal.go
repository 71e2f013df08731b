package agent

import (
	"fmt"
	"strings"

	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/tools"
)

// noTradePrefix marks a deliberate decision not to trade; a non-tool step
// with this prefix satisfies the terminal contract.
const noTradePrefix = "NO_TRADE_DECISION:"

// terminalTradeTools are the tools that end a trade plan.
var terminalTradeTools = map[string]bool{
	tools.ToolPlaceOrder:  true,
	tools.ToolCancelOrder: true,
}

// IsTerminalStep reports whether the step satisfies the terminal contract.
func IsTerminalStep(s *models.PlanStep) bool {
	if s.RequiresTool && terminalTradeTools[s.ToolName] {
		return true
	}
	return !s.RequiresTool && strings.HasPrefix(strings.TrimSpace(s.Description), noTradePrefix)
}

// HasTerminalStep reports whether any step of the plan is terminal.
func HasTerminalStep(plan *models.Plan) bool {
	for _, s := range plan.Steps {
		if IsTerminalStep(s) {
			return true
		}
	}
	return false
}

// HasPendingTerminalStep reports whether a terminal step is still pending.
func HasPendingTerminalStep(plan *models.Plan) bool {
	for _, s := range plan.Steps {
		if s.Status == models.StepStatusPending && IsTerminalStep(s) {
			return true
		}
	}
	return false
}

// injectedReadChains lists the read tools injected before a fallback order,
// each entry being acceptable aliases in preference order.
var injectedReadChains = [][]string{
	{"get_portfolio"},
	{"get_open_orders", "perp_open_orders"},
}

// EnsureTerminalContract appends fallback steps when a trade plan lacks a
// terminal step: the available read tools chained one after another, then a
// perp_place_order step with placeholder inputs for the dynamic resolver.
// Each injected step depends exactly on the immediately preceding injected
// step. Returns a warning when no terminal tool is registered.
func EnsureTerminalContract(plan *models.Plan, registry *tools.Registry, symbol string) string {
	if HasTerminalStep(plan) {
		return ""
	}
	if _, ok := registry.Get(tools.ToolPlaceOrder); !ok {
		return "trade goal has no terminal step and no terminal trade tool is available"
	}

	prevID := ""
	if n := len(plan.Steps); n > 0 {
		prevID = plan.Steps[n-1].ID
	}
	next := len(plan.Steps) + 1

	for _, aliases := range injectedReadChains {
		for _, name := range aliases {
			if _, ok := registry.Get(name); !ok {
				continue
			}
			step := &models.PlanStep{
				ID:           fmt.Sprintf("step-%d", next),
				Description:  fmt.Sprintf("Review account state via %s before deciding the order", name),
				RequiresTool: true,
				ToolName:     name,
				ToolInput:    map[string]any{},
				Status:       models.StepStatusPending,
			}
			if prevID != "" {
				step.DependsOn = []string{prevID}
			}
			plan.Steps = append(plan.Steps, step)
			prevID = step.ID
			next++
			break
		}
	}

	order := &models.PlanStep{
		ID:           fmt.Sprintf("step-%d", next),
		Description:  "Place the perp order decided from the reviewed account state",
		RequiresTool: true,
		ToolName:     tools.ToolPlaceOrder,
		ToolInput: map[string]any{
			"symbol": symbol,
			"side":   "to_be_determined",
			"size":   "to_be_determined",
		},
		Status: models.StepStatusPending,
	}
	if prevID != "" {
		order.DependsOn = []string{prevID}
	}
	plan.Steps = append(plan.Steps, order)
	return ""
}
