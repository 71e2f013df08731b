package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/models"
)

// Placeholder patterns the planner is allowed to emit; the orchestrator
// resolves them to concrete values before execution.
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^to_be_\w*`),
	regexp.MustCompile(`(?i)to_be_determined`),
	regexp.MustCompile(`(?i)based_on_step`),
	regexp.MustCompile(`(?i)\bTBD\b`),
	regexp.MustCompile(`(?i)placeholder`),
	regexp.MustCompile(`\{[^}]*step[^}]*\}`),
	regexp.MustCompile(`(?i)FILL_IN`),
}

// Tools that cannot run without a symbol, plus tools that strongly benefit
// from one. A missing symbol is filled with the configured default.
var symbolTools = map[string]bool{
	"perp_market_get":  true,
	"perp_analyze":     true,
	"perp_place_order": true,
	"perp_open_orders": true,
	"perp_positions":   true,
}

// HasPlaceholders reports whether any string value in the input matches a
// placeholder pattern.
func HasPlaceholders(input map[string]any) bool {
	for _, v := range input {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, re := range placeholderPatterns {
			if re.MatchString(s) {
				return true
			}
		}
	}
	return false
}

// maxStepJSONLen caps the JSON of each completed step fed to the resolver.
const maxStepJSONLen = 2000

// ResolveInputs asks the LLM (temperature 0.1) for concrete parameters to
// replace placeholders, grounded on completed-step results and the tool's
// schema. On any failure the original input is returned unchanged.
func ResolveInputs(
	ctx context.Context,
	client llm.Client,
	def *Definition,
	input map[string]any,
	completedSteps []*models.PlanStep,
) map[string]any {
	var sb strings.Builder
	sb.WriteString("Previously completed steps and their results:\n")
	for _, step := range completedSteps {
		data, err := json.Marshal(step)
		if err != nil {
			continue
		}
		s := string(data)
		if len(s) > maxStepJSONLen {
			s = s[:maxStepJSONLen] + "..."
		}
		sb.WriteString(s)
		sb.WriteString("\n")
	}

	current, _ := json.Marshal(input)
	sb.WriteString(fmt.Sprintf("\nTool to call: %s\nCurrent input (contains placeholders): %s\n", def.Name, current))
	if def.InputSchema != nil {
		schema, _ := json.Marshal(def.InputSchema)
		sb.WriteString(fmt.Sprintf("Tool input JSON schema: %s\n", schema))
	}
	sb.WriteString("\nReply with ONLY a JSON object of concrete parameter values for this tool call. No placeholders, no commentary.")

	completion, err := client.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You resolve tool-call parameters to concrete values. Output strict JSON."},
		{Role: llm.RoleUser, Content: sb.String()},
	}, llm.Options{Temperature: 0.1})
	if err != nil {
		return input
	}

	resolved := map[string]any{}
	if err := llm.ExtractJSON(completion.Content, &resolved); err != nil {
		return input
	}
	if len(resolved) == 0 {
		return input
	}
	return resolved
}

// EnsureSymbol inserts the default symbol for tools that need one when the
// planner omitted it.
func EnsureSymbol(toolName string, input map[string]any, defaultSymbol string) map[string]any {
	if !symbolTools[toolName] {
		return input
	}
	if s, ok := input["symbol"].(string); ok && strings.TrimSpace(s) != "" {
		return input
	}
	out := make(map[string]any, len(input)+1)
	for k, v := range input {
		out[k] = v
	}
	if defaultSymbol == "" {
		defaultSymbol = "BTC"
	}
	out["symbol"] = defaultSymbol
	return out
}
