package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/config"
	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/tools"
)

// toolAliases remaps tool names the LLM tends to invent onto registered ones.
var toolAliases = map[string]string{
	"symbol_resolve":   "perp_market_list",
	"market_list":      "perp_market_list",
	"list_markets":     "perp_market_list",
	"portfolio":        "get_portfolio",
	"get_positions":    "perp_positions",
	"place_order":      "perp_place_order",
	"cancel_order":     "perp_cancel_order",
	"search_news":      "intel_search",
	"news_search":      "intel_search",
	"journal_list":     "perp_trade_journal_list",
	"knowledge_query":  "qmd_query",
	"list_tools":       "tools.list",
	"get_open_orders":  "perp_open_orders",
	"get_wallet":       "get_wallet_info",
}

// fallbackRules is the deterministic keyword-to-tool table used when the LLM
// plan cannot be parsed.
var fallbackRules = []struct {
	keywords []string
	tool     string
	desc     string
}{
	{[]string{"portfolio", "balance", "positions", "holdings"}, "get_portfolio", "Fetch the current portfolio"},
	{[]string{"news", "headline", "announcement", "intel"}, "intel_search", "Search recent market intel"},
	{[]string{"market", "price", "funding", "ticker", "symbol"}, "perp_market_list", "List tradable perp markets"},
	{[]string{"wallet", "margin", "withdrawable"}, "get_wallet_info", "Fetch wallet margin summary"},
}

// Planner turns a goal into a step plan via the LLM, with deterministic
// fallbacks when the model output cannot be used.
type Planner struct {
	llm      llm.Client
	registry *tools.Registry
	logger   *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(client llm.Client, registry *tools.Registry) *Planner {
	if client == nil {
		panic("agent.NewPlanner: llm client must not be nil")
	}
	if registry == nil {
		panic("agent.NewPlanner: tool registry must not be nil")
	}
	return &Planner{
		llm:      client,
		registry: registry,
		logger:   slog.Default().With("component", "planner"),
	}
}

// plannerResponse is the JSON shape the LLM is asked to produce.
type plannerResponse struct {
	Goal       string             `json:"goal"`
	Steps      []*models.PlanStep `json:"steps"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning,omitempty"`
}

// CreatePlan produces a plan for the goal. Parse failures fall back to the
// keyword table, then to a single non-tool "respond from context" step with
// confidence 0.3 and a recorded blocker.
func (p *Planner) CreatePlan(ctx context.Context, goal, memoryContext, identity string, modeCfg *config.ModeConfig, tradeIntent bool) (*models.Plan, []string) {
	var warnings []string

	completion, err := p.llm.Complete(ctx, p.planMessages(goal, memoryContext, identity, tradeIntent), llm.Options{Temperature: 0.2})
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("planner LLM call failed: %v", err))
		return p.fallbackPlan(goal), warnings
	}

	var parsed plannerResponse
	if err := llm.ExtractJSON(completion.Content, &parsed); err != nil || len(parsed.Steps) == 0 {
		warnings = append(warnings, "planner returned an unparsable or empty plan")
		return p.fallbackPlan(goal), warnings
	}

	plan := &models.Plan{
		ID:         uuid.New().String(),
		Goal:       goal,
		Steps:      parsed.Steps,
		Confidence: clamp01(parsed.Confidence),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	p.sanitizeSteps(plan, modeCfg, &warnings)

	if HasCycle(plan) {
		warnings = append(warnings, "plan dependency graph contains a cycle; affected steps will stall")
		plan.Blockers = append(plan.Blockers, "dependency cycle in plan")
	}
	return plan, warnings
}

// sanitizeSteps fixes up LLM-produced steps: missing ids, alias routing,
// allow-list enforcement, and unknown-tool downgrade.
func (p *Planner) sanitizeSteps(plan *models.Plan, modeCfg *config.ModeConfig, warnings *[]string) {
	for i, s := range plan.Steps {
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
		}
		if s.Status == "" {
			s.Status = models.StepStatusPending
		}
		if !s.RequiresTool || s.ToolName == "" {
			s.RequiresTool = false
			s.ToolName = ""
			continue
		}

		name := strings.TrimSpace(s.ToolName)
		if _, ok := p.registry.Get(name); !ok {
			if alias, found := toolAliases[strings.ToLower(name)]; found {
				if _, ok := p.registry.Get(alias); ok {
					*warnings = append(*warnings, fmt.Sprintf("remapped tool %q to %q", name, alias))
					name = alias
				}
			}
		}
		if _, ok := p.registry.Get(name); !ok {
			*warnings = append(*warnings, fmt.Sprintf("unknown tool %q downgraded to a non-tool step", name))
			s.RequiresTool = false
			s.ToolName = ""
			continue
		}
		if modeCfg != nil && !modeCfg.ToolAllowed(name) {
			*warnings = append(*warnings, fmt.Sprintf("tool %q not allowed in this mode; step downgraded", name))
			s.RequiresTool = false
			s.ToolName = ""
			continue
		}
		s.ToolName = name
	}
}

// fallbackPlan applies the keyword table; with no match it degrades to a
// single respond-from-context step.
func (p *Planner) fallbackPlan(goal string) *models.Plan {
	now := time.Now().UTC()
	text := strings.ToLower(goal)

	for _, rule := range fallbackRules {
		if !containsAny(text, rule.keywords) {
			continue
		}
		if _, ok := p.registry.Get(rule.tool); !ok {
			continue
		}
		return &models.Plan{
			ID:   uuid.New().String(),
			Goal: goal,
			Steps: []*models.PlanStep{{
				ID:           "step-1",
				Description:  rule.desc,
				RequiresTool: true,
				ToolName:     rule.tool,
				ToolInput:    map[string]any{},
				Status:       models.StepStatusPending,
			}},
			Confidence: 0.5,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	return &models.Plan{
		ID:   uuid.New().String(),
		Goal: goal,
		Steps: []*models.PlanStep{{
			ID:          "step-1",
			Description: "Respond from existing context without tools",
			Status:      models.StepStatusPending,
		}},
		Confidence: 0.3,
		Blockers:   []string{"no plan could be derived from the goal"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (p *Planner) planMessages(goal, memoryContext, identity string, tradeIntent bool) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Produce a step plan for the goal below as strict JSON:\n")
	sb.WriteString(`{"goal": string, "confidence": number 0..1, "steps": [{"id": string, "description": string, "requires_tool": bool, "tool_name": string, "tool_input": object, "depends_on": [string]}]}`)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("- tool_input values must be concrete; no placeholders.\n")
	sb.WriteString("- depends_on may reference only earlier step ids.\n")
	if tradeIntent {
		sb.WriteString("- The goal asks for a trade. Use at most 3 analysis steps, then end with perp_place_order or perp_cancel_order, or a non-tool step whose description begins with NO_TRADE_DECISION: if no trade should happen.\n")
	}
	schemas, _ := json.Marshal(p.registry.LLMSchemas())
	sb.WriteString("\nAvailable tools:\n")
	sb.Write(schemas)
	if memoryContext != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(memoryContext)
	}
	sb.WriteString("\n\nGoal: ")
	sb.WriteString(goal)

	system := "You are a trading-agent planner. Output strict JSON only."
	if identity != "" {
		system = identity + "\n\n" + system
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
