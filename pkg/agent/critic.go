package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/models"
)

// Critic audits the final response against the observed tool trace.
type Critic struct {
	llm llm.Client
}

// NewCritic creates a critic.
func NewCritic(client llm.Client) *Critic {
	if client == nil {
		panic("agent.NewCritic: llm client must not be nil")
	}
	return &Critic{llm: client}
}

// Review audits the draft response. fragilityContext is included when a
// pre-trade fragility scan ran.
func (c *Critic) Review(ctx context.Context, state *models.AgentState, fragilityContext string) (*models.CriticResult, error) {
	var sb strings.Builder
	sb.WriteString("Audit the draft response against the tool trace. Flag any claimed fill, size, or price not backed by an execution record.\n")
	sb.WriteString(`Reply with strict JSON: {"approved": bool, "issues": [string], "revised_response": string}`)
	sb.WriteString("\n\nGoal: ")
	sb.WriteString(state.Goal)

	trace, _ := json.Marshal(state.ToolExecutions)
	sb.WriteString("\nTool trace: ")
	sb.Write(trace)

	if fragilityContext != "" {
		sb.WriteString("\nFragility context: ")
		sb.WriteString(fragilityContext)
	}
	sb.WriteString("\n\nDraft response:\n")
	sb.WriteString(state.Response)

	completion, err := c.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the critic stage of a trading agent. Output strict JSON only."},
		{Role: llm.RoleUser, Content: sb.String()},
	}, llm.Options{Temperature: 0.1})
	if err != nil {
		return nil, err
	}

	var result models.CriticResult
	if err := llm.ExtractJSON(completion.Content, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
