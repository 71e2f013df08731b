package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/models"
)

// failureTermRe gates reflection-suggested revisions: a suggestion only
// triggers when the last execution failed or the stated reason matches.
var failureTermRe = regexp.MustCompile(`(?i)(failed|error|unexpected|mismatch|invalid|missing|insufficient|blocked|no data)`)

// Reflector produces the post-tool belief update.
type Reflector struct {
	llm llm.Client
}

// NewReflector creates a reflector.
func NewReflector(client llm.Client) *Reflector {
	if client == nil {
		panic("agent.NewReflector: llm client must not be nil")
	}
	return &Reflector{llm: client}
}

// Reflect runs one reflection over the latest tool execution.
func (r *Reflector) Reflect(ctx context.Context, state *models.AgentState, exec *models.ToolExecution) (*models.Reflection, error) {
	var sb strings.Builder
	sb.WriteString("Given the goal, current hypotheses, and the latest tool result, update beliefs.\n")
	sb.WriteString(`Reply with strict JSON: {"hypothesis_updates": [{"id","content"}], "assumption_updates": [{"id","content"}], "confidence_change": number, "new_information": string, "next_step": string, "suggest_revision": bool, "revision_reason": string}`)
	sb.WriteString("\n\nGoal: ")
	sb.WriteString(state.Goal)

	if len(state.Hypotheses) > 0 {
		h, _ := json.Marshal(state.Hypotheses)
		sb.WriteString("\nHypotheses: ")
		sb.Write(h)
	}
	if len(state.Assumptions) > 0 {
		a, _ := json.Marshal(state.Assumptions)
		sb.WriteString("\nAssumptions: ")
		sb.Write(a)
	}
	execJSON, _ := json.Marshal(exec)
	sb.WriteString("\nLatest tool execution: ")
	sb.Write(execJSON)

	completion, err := r.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the reflection stage of a trading agent. Output strict JSON only."},
		{Role: llm.RoleUser, Content: sb.String()},
	}, llm.Options{Temperature: 0.2})
	if err != nil {
		return nil, err
	}

	var refl models.Reflection
	if err := llm.ExtractJSON(completion.Content, &refl); err != nil {
		return nil, err
	}
	return &refl, nil
}

// Apply merges the reflection deltas into the run state. Confidence is
// clamped to [0,1]; hypothesis and assumption updates merge by id.
func Apply(state *models.AgentState, refl *models.Reflection) {
	state.Confidence = clamp01(state.Confidence + refl.ConfidenceChange)
	state.Hypotheses = mergeUpdates(state.Hypotheses, refl.HypothesisUpdates)
	state.Assumptions = mergeUpdates(state.Assumptions, refl.AssumptionUpdates)
}

func mergeUpdates(existing, updates []models.HypothesisUpdate) []models.HypothesisUpdate {
	for _, u := range updates {
		if u.ID == "" {
			continue
		}
		replaced := false
		for i := range existing {
			if existing[i].ID == u.ID {
				existing[i].Content = u.Content
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, u)
		}
	}
	return existing
}

// ShouldRevise reports whether a reflection's revision suggestion is
// actionable: only after a failed execution, or when the stated reason
// matches a failure term.
func ShouldRevise(refl *models.Reflection, execFailed bool) bool {
	if refl == nil || !refl.SuggestRevision {
		return false
	}
	if execFailed {
		return true
	}
	return failureTermRe.MatchString(refl.RevisionReason)
}
