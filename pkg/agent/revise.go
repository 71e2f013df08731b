package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/models"
)

// maxPlanRevisions caps plan revisions per run.
const maxPlanRevisions = 3

// reviseResponse is the JSON shape requested from the LLM for a revision.
type reviseResponse struct {
	Steps      []*models.PlanStep `json:"steps"`
	Confidence float64            `json:"confidence"`
	Changes    string             `json:"changes,omitempty"`
}

// RevisePlan asks the LLM to revise the plan after a failure or a reflection
// trigger. Prior step statuses, results, and errors are preserved unless the
// LLM explicitly supplies new values. Confidence drops ×0.9 on a successful
// revision, ×0.8 when the revision output cannot be parsed.
func (p *Planner) RevisePlan(ctx context.Context, plan *models.Plan, reason string, lastResult *models.ToolResult, triggerStepID string) (*models.Plan, error) {
	if plan.RevisionCount >= maxPlanRevisions {
		return plan, fmt.Errorf("revision cap reached (%d)", maxPlanRevisions)
	}

	completion, err := p.llm.Complete(ctx, p.reviseMessages(plan, reason, lastResult, triggerStepID), llm.Options{Temperature: 0.2})
	if err != nil {
		plan.Confidence = clamp01(plan.Confidence * 0.8)
		plan.RevisionCount++
		return plan, fmt.Errorf("revision LLM call failed: %w", err)
	}

	var parsed reviseResponse
	if err := llm.ExtractJSON(completion.Content, &parsed); err != nil || len(parsed.Steps) == 0 {
		plan.Confidence = clamp01(plan.Confidence * 0.8)
		plan.RevisionCount++
		return plan, fmt.Errorf("revision output unparsable")
	}

	prior := make(map[string]*models.PlanStep, len(plan.Steps))
	for _, s := range plan.Steps {
		prior[s.ID] = s
	}
	for _, s := range parsed.Steps {
		if s.Status == "" {
			s.Status = models.StepStatusPending
		}
		old, existed := prior[s.ID]
		if !existed {
			continue
		}
		// Carry forward what the LLM did not overwrite.
		if s.Status == models.StepStatusPending && old.Status != models.StepStatusPending {
			s.Status = old.Status
		}
		if s.Result == nil {
			s.Result = old.Result
		}
		if s.Error == "" {
			s.Error = old.Error
		}
	}

	revised := &models.Plan{
		ID:            plan.ID,
		Goal:          plan.Goal,
		Steps:         parsed.Steps,
		Confidence:    clamp01(plan.Confidence * 0.9),
		Blockers:      plan.Blockers,
		RevisionCount: plan.RevisionCount + 1,
		CreatedAt:     plan.CreatedAt,
		UpdatedAt:     time.Now().UTC(),
	}
	if parsed.Confidence > 0 {
		revised.Confidence = clamp01(parsed.Confidence * 0.9)
	}
	if HasCycle(revised) {
		revised.Blockers = append(revised.Blockers, "dependency cycle introduced by revision")
	}
	return revised, nil
}

func (p *Planner) reviseMessages(plan *models.Plan, reason string, lastResult *models.ToolResult, triggerStepID string) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Revise the plan below. Keep completed steps as they are; change only what the failure requires.\n")
	sb.WriteString("Reply with strict JSON: {\"steps\": [...], \"confidence\": number, \"changes\": string}\n\n")

	planJSON, _ := json.Marshal(plan)
	sb.WriteString("Current plan:\n")
	sb.Write(planJSON)
	sb.WriteString("\n\nRevision reason: ")
	sb.WriteString(reason)
	if triggerStepID != "" {
		sb.WriteString("\nTriggering step: ")
		sb.WriteString(triggerStepID)
	}
	if lastResult != nil {
		resultJSON, _ := json.Marshal(lastResult)
		sb.WriteString("\nLast tool result: ")
		sb.Write(resultJSON)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You revise trading-agent plans. Output strict JSON only."},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}
