package models

import (
	"fmt"
	"time"
)

// StepStatus is the lifecycle state of a plan step. A step leaves pending
// exactly once, into one of the three terminal states.
type StepStatus string

// Step status constants.
const (
	StepStatusPending  StepStatus = "pending"
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// Terminal reports whether the status is one of the one-shot terminal states.
func (s StepStatus) Terminal() bool {
	return s == StepStatusComplete || s == StepStatusFailed || s == StepStatusSkipped
}

// PlanStep is an atomic, possibly tool-bound action within a plan.
// DependsOn references prior step IDs and forms a DAG; a step is ready
// when every dependency is complete.
type PlanStep struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	RequiresTool bool           `json:"requires_tool"`
	ToolName     string         `json:"tool_name,omitempty"`
	ToolInput    map[string]any `json:"tool_input,omitempty"`
	Status       StepStatus     `json:"status"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Plan is an ordered sequence of steps plus plan-level bookkeeping.
type Plan struct {
	ID            string     `json:"id"`
	Goal          string     `json:"goal"`
	Steps         []*PlanStep `json:"steps"`
	Confidence    float64    `json:"confidence"`
	Blockers      []string   `json:"blockers,omitempty"`
	RevisionCount int        `json:"revision_count"`
	Complete      bool       `json:"complete"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Step returns the step with the given ID, or nil.
func (p *Plan) Step(id string) *PlanStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// AllDone reports whether every step is complete or skipped.
func (p *Plan) AllDone() bool {
	for _, s := range p.Steps {
		if s.Status != StepStatusComplete && s.Status != StepStatusSkipped {
			return false
		}
	}
	return true
}

// MarkStep transitions a step out of pending. The transition is one-shot:
// marking an already-terminal step is an error.
func (p *Plan) MarkStep(id string, status StepStatus) error {
	s := p.Step(id)
	if s == nil {
		return fmt.Errorf("no step with id %q", id)
	}
	if s.Status.Terminal() {
		return fmt.Errorf("step %q already %s", id, s.Status)
	}
	if !status.Terminal() {
		return fmt.Errorf("cannot transition step %q to non-terminal status %q", id, status)
	}
	s.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}
