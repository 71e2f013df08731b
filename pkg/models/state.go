package models

import "time"

// Mode is a named policy bundle selecting allowed tools, iteration budget,
// critic requirement, and synthesis temperature.
type Mode string

// Built-in modes.
const (
	ModeTrade    Mode = "trade"
	ModeAnalysis Mode = "analysis"
	ModeAdmin    Mode = "admin"
)

// ToolResult is the only result shape tools are allowed to return.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolExecution records one observed tool call. Append-only per run.
type ToolExecution struct {
	ToolName   string         `json:"tool_name"`
	Input      map[string]any `json:"input,omitempty"`
	Result     ToolResult     `json:"result"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
	Cached     bool           `json:"cached"`
}

// HypothesisUpdate merges into the run's hypothesis set by ID.
type HypothesisUpdate struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Reflection is the post-tool belief update produced by the reflector.
type Reflection struct {
	HypothesisUpdates []HypothesisUpdate `json:"hypothesis_updates,omitempty"`
	AssumptionUpdates []HypothesisUpdate `json:"assumption_updates,omitempty"`
	ConfidenceChange  float64            `json:"confidence_change"`
	NewInformation    string             `json:"new_information,omitempty"`
	// NextStep is advisory only; the readiness scan stays authoritative.
	NextStep        string `json:"next_step,omitempty"`
	SuggestRevision bool   `json:"suggest_revision"`
	RevisionReason  string `json:"revision_reason,omitempty"`
}

// CriticResult is the final-response audit verdict.
type CriticResult struct {
	Approved        bool     `json:"approved"`
	Issues          []string `json:"issues,omitempty"`
	RevisedResponse string   `json:"revised_response,omitempty"`
}

// AgentState is the single-owner mutable state of one orchestrator run.
// Only the orchestrator loop mutates it; it is frozen when the run completes.
type AgentState struct {
	SessionID      string             `json:"session_id"`
	Goal           string             `json:"goal"`
	Mode           Mode               `json:"mode"`
	Iteration      int                `json:"iteration"`
	Plan           *Plan              `json:"plan,omitempty"`
	ToolExecutions []*ToolExecution   `json:"tool_executions,omitempty"`
	MemoryContext  string             `json:"memory_context,omitempty"`
	Assumptions    []HypothesisUpdate `json:"assumptions,omitempty"`
	Hypotheses     []HypothesisUpdate `json:"hypotheses,omitempty"`
	Confidence     float64            `json:"confidence"`
	Warnings       []string           `json:"warnings,omitempty"`
	Errors         []string           `json:"errors,omitempty"`
	Response       string             `json:"response,omitempty"`
	CriticResult   *CriticResult      `json:"critic_result,omitempty"`
	FragilityScore *float64           `json:"fragility_score,omitempty"`

	// Progress-guard counter: consecutive executed tool steps in trade mode
	// whose tool is not a terminal trade tool.
	ConsecutiveNonTerminalTradeToolSteps int `json:"consecutive_non_terminal_trade_tool_steps"`
}

// AddWarning appends a warning to the state.
func (s *AgentState) AddWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// AddError appends an error to the state.
func (s *AgentState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// RecordExecution appends a tool execution to the run trace.
func (s *AgentState) RecordExecution(exec *ToolExecution) {
	s.ToolExecutions = append(s.ToolExecutions, exec)
}

// DecisionAudit is the one-per-run audit record written for trade activity.
type DecisionAudit struct {
	SessionID      string    `json:"session_id"`
	Mode           Mode      `json:"mode"`
	Goal           string    `json:"goal"`
	Symbol         string    `json:"symbol,omitempty"`
	TradeAction    string    `json:"trade_action,omitempty"`
	TradeOutcome   string    `json:"trade_outcome,omitempty"`
	TradeAmount    float64   `json:"trade_amount,omitempty"`
	Confidence     float64   `json:"confidence"`
	CriticApproved *bool     `json:"critic_approved,omitempty"`
	CriticIssues   []string  `json:"critic_issues,omitempty"`
	FragilityScore *float64  `json:"fragility_score,omitempty"`
	ToolCalls      []string  `json:"tool_calls,omitempty"`
	Iterations     int       `json:"iterations"`
	ToolTrace      any       `json:"tool_trace,omitempty"`
	PlanTrace      any       `json:"plan_trace,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
