// Package agent implements the LLM-driven orchestrator: mode detection,
// memory assembly, planning, the execution loop with reflection and
// revision, synthesis, the critic pass, and response-contract enforcement.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/perpd/pkg/config"
	"github.com/quantfold/perpd/pkg/journal"
	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/tools"
	"github.com/quantfold/perpd/pkg/trade"
)

// MaxParallelReadSteps bounds the concurrent read-only batch.
const MaxParallelReadSteps = 3

// progressGuardThreshold is the count of consecutive non-terminal trade tool
// steps after which remaining non-terminal steps are skipped and terminal
// fallback steps injected.
const progressGuardThreshold = 3

// RunOptions tunes a single orchestrator run.
type RunOptions struct {
	ForceMode     models.Mode
	SkipPlanning  bool
	ResumePlan    *models.Plan
	SessionID     string
	SessionMemory string
	OnProgress    func(msg string)
}

// RunResult is the outcome of one run.
type RunResult struct {
	State    *models.AgentState
	Response string
	Success  bool
	Summary  string
}

// Orchestrator drives one goal through the full planning/execution/synthesis
// pipeline. Safe for concurrent runs; per-run state is never shared.
type Orchestrator struct {
	cfg       *config.Config
	llm       llm.Client
	registry  *tools.Registry
	toolCtx   *tools.Context
	planner   *Planner
	reflector *Reflector
	critic    *Critic
	memory    *MemoryAssembler
	journal   *journal.Service
	identity  string
	logger    *slog.Logger
}

// NewOrchestrator wires the orchestrator. journal may be nil (no audit or
// incident persistence).
func NewOrchestrator(cfg *config.Config, client llm.Client, registry *tools.Registry, toolCtx *tools.Context, j *journal.Service) *Orchestrator {
	if cfg == nil {
		panic("agent.NewOrchestrator: config must not be nil")
	}
	if client == nil {
		panic("agent.NewOrchestrator: llm client must not be nil")
	}
	if registry == nil {
		panic("agent.NewOrchestrator: tool registry must not be nil")
	}
	if toolCtx == nil {
		panic("agent.NewOrchestrator: tool context must not be nil")
	}
	var knowledge func(ctx context.Context, query string) (any, error)
	if toolCtx.Knowledge != nil {
		knowledge = toolCtx.Knowledge
	}
	return &Orchestrator{
		cfg:       cfg,
		llm:       client,
		registry:  registry,
		toolCtx:   toolCtx,
		planner:   NewPlanner(client, registry),
		reflector: NewReflector(client),
		critic:    NewCritic(client),
		memory:    NewMemoryAssembler(j, knowledge),
		journal:   j,
		identity:  cfg.System.Identity,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// Run executes one goal end to end.
func (o *Orchestrator) Run(ctx context.Context, goal string, opts RunOptions) *RunResult {
	state := &models.AgentState{
		SessionID:  opts.SessionID,
		Goal:       goal,
		Confidence: 0.5,
	}
	if state.SessionID == "" {
		state.SessionID = uuid.New().String()
	}

	// Phase 1: mode detection.
	state.Mode = opts.ForceMode
	if state.Mode == "" {
		state.Mode = DetectMode(goal)
	}
	modeCfg := o.cfg.Mode(state.Mode)
	execIntent := state.Mode == models.ModeTrade && HasExecutionIntent(goal)
	o.progress(opts, fmt.Sprintf("mode=%s execution_intent=%v", state.Mode, execIntent))

	// Phase 2: memory assembly.
	state.MemoryContext = o.memory.Assemble(ctx, goal, opts.SessionMemory)

	// Phase 3: conditional prefetch for retrospective / loss-complaint goals.
	if state.Mode == models.ModeTrade && (IsRetrospective(goal) || IsLossComplaint(goal)) {
		o.prefetch(ctx, state)
	}

	// Phase 4: planning.
	o.plan(ctx, state, modeCfg, opts, execIntent)

	// Phase 5: execution loop.
	cancelled := o.executeLoop(ctx, state, modeCfg, execIntent, opts)

	terminalRan := o.terminalToolObserved(state)

	// Phase 6: synthesis (skipped on cancellation).
	if !cancelled {
		o.synthesize(ctx, state, modeCfg)
	}

	// Phase 7: critic.
	if !cancelled && (modeCfg.RequireCritic || terminalRan) {
		o.runCritic(ctx, state)
	}

	// Phase 8: response contract.
	if !cancelled && state.Mode == models.ModeTrade && (execIntent || terminalRan) {
		state.Response = EnforceContract(state)
	}

	// Phase 9: decision audit.
	if state.Mode == models.ModeTrade || terminalRan {
		o.writeAudit(ctx, state)
	}

	success := !cancelled && !o.hasFatal(state)
	return &RunResult{
		State:    state,
		Response: state.Response,
		Success:  success,
		Summary:  o.summary(state),
	}
}

func (o *Orchestrator) progress(opts RunOptions, msg string) {
	if opts.OnProgress != nil {
		opts.OnProgress(msg)
	}
}

// prefetch runs the journal-review tools before planning a retrospective
// goal. Failures become warnings, never fatal.
func (o *Orchestrator) prefetch(ctx context.Context, state *models.AgentState) {
	input := map[string]any{}
	if sym := InferSymbol(state.Goal); sym != "" {
		input["symbol"] = sym
	}
	for _, name := range []string{"perp_trade_journal_list", "trade_review"} {
		if _, ok := o.registry.Get(name); !ok {
			continue
		}
		exec := o.registry.Execute(ctx, name, input, o.toolCtx)
		state.RecordExecution(exec)
		if !exec.Result.Success {
			state.AddWarning(fmt.Sprintf("prefetch %s failed: %s", name, exec.Result.Error))
		}
	}
}

func (o *Orchestrator) plan(ctx context.Context, state *models.AgentState, modeCfg *config.ModeConfig, opts RunOptions, execIntent bool) {
	switch {
	case opts.ResumePlan != nil && opts.ResumePlan.Goal == state.Goal:
		state.Plan = opts.ResumePlan
	case opts.SkipPlanning:
		return
	default:
		plan, warnings := o.planner.CreatePlan(ctx, state.Goal, state.MemoryContext, o.identity, modeCfg, execIntent)
		state.Plan = plan
		for _, w := range warnings {
			state.AddWarning(w)
		}
	}
	if execIntent {
		symbol := InferSymbol(state.Goal)
		if symbol == "" {
			symbol = o.cfg.Venue.DefaultSymbol()
		}
		if w := EnsureTerminalContract(state.Plan, o.registry, symbol); w != "" {
			state.AddWarning(w)
		}
	}
	state.Confidence = state.Plan.Confidence
}

// executeLoop is the bounded step loop. Returns true when the run was
// cancelled.
func (o *Orchestrator) executeLoop(ctx context.Context, state *models.AgentState, modeCfg *config.ModeConfig, execIntent bool, opts RunOptions) bool {
	if state.Plan == nil {
		return false
	}
	fragilityDone := false
	retried := map[string]bool{}

	for state.Iteration < modeCfg.MaxIterations {
		if ctx.Err() != nil {
			state.AddError("cancelled")
			return true
		}
		state.Iteration++

		if state.Mode == models.ModeTrade && execIntent {
			o.applyProgressGuard(state)
		}

		ready := ReadySteps(state.Plan)
		if len(ready) == 0 {
			if state.Plan.AllDone() {
				state.Plan.Complete = true
			}
			break
		}

		if skipped := o.applySkipRules(state, ready[0], execIntent); skipped {
			continue
		}

		batch := o.readBatch(ready)
		if len(batch) > 1 {
			o.executeBatch(ctx, state, batch, retried, opts)
			continue
		}

		step := ready[0]
		if step.ToolName == tools.ToolPlaceOrder && !fragilityDone {
			o.fragilityScan(ctx, state)
			fragilityDone = true
		}
		o.executeStep(ctx, state, step, retried, true, opts)
	}
	return false
}

// applyProgressGuard skips stalled non-terminal steps and injects terminal
// fallback steps once the consecutive non-terminal counter trips.
func (o *Orchestrator) applyProgressGuard(state *models.AgentState) {
	if state.ConsecutiveNonTerminalTradeToolSteps <= progressGuardThreshold {
		return
	}
	if HasPendingTerminalStep(state.Plan) {
		return
	}
	for _, s := range state.Plan.Steps {
		if s.Status == models.StepStatusPending && !IsTerminalStep(s) {
			_ = state.Plan.MarkStep(s.ID, models.StepStatusSkipped)
		}
	}
	symbol := InferSymbol(state.Goal)
	if symbol == "" {
		symbol = o.cfg.Venue.DefaultSymbol()
	}
	if w := EnsureTerminalContract(state.Plan, o.registry, symbol); w != "" {
		state.AddWarning(w)
	}
	state.AddWarning("progress guard tripped: injected terminal fallback steps")
	state.ConsecutiveNonTerminalTradeToolSteps = 0
}

// applySkipRules handles the synthetic-skip cases. Returns true when the
// step was consumed.
func (o *Orchestrator) applySkipRules(state *models.AgentState, step *models.PlanStep, execIntent bool) bool {
	if !step.RequiresTool {
		// Non-tool steps complete immediately; their description is their
		// contribution to synthesis.
		_ = state.Plan.MarkStep(step.ID, models.StepStatusComplete)
		step.Result = step.Description
		return true
	}

	if step.ToolName == "tools.list" && !strings.Contains(strings.ToLower(state.Goal), "tool") && !o.unknownToolFailureSeen(state) {
		o.syntheticSkip(state, step, map[string]any{"skipped": true, "tools": o.registry.ListNames()})
		return true
	}

	if def, ok := o.registry.Get(step.ToolName); ok && def.SideEffects && state.Mode == models.ModeTrade && !execIntent {
		o.syntheticSkip(state, step, map[string]any{"skipped": true, "reason": "analysis-style goal; mutating tool not executed"})
		return true
	}
	return false
}

func (o *Orchestrator) unknownToolFailureSeen(state *models.AgentState) bool {
	for _, exec := range state.ToolExecutions {
		if !exec.Result.Success && strings.Contains(strings.ToLower(exec.Result.Error), "unknown tool") {
			return true
		}
	}
	return false
}

func (o *Orchestrator) syntheticSkip(state *models.AgentState, step *models.PlanStep, data map[string]any) {
	exec := &models.ToolExecution{
		ToolName:  step.ToolName,
		Input:     step.ToolInput,
		Result:    models.ToolResult{Success: true, Data: data},
		Timestamp: time.Now().UTC(),
		Cached:    true,
	}
	state.RecordExecution(exec)
	_ = state.Plan.MarkStep(step.ID, models.StepStatusSkipped)
	step.Result = data
}

// readBatch collects the read-only prefix of the ready queue.
func (o *Orchestrator) readBatch(ready []*models.PlanStep) []*models.PlanStep {
	var batch []*models.PlanStep
	for _, s := range ready {
		if len(batch) == MaxParallelReadSteps {
			break
		}
		if !s.RequiresTool {
			break
		}
		def, ok := o.registry.Get(s.ToolName)
		if !ok || def.SideEffects || def.RequiresConfirmation {
			break
		}
		batch = append(batch, s)
	}
	return batch
}

// executeBatch runs read-only steps concurrently and processes results
// serially in declaration order. Revision is disabled for batched steps so
// reflections cannot race plan mutation; failure remediation still applies
// because results are processed after the batch has fully drained.
func (o *Orchestrator) executeBatch(ctx context.Context, state *models.AgentState, batch []*models.PlanStep, retried map[string]bool, opts RunOptions) {
	execs := make([]*models.ToolExecution, len(batch))
	var wg sync.WaitGroup
	for i, step := range batch {
		wg.Add(1)
		go func(i int, step *models.PlanStep) {
			defer wg.Done()
			input := o.resolveInput(ctx, state, step)
			execs[i] = o.registry.Execute(ctx, step.ToolName, input, o.toolCtx)
		}(i, step)
	}
	wg.Wait()

	for i, step := range batch {
		o.processResult(ctx, state, step, execs[i], retried, false, opts)
	}
}

// executeStep runs a single step through resolution, execution, result
// processing, and reflection. allowRevision enables plan revision for this
// step's reflection.
func (o *Orchestrator) executeStep(ctx context.Context, state *models.AgentState, step *models.PlanStep, retried map[string]bool, allowRevision bool, opts RunOptions) {
	input := o.resolveInput(ctx, state, step)
	if def, ok := o.registry.Get(step.ToolName); ok && def.SideEffects {
		if _, present := input["cloid"]; !present {
			input = cloneWith(input, "cloid", uuid.New().String())
		}
	}
	exec := o.registry.Execute(ctx, step.ToolName, input, o.toolCtx)
	o.processResult(ctx, state, step, exec, retried, allowRevision, opts)
}

func (o *Orchestrator) resolveInput(ctx context.Context, state *models.AgentState, step *models.PlanStep) map[string]any {
	input := step.ToolInput
	if input == nil {
		input = map[string]any{}
	}
	if tools.HasPlaceholders(input) {
		if def, ok := o.registry.Get(step.ToolName); ok {
			input = tools.ResolveInputs(ctx, o.llm, def, input, completedSteps(state.Plan))
		}
	}
	return tools.EnsureSymbol(step.ToolName, input, o.cfg.Venue.DefaultSymbol())
}

func completedSteps(plan *models.Plan) []*models.PlanStep {
	var done []*models.PlanStep
	for _, s := range plan.Steps {
		if s.Status == models.StepStatusComplete {
			done = append(done, s)
		}
	}
	return done
}

// processResult applies one execution's outcome to the plan and state, then
// reflects.
func (o *Orchestrator) processResult(ctx context.Context, state *models.AgentState, step *models.PlanStep, exec *models.ToolExecution, retried map[string]bool, allowRevision bool, opts RunOptions) {
	state.RecordExecution(exec)
	o.progress(opts, fmt.Sprintf("tool %s success=%v", exec.ToolName, exec.Result.Success))

	if exec.Result.Success {
		_ = state.Plan.MarkStep(step.ID, models.StepStatusComplete)
		step.Result = exec.Result.Data
	} else {
		o.handleFailure(ctx, state, step, exec, retried)
	}

	if state.Mode == models.ModeTrade && step.RequiresTool {
		if terminalTradeTools[step.ToolName] {
			state.ConsecutiveNonTerminalTradeToolSteps = 0
		} else {
			state.ConsecutiveNonTerminalTradeToolSteps++
		}
	}

	refl, err := o.reflector.Reflect(ctx, state, exec)
	if err != nil {
		state.AddWarning(fmt.Sprintf("reflection failed: %v", err))
		return
	}
	Apply(state, refl)

	if allowRevision && retried != nil && ShouldRevise(refl, !exec.Result.Success) && state.Plan.RevisionCount < maxPlanRevisions {
		revised, err := o.planner.RevisePlan(ctx, state.Plan, refl.RevisionReason, &exec.Result, step.ID)
		if err != nil {
			state.AddWarning(fmt.Sprintf("plan revision failed: %v", err))
		}
		if revised != nil {
			state.Plan = revised
		}
	}
}

// handleFailure classifies the failure, records an incident, and injects
// remediation plus a retry step (once per step); otherwise the error lands
// in the plan blockers.
func (o *Orchestrator) handleFailure(ctx context.Context, state *models.AgentState, step *models.PlanStep, exec *models.ToolExecution, retried map[string]bool) {
	_ = state.Plan.MarkStep(step.ID, models.StepStatusFailed)
	step.Error = exec.Result.Error

	blockers := trade.DetectBlockers(exec.Result.Error)
	if o.journal != nil {
		for _, b := range blockers {
			if _, err := o.journal.RecordIncident(ctx, exec.ToolName, b, exec.Result.Error); err != nil {
				o.logger.Warn("Failed to record incident", "error", err)
			}
		}
	}

	if retried == nil || retried[step.ID] {
		state.Plan.Blockers = append(state.Plan.Blockers, fmt.Sprintf("%s: %s", step.ToolName, exec.Result.Error))
		return
	}

	available := map[string]bool{}
	for _, name := range o.registry.ListNames() {
		available[name] = true
	}
	steps := trade.RemediationsFor(blockers, available)
	if len(steps) == 0 {
		state.Plan.Blockers = append(state.Plan.Blockers, fmt.Sprintf("%s: %s", step.ToolName, exec.Result.Error))
		return
	}
	retried[step.ID] = true

	var remedyIDs []string
	for i, r := range steps {
		id := fmt.Sprintf("%s-remedy-%d", step.ID, i+1)
		remedyIDs = append(remedyIDs, id)
		state.Plan.Steps = append(state.Plan.Steps, &models.PlanStep{
			ID:           id,
			Description:  r.Description,
			RequiresTool: true,
			ToolName:     r.ToolName,
			ToolInput:    map[string]any{},
			Status:       models.StepStatusPending,
		})
	}
	retryID := step.ID + "-retry"
	retried[retryID] = true
	state.Plan.Steps = append(state.Plan.Steps, &models.PlanStep{
		ID:           retryID,
		Description:  "Retry: " + step.Description,
		RequiresTool: true,
		ToolName:     step.ToolName,
		ToolInput:    step.ToolInput,
		Status:       models.StepStatusPending,
		DependsOn:    remedyIDs,
	})
}

// fragilityScan runs the one-shot pre-trade market fragility check. Never
// blocks the run on failure.
func (o *Orchestrator) fragilityScan(ctx context.Context, state *models.AgentState) {
	if o.toolCtx.Venue == nil {
		return
	}
	if o.cfg.Venue.FragilityOn != nil && !*o.cfg.Venue.FragilityOn {
		return
	}
	symbol := InferSymbol(state.Goal)
	if symbol == "" {
		symbol = o.cfg.Venue.DefaultSymbol()
	}
	score, err := trade.FragilityScore(ctx, o.toolCtx.Venue, symbol)
	if err != nil {
		state.AddWarning(fmt.Sprintf("fragility scan failed: %v", err))
		return
	}
	state.FragilityScore = &score
}

func (o *Orchestrator) synthesize(ctx context.Context, state *models.AgentState, modeCfg *config.ModeConfig) {
	var sb strings.Builder
	sb.WriteString("Goal: ")
	sb.WriteString(state.Goal)
	if state.MemoryContext != "" {
		sb.WriteString("\n\n")
		sb.WriteString(state.MemoryContext)
	}
	if len(state.ToolExecutions) > 0 {
		trace, _ := json.Marshal(state.ToolExecutions)
		sb.WriteString("\n\nTool results:\n")
		sb.Write(trace)
	}
	if len(state.Hypotheses) > 0 {
		h, _ := json.Marshal(state.Hypotheses)
		sb.WriteString("\n\nHypotheses: ")
		sb.Write(h)
	}
	if len(state.Assumptions) > 0 {
		a, _ := json.Marshal(state.Assumptions)
		sb.WriteString("\nAssumptions: ")
		sb.Write(a)
	}
	if state.Mode == models.ModeTrade {
		sb.WriteString("\n\nReply using exactly four sections: Action: / Book State: / Risk: / Next Action:.")
	}

	system := "Synthesize the final answer strictly from the tool results. Never claim a fill or price the trace does not show."
	if o.identity != "" {
		system = o.identity + "\n\n" + system
	}

	temperature := modeCfg.Temperature
	if temperature == 0 {
		temperature = 0.5
		if state.Mode == models.ModeTrade {
			temperature = 0.3
		}
	}

	completion, err := o.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: sb.String()},
	}, llm.Options{Temperature: temperature})
	if err != nil {
		state.AddWarning(fmt.Sprintf("synthesis failed: %v", err))
		state.Response = FallbackResponse(state)
		return
	}
	state.Response = completion.Content
}

func (o *Orchestrator) runCritic(ctx context.Context, state *models.AgentState) {
	fragility := ""
	if state.FragilityScore != nil {
		fragility = fmt.Sprintf("fragility score %.2f", *state.FragilityScore)
	}
	result, err := o.critic.Review(ctx, state, fragility)
	if err != nil {
		state.AddWarning(fmt.Sprintf("critic failed: %v", err))
		return
	}
	state.CriticResult = result
	if result.Approved {
		return
	}
	if result.RevisedResponse != "" {
		state.Response = result.RevisedResponse
		return
	}
	state.Response = FallbackResponse(state)
}

func (o *Orchestrator) terminalToolObserved(state *models.AgentState) bool {
	for _, exec := range state.ToolExecutions {
		if terminalTradeTools[exec.ToolName] && !exec.Cached {
			return true
		}
	}
	return false
}

func (o *Orchestrator) writeAudit(ctx context.Context, state *models.AgentState) {
	if o.journal == nil {
		return
	}
	audit := &models.DecisionAudit{
		SessionID:      state.SessionID,
		Mode:           state.Mode,
		Goal:           state.Goal,
		Symbol:         InferSymbol(state.Goal),
		Confidence:     state.Confidence,
		FragilityScore: state.FragilityScore,
		Iterations:     state.Iteration,
		ToolTrace:      state.ToolExecutions,
		PlanTrace:      state.Plan,
	}
	a := collectOrderAttempts(state)
	switch {
	case a.executed > 0:
		audit.TradeAction = "place_order"
		audit.TradeOutcome = "executed"
	case len(a.failed) > 0:
		audit.TradeAction = "place_order"
		audit.TradeOutcome = "failed"
	}
	if state.CriticResult != nil {
		approved := state.CriticResult.Approved
		audit.CriticApproved = &approved
		audit.CriticIssues = state.CriticResult.Issues
	}
	for _, exec := range state.ToolExecutions {
		audit.ToolCalls = append(audit.ToolCalls, exec.ToolName)
	}
	if err := o.journal.AppendAudit(ctx, audit); err != nil {
		o.logger.Warn("Failed to write decision audit", "error", err)
	}
}

func (o *Orchestrator) hasFatal(state *models.AgentState) bool {
	for _, e := range state.Errors {
		if strings.Contains(strings.ToLower(e), "fatal") || e == "cancelled" {
			return true
		}
	}
	return false
}

func (o *Orchestrator) summary(state *models.AgentState) string {
	executed := 0
	for _, exec := range state.ToolExecutions {
		if exec.Result.Success && !exec.Cached {
			executed++
		}
	}
	return fmt.Sprintf("mode=%s iterations=%d tools=%d warnings=%d", state.Mode, state.Iteration, executed, len(state.Warnings))
}

func cloneWith(input map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(input)+1)
	for k, v := range input {
		out[k] = v
	}
	out[key] = value
	return out
}
