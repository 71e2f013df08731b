package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/perpd/pkg/config"
	"github.com/quantfold/perpd/pkg/llm"
	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/tools"
)

// scriptedLLM routes each completion call by the system prompt of the stage
// that issued it and replies with the scripted content for that stage.
type scriptedLLM struct {
	planJSON       string
	reviseJSON     string
	resolveJSON    string
	reflectionJSON string
	synthesisText  string
	criticJSON     string

	planErr error

	mu    sync.Mutex
	calls map[string]int
}

func (s *scriptedLLM) count(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[stage]++
}

func (s *scriptedLLM) callCount(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func orElse(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (s *scriptedLLM) Complete(_ context.Context, messages []llm.Message, _ llm.Options) (*llm.Completion, error) {
	system := messages[0].Content
	switch {
	case strings.Contains(system, "trading-agent planner"):
		s.count("plan")
		if s.planErr != nil {
			return nil, s.planErr
		}
		return &llm.Completion{Content: s.planJSON}, nil
	case strings.Contains(system, "revise trading-agent plans"):
		s.count("revise")
		return &llm.Completion{Content: s.reviseJSON}, nil
	case strings.Contains(system, "resolve tool-call parameters"):
		s.count("resolve")
		return &llm.Completion{Content: orElse(s.resolveJSON, "{}")}, nil
	case strings.Contains(system, "reflection stage"):
		s.count("reflect")
		return &llm.Completion{Content: orElse(s.reflectionJSON, `{"confidence_change": 0, "suggest_revision": false}`)}, nil
	case strings.Contains(system, "critic stage"):
		s.count("critic")
		return &llm.Completion{Content: orElse(s.criticJSON, `{"approved": true}`)}, nil
	default:
		s.count("synthesize")
		return &llm.Completion{Content: orElse(s.synthesisText, "Analysis complete.")}, nil
	}
}

// orderRecorder captures perp_place_order inputs observed by the stub tool.
type orderRecorder struct {
	mu     sync.Mutex
	inputs []map[string]any
}

func (o *orderRecorder) record(input map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inputs = append(o.inputs, input)
}

func (o *orderRecorder) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inputs)
}

func (o *orderRecorder) last() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.inputs) == 0 {
		return nil
	}
	return o.inputs[len(o.inputs)-1]
}

func readStub(name string, data map[string]any) *tools.Definition {
	return &tools.Definition{
		Name: name,
		Execute: func(_ context.Context, _ map[string]any, _ *tools.Context) models.ToolResult {
			return models.ToolResult{Success: true, Data: data}
		},
	}
}

func testRegistry(orders *orderRecorder) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(readStub("tools.list", map[string]any{"tools": []string{}}))
	r.Register(readStub("get_portfolio", map[string]any{"account_value": 10000.0}))
	r.Register(readStub("perp_open_orders", map[string]any{"orders": []any{}}))
	r.Register(readStub("perp_trade_journal_list", map[string]any{"entries": []any{}}))
	r.Register(readStub("trade_review", map[string]any{"reviews": []any{}}))
	r.Register(readStub("intel_search", map[string]any{"results": []any{}}))
	r.Register(&tools.Definition{
		Name:        tools.ToolPlaceOrder,
		SideEffects: true,
		Execute: func(_ context.Context, input map[string]any, _ *tools.Context) models.ToolResult {
			orders.record(input)
			return models.ToolResult{Success: true, Data: map[string]any{"avg_price": 65000.0}}
		},
	})
	r.Register(&tools.Definition{
		Name:        tools.ToolCancelOrder,
		SideEffects: true,
		Execute: func(_ context.Context, _ map[string]any, _ *tools.Context) models.ToolResult {
			return models.ToolResult{Success: true}
		},
	})
	return r
}

func newTestOrchestrator(client llm.Client, registry *tools.Registry) *Orchestrator {
	cfg := config.DefaultConfig()
	return NewOrchestrator(cfg, client, registry, &tools.Context{Config: cfg}, nil)
}

func TestRunExecutesAutonomousTradeGoal(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON: `{"goal": "Buy BTC perp autonomously", "confidence": 0.8, "steps": [
			{"id": "step-1", "description": "Check the portfolio", "requires_tool": true, "tool_name": "get_portfolio", "tool_input": {}}
		]}`,
		resolveJSON: `{"symbol": "BTC", "side": "buy", "size": 0.01}`,
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "Buy BTC perp autonomously", RunOptions{})

	require.True(t, result.Success)
	assert.Equal(t, models.ModeTrade, result.State.Mode)

	// The plan had no terminal step; the contract injected the read chain
	// plus a placeholder order which the resolver made concrete.
	require.Equal(t, 1, orders.count())
	placed := orders.last()
	assert.Equal(t, "BTC", placed["symbol"])
	assert.Equal(t, "buy", placed["side"])
	assert.NotEmpty(t, placed["cloid"])

	assert.True(t, result.State.Plan.Complete)
	assert.Contains(t, result.Response, "I executed 1 perp order(s).")
	for _, header := range []string{"Action:", "Book State:", "Risk:", "Next Action:"} {
		assert.Contains(t, result.Response, header)
	}
	assert.Positive(t, script.callCount("critic"))
}

func TestRunRetrospectiveGoalNeverTrades(t *testing.T) {
	orders := &orderRecorder{}
	// The model wrongly plans an order for a retrospective question.
	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.7, "steps": [
			{"id": "step-1", "description": "Review the journal", "requires_tool": true, "tool_name": "perp_trade_journal_list", "tool_input": {}},
			{"id": "step-2", "description": "Close it again", "requires_tool": true, "tool_name": "perp_place_order", "tool_input": {"symbol": "BTC", "side": "sell", "size": 0.01}, "depends_on": ["step-1"]}
		]}`,
		synthesisText: "The position was closed because its invalidation price was hit.",
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "Why did you close the previous BTC long?", RunOptions{})

	require.True(t, result.Success)
	assert.Equal(t, models.ModeTrade, result.State.Mode)
	assert.Zero(t, orders.count())

	// The mutating step was consumed as a synthetic skip.
	step := result.State.Plan.Step("step-2")
	require.NotNil(t, step)
	assert.Equal(t, models.StepStatusSkipped, step.Status)

	var skipped *models.ToolExecution
	for _, exec := range result.State.ToolExecutions {
		if exec.ToolName == tools.ToolPlaceOrder {
			skipped = exec
		}
	}
	require.NotNil(t, skipped)
	assert.True(t, skipped.Cached)
	data, ok := skipped.Result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["skipped"])

	// No contract enforcement without an executed or intended trade.
	assert.Equal(t, "The position was closed because its invalidation price was hit.", result.Response)
}

func TestRunRetrospectivePrefetchesJournal(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.7, "steps": [
			{"id": "step-1", "description": "Summarize findings", "requires_tool": false}
		]}`,
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "Why did you close the previous BTC long?", RunOptions{})

	var prefetched []string
	for _, exec := range result.State.ToolExecutions {
		prefetched = append(prefetched, exec.ToolName)
	}
	assert.Contains(t, prefetched, "perp_trade_journal_list")
	assert.Contains(t, prefetched, "trade_review")
}

func TestRunSkipsToolsListForUnrelatedGoals(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.7, "steps": [
			{"id": "step-1", "description": "Enumerate capabilities", "requires_tool": true, "tool_name": "tools.list", "tool_input": {}},
			{"id": "step-2", "description": "Check the portfolio", "requires_tool": true, "tool_name": "get_portfolio", "tool_input": {}}
		]}`,
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "What is my BTC position worth?", RunOptions{})
	require.True(t, result.Success)

	step := result.State.Plan.Step("step-1")
	require.NotNil(t, step)
	assert.Equal(t, models.StepStatusSkipped, step.Status)

	// The synthetic skip still surfaces the available tool names.
	exec := result.State.ToolExecutions[0]
	assert.Equal(t, "tools.list", exec.ToolName)
	assert.True(t, exec.Cached)
}

func TestRunAnalysisGoalHasNoCritic(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.7, "steps": [
			{"id": "step-1", "description": "Search intel", "requires_tool": true, "tool_name": "intel_search", "tool_input": {"query": "macro calendar"}}
		]}`,
		synthesisText: "Quiet week ahead.",
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "Summarize the macro calendar for this week", RunOptions{})

	require.True(t, result.Success)
	assert.Equal(t, models.ModeAnalysis, result.State.Mode)
	assert.Equal(t, "Quiet week ahead.", result.Response)
	assert.Zero(t, script.callCount("critic"))
}

func TestRunBatchesParallelReadSteps(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.7, "steps": [
			{"id": "step-1", "description": "Portfolio", "requires_tool": true, "tool_name": "get_portfolio", "tool_input": {}},
			{"id": "step-2", "description": "Open orders", "requires_tool": true, "tool_name": "perp_open_orders", "tool_input": {"symbol": "BTC"}},
			{"id": "step-3", "description": "Intel", "requires_tool": true, "tool_name": "intel_search", "tool_input": {"query": "BTC"}}
		]}`,
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "What is my BTC position worth?", RunOptions{})
	require.True(t, result.Success)

	for _, id := range []string{"step-1", "step-2", "step-3"} {
		step := result.State.Plan.Step(id)
		require.NotNil(t, step)
		assert.Equal(t, models.StepStatusComplete, step.Status, id)
	}
	// All three independent reads went through in one batch iteration; the
	// second iteration only observes the empty ready set.
	assert.Equal(t, 2, result.State.Iteration)
	assert.True(t, result.State.Plan.Complete)
}

func TestRunBatchedFailureInjectsRemediation(t *testing.T) {
	orders := &orderRecorder{}
	reg := testRegistry(orders)
	reg.Register(readStub("perp_market_list", map[string]any{"markets": []string{"BTC", "ETH"}}))

	// Fails on the first call, succeeds on the retry after remediation.
	var mu sync.Mutex
	calls := 0
	reg.Register(&tools.Definition{
		Name: "fetch_quote",
		Execute: func(_ context.Context, _ map[string]any, _ *tools.Context) models.ToolResult {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return models.ToolResult{Success: false, Error: "market unavailable: FOO"}
			}
			return models.ToolResult{Success: true, Data: map[string]any{"mid": 65000.0}}
		},
	})

	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.7, "steps": [
			{"id": "step-1", "description": "Quote", "requires_tool": true, "tool_name": "fetch_quote", "tool_input": {}},
			{"id": "step-2", "description": "Portfolio", "requires_tool": true, "tool_name": "get_portfolio", "tool_input": {}}
		]}`,
	}
	o := newTestOrchestrator(script, reg)

	result := o.Run(context.Background(), "What is my BTC position worth?", RunOptions{})
	require.True(t, result.Success)

	// The batched failure still goes through blocker classification and
	// remediation injection, exactly like a serially executed step.
	failed := result.State.Plan.Step("step-1")
	require.NotNil(t, failed)
	assert.Equal(t, models.StepStatusFailed, failed.Status)

	remedy := result.State.Plan.Step("step-1-remedy-1")
	require.NotNil(t, remedy)
	assert.Equal(t, "perp_market_list", remedy.ToolName)
	assert.Equal(t, models.StepStatusComplete, remedy.Status)

	retry := result.State.Plan.Step("step-1-retry")
	require.NotNil(t, retry)
	assert.Equal(t, "fetch_quote", retry.ToolName)
	assert.Equal(t, []string{"step-1-remedy-1"}, retry.DependsOn)
	assert.Equal(t, models.StepStatusComplete, retry.Status)

	assert.Empty(t, result.State.Plan.Blockers)
}

func TestRunCancelledContext(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.7, "steps": [
			{"id": "step-1", "description": "Portfolio", "requires_tool": true, "tool_name": "get_portfolio", "tool_input": {}}
		]}`,
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := o.Run(ctx, "What is my BTC position worth?", RunOptions{})

	assert.False(t, result.Success)
	assert.Contains(t, result.State.Errors, "cancelled")
	assert.Zero(t, script.callCount("synthesize"))
	assert.Zero(t, script.callCount("critic"))
}

func TestRunCriticRejectionFallsBack(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON: `{"goal": "q", "confidence": 0.8, "steps": [
			{"id": "step-1", "description": "Place it", "requires_tool": true, "tool_name": "perp_place_order", "tool_input": {"symbol": "BTC", "side": "buy", "size": 0.01}}
		]}`,
		synthesisText: "I filled 5 BTC at 1000.",
		criticJSON:    `{"approved": false, "issues": ["claimed fill not in trace"]}`,
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "Buy BTC perp autonomously", RunOptions{})

	require.NotNil(t, result.State.CriticResult)
	assert.False(t, result.State.CriticResult.Approved)
	assert.NotContains(t, result.Response, "I filled 5 BTC")
	assert.Contains(t, result.Response, "I executed 1 perp order(s).")
}

func TestRunPlannerFailureUsesFallbackPlan(t *testing.T) {
	orders := &orderRecorder{}
	script := &scriptedLLM{
		planJSON:      "the model rambled with no JSON at all",
		synthesisText: "Here is your portfolio summary.",
	}
	o := newTestOrchestrator(script, testRegistry(orders))

	result := o.Run(context.Background(), "Show me my portfolio balance", RunOptions{})

	require.True(t, result.Success)
	require.NotNil(t, result.State.Plan)
	require.Len(t, result.State.Plan.Steps, 1)
	assert.Equal(t, "get_portfolio", result.State.Plan.Steps[0].ToolName)
	assert.NotEmpty(t, result.State.Warnings)
}
