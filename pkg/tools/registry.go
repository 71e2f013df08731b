// Package tools provides the tool registry: definitions, execution with
// caching and confirmation, dynamic input resolution, and the built-in
// venue/memory tool set.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/perpd/pkg/config"
	"github.com/quantfold/perpd/pkg/journal"
	"github.com/quantfold/perpd/pkg/limiter"
	"github.com/quantfold/perpd/pkg/models"
	"github.com/quantfold/perpd/pkg/trade"
	"github.com/quantfold/perpd/pkg/venue"
)

// ConfirmationFunc asks the user to approve a mutating tool call.
type ConfirmationFunc func(ctx context.Context, toolName string, input map[string]any) (bool, error)

// Context carries the collaborators tools execute against.
type Context struct {
	Config   *config.Config
	Venue    venue.Client
	Executor *trade.Executor
	Limiter  *limiter.Limiter
	Journal  *journal.Service

	// Optional collaborators.
	OnConfirmation ConfirmationFunc
	Intel          func(ctx context.Context, query string) (any, error)
	Knowledge      func(ctx context.Context, query string) (any, error)
}

// Definition describes one tool. Execute must return the
// {success, data | error} shape and nothing else.
type Definition struct {
	Name                 string
	Description          string
	Category             string
	InputSchema          map[string]any
	SideEffects          bool
	RequiresConfirmation bool
	CacheTTL             time.Duration
	Execute              func(ctx context.Context, input map[string]any, tc *Context) models.ToolResult
}

type cacheEntry struct {
	result    models.ToolResult
	expiresAt time.Time
}

// Registry holds tool definitions and the read-tool result cache.
type Registry struct {
	mu    sync.Mutex
	defs  map[string]*Definition
	order []string
	cache map[string]cacheEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:  make(map[string]*Definition),
		cache: make(map[string]cacheEntry),
	}
}

// Register adds a definition. Duplicate names are a programming error.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		panic(fmt.Sprintf("tools.Register: duplicate tool %q", def.Name))
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
}

// ListNames returns registered tool names in registration order.
func (r *Registry) ListNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	return def, ok
}

// LLMSchemas returns name/description/schema tuples for prompt assembly.
func (r *Registry) LLMSchemas() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		out = append(out, map[string]any{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": def.InputSchema,
		})
	}
	return out
}

// Execute runs a tool and records the execution. Side-effect-free tools
// with a positive cache TTL are memoized on (name, canonical input JSON);
// confirmation-gated tools await the context's confirmation callback.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any, tc *Context) *models.ToolExecution {
	start := time.Now()
	exec := &models.ToolExecution{
		ToolName:  name,
		Input:     input,
		Timestamp: start.UTC(),
	}

	def, ok := r.Get(name)
	if !ok {
		exec.Result = models.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}
		exec.DurationMs = time.Since(start).Milliseconds()
		return exec
	}

	cacheKey := ""
	if def.CacheTTL > 0 && !def.SideEffects {
		cacheKey = r.cacheKey(name, input)
		if result, hit := r.cacheGet(cacheKey); hit {
			exec.Result = result
			exec.Cached = true
			exec.DurationMs = time.Since(start).Milliseconds()
			return exec
		}
	}

	if def.RequiresConfirmation && tc != nil && tc.OnConfirmation != nil {
		approved, err := tc.OnConfirmation(ctx, name, input)
		if err != nil {
			exec.Result = models.ToolResult{Success: false, Error: fmt.Sprintf("confirmation failed: %v", err)}
			exec.DurationMs = time.Since(start).Milliseconds()
			return exec
		}
		if !approved {
			exec.Result = models.ToolResult{Success: false, Error: "User declined"}
			exec.DurationMs = time.Since(start).Milliseconds()
			return exec
		}
	}

	exec.Result = def.Execute(ctx, input, tc)
	exec.DurationMs = time.Since(start).Milliseconds()

	if cacheKey != "" && exec.Result.Success {
		r.cachePut(cacheKey, exec.Result, def.CacheTTL)
	}
	return exec
}

// cacheKey builds the canonical cache key. encoding/json sorts map keys,
// so equal inputs serialize identically.
func (r *Registry) cacheKey(name string, input map[string]any) string {
	data, err := json.Marshal(input)
	if err != nil {
		// Unmarshalable inputs get a per-call key (never cached together).
		keys := make([]string, 0, len(input))
		for k := range input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("%s|unmarshalable|%v|%d", name, keys, time.Now().UnixNano())
	}
	return name + "|" + string(data)
}

func (r *Registry) cacheGet(key string) (models.ToolResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return models.ToolResult{}, false
	}
	if time.Now().After(entry.expiresAt) {
		// Lazy eviction.
		delete(r.cache, key)
		return models.ToolResult{}, false
	}
	return entry.result, true
}

func (r *Registry) cachePut(key string, result models.ToolResult, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{result: result, expiresAt: time.Now().Add(ttl)}
}
