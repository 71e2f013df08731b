// Package llm defines the chat-completion interface the core depends on,
// plus the OpenAI-compatible default implementation.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
	TimeoutMs   int
}

// Completion is the model's reply.
type Completion struct {
	Content string
}

// Client is the minimal LLM surface the orchestrator consumes. Concrete
// backends live behind it; the core never imports a vendor SDK directly.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error)
}
