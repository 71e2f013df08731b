package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	openailib "github.com/sashabaranov/go-openai"

	"github.com/quantfold/perpd/pkg/config"
)

// OpenAIClient implements Client over any OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	client      *openailib.Client
	model       string
	maxTokens   int
	timeout     time.Duration
	maxAttempts int
}

// NewOpenAIClient builds a client from configuration. The API key is read
// from the environment variable named by cfg.APIKeyEnv.
func NewOpenAIClient(cfg *config.LLMConfig) (*OpenAIClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is nil")
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key not set: %s is empty", keyEnv)
	}

	clientConfig := openailib.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &OpenAIClient{
		client:      openailib.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		maxAttempts: attempts,
	}, nil
}

// Complete sends the conversation and returns the first choice. Transient
// failures are retried with linear backoff up to the configured attempts.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	timeout := c.timeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	openaiMsgs := make([]openailib.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		openaiMsgs[i] = openailib.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openailib.ChatCompletionRequest{
		Model:       c.model,
		Messages:    openaiMsgs,
		Temperature: float32(opts.Temperature),
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	var resp openailib.ChatCompletionResponse
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, lastErr = c.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if attempt < c.maxAttempts {
			wait := time.Duration(attempt) * time.Second
			slog.Warn("LLM call failed, retrying",
				"attempt", attempt, "max_attempts", c.maxAttempts, "error", lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("LLM call failed after %d attempts: %w", c.maxAttempts, lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from LLM")
	}

	return &Completion{Content: resp.Choices[0].Message.Content}, nil
}
