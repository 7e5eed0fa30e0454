// Package llm defines the provider-agnostic interface for the remote
// conversational agent.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimited classifies an agent failure as retryable. Provider
// clients wrap it when the upstream API reports a rate-limit condition
// (HTTP 429 or an equivalent error type). The caller is expected to
// back off and resubmit; no provider retries internally.
var ErrRateLimited = errors.New("agent rate limited")

// Provider is the abstraction over any LLM backend (OpenAI, Anthropic,
// Ollama, ...). It is a stateless function from ordered history to a
// single reply.
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its reply.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request is a full conversation sent to the LLM, oldest message first.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Message is a single turn in the conversation history.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens"
}

// Usage tracks token consumption for metrics.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
