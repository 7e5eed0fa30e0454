package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jkaninda/soga/internal/llm"
)

// Turn is the durable outcome of one chat exchange.
type Turn struct {
	Conversation *Conversation
	UserMessage  *Message
	Reply        *Message
}

// Orchestrator runs the chat turn sequence: it resolves the target
// conversation, persists the user's message, assembles the context
// window, calls the agent, and persists the reply. It holds no state
// between turns; everything durable lives behind the store interfaces.
type Orchestrator struct {
	conversations ConversationStore
	messages      MessageStore
	provider      llm.Provider
	systemPrompt  string
	historyLimit  int
	maxTokens     int
	logger        *slog.Logger
}

// Config wires an Orchestrator.
type Config struct {
	Conversations ConversationStore
	Messages      MessageStore
	Provider      llm.Provider
	SystemPrompt  string
	HistoryLimit  int // <= 0 means DefaultHistoryLimit.
	MaxTokens     int
	Logger        *slog.Logger
}

// NewOrchestrator creates an orchestrator from cfg. Conversations,
// Messages and Provider are required.
func NewOrchestrator(cfg Config) *Orchestrator {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		provider:      cfg.Provider,
		systemPrompt:  cfg.SystemPrompt,
		historyLimit:  limit,
		maxTokens:     cfg.MaxTokens,
		logger:        logger,
	}
}

// RunTurn executes one exchange for userID. A zero conversationID, an
// unknown id, or an id owned by another user all resolve to a fresh
// conversation. The user's message is durable before the agent is
// called: if the agent fails, the error is returned but the user turn
// stays persisted and is part of the window on the next attempt.
func (o *Orchestrator) RunTurn(ctx context.Context, userID string, conversationID uuid.UUID, content string) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return nil, ErrContentTooLong
	}

	start := time.Now()

	conv, err := o.conversations.ResolveOrCreate(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	// Probe for emptiness before the append so the first user message
	// does not mask the first-turn condition.
	prior, err := o.messages.Window(ctx, conv.ID, 1)
	if err != nil {
		return nil, fmt.Errorf("probing conversation history: %w", err)
	}
	firstTurn := len(prior) == 0

	userMsg, err := o.messages.Append(ctx, conv.ID, RoleUser, content)
	if err != nil {
		return nil, fmt.Errorf("storing user message: %w", err)
	}

	window, err := o.messages.Window(ctx, conv.ID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading context window: %w", err)
	}

	resp, err := o.provider.SendMessage(ctx, o.buildRequest(window))
	if err != nil {
		// The user turn is already durable; the caller can resubmit
		// into the same conversation.
		return nil, fmt.Errorf("agent request: %w", err)
	}

	reply, err := o.messages.Append(ctx, conv.ID, RoleAssistant, resp.Content)
	if err != nil {
		return nil, fmt.Errorf("storing assistant message: %w", err)
	}

	if firstTurn {
		if err := o.conversations.SetAutoTitle(ctx, conv.ID, autoTitle(content)); err != nil {
			// Titling is cosmetic; the exchange already succeeded.
			o.logger.WarnContext(ctx, "auto-title failed",
				slog.String("conversation_id", conv.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	o.logger.InfoContext(ctx, "chat turn completed",
		slog.String("conversation_id", conv.ID.String()),
		slog.String("user_id", userID),
		slog.String("provider", o.provider.Name()),
		slog.Int("window_size", len(window)),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.Duration("duration", time.Since(start)),
	)

	return &Turn{Conversation: conv, UserMessage: userMsg, Reply: reply}, nil
}

func (o *Orchestrator) buildRequest(window []Message) *llm.Request {
	msgs := make([]llm.Message, len(window))
	for i, m := range window {
		msgs[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}
	return &llm.Request{
		SystemPrompt: o.systemPrompt,
		Messages:     msgs,
		MaxTokens:    o.maxTokens,
	}
}

// autoTitle derives a conversation title from the first user message:
// the first AutoTitleChars characters, trimmed, with an ellipsis
// appended when the message was longer.
func autoTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= AutoTitleChars {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(string(runes[:AutoTitleChars])) + "..."
}
