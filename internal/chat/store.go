package chat

import (
	"context"

	"github.com/google/uuid"
)

// ConversationStore is the lifecycle and ownership registry for
// conversations. Every owner-scoped method reports ErrNotFound for
// conversations that are absent or owned by a different user.
type ConversationStore interface {
	// ResolveOrCreate returns the conversation with the given id if it
	// exists and belongs to userID. In every other case (id is uuid.Nil,
	// unknown, or owned by someone else) a fresh untitled conversation is
	// created for userID. The fallback is a convenience policy: callers
	// needing hard not-found semantics must use GetByID.
	ResolveOrCreate(ctx context.Context, userID string, id uuid.UUID) (*Conversation, error)

	// GetByID returns the conversation only if it belongs to userID.
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*Conversation, error)

	// List returns the user's conversations ordered by UpdatedAt
	// descending, ties broken by id for determinism.
	List(ctx context.Context, userID string) ([]Conversation, error)

	// Create persists a new conversation with an optional title.
	Create(ctx context.Context, userID, title string) (*Conversation, error)

	// Rename sets the title and bumps UpdatedAt.
	Rename(ctx context.Context, userID string, id uuid.UUID, title string) (*Conversation, error)

	// SetAutoTitle sets the title only if the conversation is currently
	// untitled, truncating to MaxTitleChars. Idempotent once any title
	// exists. No ownership check: callers have validated ownership
	// upstream.
	SetAutoTitle(ctx context.Context, id uuid.UUID, title string) error

	// Delete removes the conversation and, in the same transaction, all
	// of its messages.
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

// MessageStore is the append-only log of turns scoped to a conversation.
type MessageStore interface {
	// Append persists a message and, in the same transaction, bumps the
	// parent conversation's UpdatedAt and assigns the next SeqNum.
	// Returns ErrNotFound if the parent conversation does not exist.
	Append(ctx context.Context, conversationID uuid.UUID, role Role, content string) (*Message, error)

	// Window returns at most limit most-recent messages, oldest first.
	// It is a sliding window over the tail of the conversation. limit <= 0
	// falls back to DefaultHistoryLimit.
	Window(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error)
}
