// Package chat defines the conversation domain types and the turn
// orchestration core. Persistence and the remote agent are consumed
// through interfaces; this package holds no state of its own.
package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// MaxTitleChars is the maximum conversation title length.
	MaxTitleChars = 100
	// MaxContentChars is the maximum message content length.
	MaxContentChars = 10000
	// DefaultHistoryLimit caps the context window sent to the agent.
	DefaultHistoryLimit = 50
	// AutoTitleChars is the number of characters of the first user
	// message used to derive a conversation title.
	AutoTitleChars = 50
)

// Conversation is a chat session owned by exactly one user.
// UpdatedAt is bumped on every message append and title change.
type Conversation struct {
	ID        uuid.UUID
	UserID    string
	Title     string // Empty = untitled.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single immutable turn in a conversation.
// SeqNum is assigned monotonically per conversation and is the
// ordering key; CreatedAt is retained for display only.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SeqNum         int
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// Validation errors. Recoverable by resubmission, no state change.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
	ErrEmptyTitle     = errors.New("title is empty")
	ErrTitleTooLong   = errors.New("title exceeds maximum length")
)

// ErrNotFound reports an absent conversation. Absence and foreign
// ownership are deliberately indistinguishable to callers.
var ErrNotFound = errors.New("conversation not found")

// ValidateTitle checks a user-supplied conversation title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleChars {
		return ErrTitleTooLong
	}
	return nil
}
