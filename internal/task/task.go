// Package task defines the to-do item domain. Tasks are owner-scoped
// exactly like conversations: every query filters by user and reports
// ErrNotFound for absent or foreign-owned items alike.
package task

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxTitleChars is the maximum task title length.
	MaxTitleChars = 200
	// MaxDescriptionChars is the maximum task description length.
	MaxDescriptionChars = 2000
)

// Task is a single to-do item owned by one user.
type Task struct {
	ID          uuid.UUID
	UserID      string
	Title       string
	Description string
	IsCompleted bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	ErrEmptyTitle         = errors.New("task title is empty")
	ErrTitleTooLong       = errors.New("task title exceeds maximum length")
	ErrDescriptionTooLong = errors.New("task description exceeds maximum length")
	ErrNotFound           = errors.New("task not found")
)

// ValidateTitle checks a user-supplied task title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleChars {
		return ErrTitleTooLong
	}
	return nil
}

// ValidateDescription checks a user-supplied task description.
func ValidateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionChars {
		return ErrDescriptionTooLong
	}
	return nil
}

// Update carries the mutable fields of a task. Nil pointers leave the
// corresponding field unchanged.
type Update struct {
	Title       *string
	Description *string
	IsCompleted *bool
}

// Store is the persistence boundary for tasks.
type Store interface {
	// Create persists a new incomplete task.
	Create(ctx context.Context, userID, title, description string) (*Task, error)

	// List returns the user's tasks, newest first.
	List(ctx context.Context, userID string) ([]Task, error)

	// GetByID returns the task only if it belongs to userID.
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*Task, error)

	// Update applies the non-nil fields and bumps UpdatedAt.
	Update(ctx context.Context, userID string, id uuid.UUID, upd Update) (*Task, error)

	// Toggle flips IsCompleted and bumps UpdatedAt.
	Toggle(ctx context.Context, userID string, id uuid.UUID) (*Task, error)

	// Delete removes the task.
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}
