package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/soga/internal/chat"
)

// Compile-time interface check.
var _ chat.ConversationStore = (*ConversationRepository)(nil)

// ConversationRepository implements chat.ConversationStore with PostgreSQL.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// ResolveOrCreate returns the conversation if it exists and belongs to
// userID. A zero id, an unknown id, or an id owned by another user all
// fall through to creating a fresh untitled conversation; the caller
// never sees a not-found here.
func (r *ConversationRepository) ResolveOrCreate(ctx context.Context, userID string, id uuid.UUID) (*chat.Conversation, error) {
	if id != uuid.Nil {
		var existing ConversationModel
		err := r.db.WithContext(ctx).
			Scopes(OwnerScope(userID)).
			Where("id = ?", id).
			First(&existing).Error
		if err == nil {
			return toConversation(&existing), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("looking up conversation: %w", err)
		}
	}
	return r.Create(ctx, userID, "")
}

// GetByID returns the conversation only if it belongs to userID.
func (r *ConversationRepository) GetByID(ctx context.Context, userID string, id uuid.UUID) (*chat.Conversation, error) {
	var model ConversationModel
	err := r.db.WithContext(ctx).
		Scopes(OwnerScope(userID)).
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	return toConversation(&model), nil
}

// List returns the user's conversations, most recently active first.
func (r *ConversationRepository) List(ctx context.Context, userID string) ([]chat.Conversation, error) {
	var models []ConversationModel
	err := r.db.WithContext(ctx).
		Scopes(OwnerScope(userID)).
		Order("updated_at DESC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	out := make([]chat.Conversation, len(models))
	for i := range models {
		out[i] = *toConversation(&models[i])
	}
	return out, nil
}

// Create persists a new conversation.
func (r *ConversationRepository) Create(ctx context.Context, userID, title string) (*chat.Conversation, error) {
	now := time.Now().UTC()
	model := ConversationModel{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return toConversation(&model), nil
}

// Rename sets the title and bumps updated_at.
func (r *ConversationRepository) Rename(ctx context.Context, userID string, id uuid.UUID, title string) (*chat.Conversation, error) {
	var model ConversationModel
	err := r.db.WithContext(ctx).
		Scopes(OwnerScope(userID)).
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	now := time.Now().UTC()
	err = r.db.WithContext(ctx).
		Model(&model).
		Updates(map[string]any{"title": title, "updated_at": now}).Error
	if err != nil {
		return nil, fmt.Errorf("renaming conversation: %w", err)
	}

	model.Title = title
	model.UpdatedAt = now
	return toConversation(&model), nil
}

// SetAutoTitle sets the title only if the conversation is still
// untitled. A single conditional UPDATE keeps concurrent first turns
// from overwriting each other's title.
func (r *ConversationRepository) SetAutoTitle(ctx context.Context, id uuid.UUID, title string) error {
	runes := []rune(title)
	if len(runes) > chat.MaxTitleChars {
		title = string(runes[:chat.MaxTitleChars])
	}

	err := r.db.WithContext(ctx).
		Model(&ConversationModel{}).
		Where("id = ? AND (title IS NULL OR title = '')", id).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("setting auto title: %w", err)
	}
	return nil
}

// Delete removes the conversation and all its messages in one transaction.
func (r *ConversationRepository) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ConversationModel
		err := tx.Scopes(OwnerScope(userID)).Where("id = ?", id).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}

		// Delete messages first (no FK cascade in GORM AutoMigrate by default).
		if err := tx.Where("conversation_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting conversation messages: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&ConversationModel{}).Error; err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		return nil
	})
}

// PurgeIdleBefore deletes every conversation whose updated_at is before
// cutoff, along with its messages. Returns the number of conversations
// removed.
func (r *ConversationRepository) PurgeIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		err := tx.Model(&ConversationModel{}).
			Where("updated_at < ?", cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("selecting idle conversations: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("conversation_id IN ?", ids).Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting idle conversation messages: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&ConversationModel{})
		if res.Error != nil {
			return fmt.Errorf("deleting idle conversations: %w", res.Error)
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}
