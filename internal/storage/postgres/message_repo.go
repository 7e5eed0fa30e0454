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
var _ chat.MessageStore = (*MessageRepository)(nil)

// MessageRepository implements chat.MessageStore with PostgreSQL.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a MessageRepository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append persists one message. In the same transaction it assigns the
// next per-conversation seq_num and bumps the parent's updated_at, so
// a stored message always has a live, freshly-touched parent.
func (r *MessageRepository) Append(ctx context.Context, conversationID uuid.UUID, role chat.Role, content string) (*chat.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent ConversationModel
		err := tx.Where("id = ?", conversationID).First(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("loading parent conversation: %w", err)
		}

		var maxSeq int
		err = tx.Model(&MessageModel{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		model = toMessageModel(conversationID, maxSeq+1, role, content)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		err = tx.Model(&parent).Update("updated_at", time.Now().UTC()).Error
		if err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toMessage(&model), nil
}

// Window returns the limit most recent messages, reordered oldest-first.
func (r *MessageRepository) Window(ctx context.Context, conversationID uuid.UUID, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = chat.DefaultHistoryLimit
	}

	// The N most recent by seq_num DESC, then reversed to ascending.
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq_num DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading conversation window: %w", err)
	}

	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}

	messages := make([]chat.Message, len(models))
	for i := range models {
		messages[i] = *toMessage(&models[i])
	}
	return messages, nil
}
