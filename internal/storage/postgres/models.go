package postgres

import (
	"time"

	"github.com/google/uuid"
)

// ConversationModel maps to the "conversations" table.
type ConversationModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index:idx_conv_user"`
	Title     string    `gorm:"size:100"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageModel maps to the "messages" table. SeqNum is assigned
// per-conversation inside the append transaction and is the ordering key.
// The unique composite index keeps the key exact under concurrent appends.
type MessageModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_msg_conv_seq"`
	SeqNum         int       `gorm:"not null;uniqueIndex:idx_msg_conv_seq"`
	Role           string    `gorm:"size:20;not null"`
	Content        string    `gorm:"type:text"`
	CreatedAt      time.Time
}

func (MessageModel) TableName() string { return "messages" }

// TaskModel maps to the "tasks" table.
type TaskModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"not null;index:idx_task_user"`
	Title       string    `gorm:"size:200;not null"`
	Description string    `gorm:"size:2000"`
	IsCompleted bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (TaskModel) TableName() string { return "tasks" }
