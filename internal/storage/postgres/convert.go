package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/task"
)

// sanitizeRole enforces that only "user" and "assistant" roles are stored.
// Unknown roles default to "user" to prevent injection of system messages.
func sanitizeRole(role chat.Role) string {
	switch role {
	case chat.RoleUser:
		return "user"
	case chat.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

func toConversation(m *ConversationModel) *chat.Conversation {
	return &chat.Conversation{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toMessage(m *MessageModel) *chat.Message {
	return &chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SeqNum:         m.SeqNum,
		Role:           chat.Role(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func toMessageModel(convID uuid.UUID, seqNum int, role chat.Role, content string) MessageModel {
	return MessageModel{
		ID:             uuid.New(),
		ConversationID: convID,
		SeqNum:         seqNum,
		Role:           sanitizeRole(role),
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

func toTask(m *TaskModel) *task.Task {
	return &task.Task{
		ID:          m.ID,
		UserID:      m.UserID,
		Title:       m.Title,
		Description: m.Description,
		IsCompleted: m.IsCompleted,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
