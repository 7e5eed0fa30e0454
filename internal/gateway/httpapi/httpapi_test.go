package httpapi

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/task"
)

func TestDetailLimitMatchesHistoryWindow(t *testing.T) {
	if detailMessageLimit != chat.DefaultHistoryLimit {
		t.Errorf("detail endpoints must show the agent's window, got %d want %d",
			detailMessageLimit, chat.DefaultHistoryLimit)
	}
}

func TestTurnStatus(t *testing.T) {
	if got := turnStatus(nil); got != "success" {
		t.Errorf("turnStatus(nil) = %q", got)
	}
	if got := turnStatus(chat.ErrEmptyMessage); got != "error" {
		t.Errorf("turnStatus(err) = %q", got)
	}
}

func TestToConversationDetail(t *testing.T) {
	convID := uuid.New()
	now := time.Now().UTC()
	conv := &chat.Conversation{
		ID:        convID,
		UserID:    "alice",
		Title:     "Trip planning",
		CreatedAt: now,
		UpdatedAt: now,
	}
	msgs := []chat.Message{
		{ID: uuid.New(), ConversationID: convID, SeqNum: 1, Role: chat.RoleUser, Content: "hi"},
		{ID: uuid.New(), ConversationID: convID, SeqNum: 2, Role: chat.RoleAssistant, Content: "hello"},
	}

	detail := toConversationDetail(conv, msgs)
	if detail.ID != convID.String() {
		t.Errorf("id = %q, want %q", detail.ID, convID)
	}
	if detail.Title != "Trip planning" {
		t.Errorf("title = %q", detail.Title)
	}
	if len(detail.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(detail.Messages))
	}
	if detail.Messages[0].Role != "user" || detail.Messages[0].SeqNum != 1 {
		t.Errorf("first message = %+v", detail.Messages[0])
	}
	if detail.Messages[1].Role != "assistant" || detail.Messages[1].Content != "hello" {
		t.Errorf("second message = %+v", detail.Messages[1])
	}
}

func TestToConversationSummary_UntitledOmitsTitle(t *testing.T) {
	conv := &chat.Conversation{ID: uuid.New(), UserID: "alice"}
	summary := toConversationSummary(conv)
	if summary.Title != "" {
		t.Errorf("title = %q, want empty for untitled", summary.Title)
	}
}

func TestToTaskResponse(t *testing.T) {
	id := uuid.New()
	now := time.Now().UTC()
	resp := toTaskResponse(&task.Task{
		ID:          id,
		UserID:      "alice",
		Title:       "Buy milk",
		Description: "2 liters",
		IsCompleted: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if resp.ID != id.String() {
		t.Errorf("id = %q, want %q", resp.ID, id)
	}
	if resp.Title != "Buy milk" || resp.Description != "2 liters" {
		t.Errorf("response = %+v", resp)
	}
	if !resp.IsCompleted {
		t.Error("is_completed not carried over")
	}
}
