package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/soga/internal/llm"
)

// memStore is an in-memory implementation of both store interfaces,
// good enough to exercise the orchestrator's sequencing.
type memStore struct {
	conversations map[uuid.UUID]*Conversation
	messages      map[uuid.UUID][]Message
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[uuid.UUID]*Conversation),
		messages:      make(map[uuid.UUID][]Message),
	}
}

func (s *memStore) ResolveOrCreate(_ context.Context, userID string, id uuid.UUID) (*Conversation, error) {
	if id != uuid.Nil {
		if c, ok := s.conversations[id]; ok && c.UserID == userID {
			return c, nil
		}
	}
	return s.Create(context.Background(), userID, "")
}

func (s *memStore) GetByID(_ context.Context, userID string, id uuid.UUID) (*Conversation, error) {
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *memStore) List(_ context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, userID, title string) (*Conversation, error) {
	now := time.Now().UTC()
	c := &Conversation{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *memStore) Rename(_ context.Context, userID string, id uuid.UUID, title string) (*Conversation, error) {
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	return c, nil
}

func (s *memStore) SetAutoTitle(_ context.Context, id uuid.UUID, title string) error {
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if c.Title == "" {
		if len(title) > MaxTitleChars {
			title = title[:MaxTitleChars]
		}
		c.Title = title
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, userID string, id uuid.UUID) error {
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *memStore) Append(_ context.Context, conversationID uuid.UUID, role Role, content string) (*Message, error) {
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	m := Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SeqNum:         len(s.messages[conversationID]) + 1,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	c.UpdatedAt = m.CreatedAt
	return &m, nil
}

func (s *memStore) Window(_ context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

type stubAgent struct {
	reply   string
	err     error
	lastReq *llm.Request
	calls   int
}

func (a *stubAgent) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	a.calls++
	a.lastReq = req
	if a.err != nil {
		return nil, a.err
	}
	return &llm.Response{Content: a.reply, StopReason: "end_turn"}, nil
}

func (a *stubAgent) Name() string { return "stub" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(store *memStore, agent *stubAgent) *Orchestrator {
	return NewOrchestrator(Config{
		Conversations: store,
		Messages:      store,
		Provider:      agent,
		SystemPrompt:  "You are a helpful assistant.",
		Logger:        testLogger(),
	})
}

func TestRunTurn_NewConversation(t *testing.T) {
	store := newMemStore()
	agent := &stubAgent{reply: "Hi there!"}
	o := newTestOrchestrator(store, agent)

	turn, err := o.RunTurn(context.Background(), "alice", uuid.Nil, "Hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.Conversation.UserID != "alice" {
		t.Errorf("expected owner alice, got %q", turn.Conversation.UserID)
	}
	if turn.UserMessage.SeqNum != 1 || turn.Reply.SeqNum != 2 {
		t.Errorf("unexpected seq nums: user=%d reply=%d", turn.UserMessage.SeqNum, turn.Reply.SeqNum)
	}
	if turn.Reply.Role != RoleAssistant || turn.Reply.Content != "Hi there!" {
		t.Errorf("unexpected reply: %+v", turn.Reply)
	}
}

func TestRunTurn_ContinuesExistingConversation(t *testing.T) {
	store := newMemStore()
	agent := &stubAgent{reply: "reply"}
	o := newTestOrchestrator(store, agent)

	first, err := o.RunTurn(context.Background(), "alice", uuid.Nil, "Hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := o.RunTurn(context.Background(), "alice", first.Conversation.ID, "More")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Conversation.ID != first.Conversation.ID {
		t.Error("expected the same conversation on resubmission")
	}
	if second.UserMessage.SeqNum != 3 {
		t.Errorf("expected seq 3 for second user message, got %d", second.UserMessage.SeqNum)
	}
	// The agent must see the full ordered history including the new turn.
	if got := len(agent.lastReq.Messages); got != 3 {
		t.Fatalf("expected 3 messages in window, got %d", got)
	}
	if agent.lastReq.Messages[2].Content != "More" {
		t.Errorf("window should end with the latest user message, got %q", agent.lastReq.Messages[2].Content)
	}
}

func TestRunTurn_ForeignConversationGetsFreshOne(t *testing.T) {
	store := newMemStore()
	agent := &stubAgent{reply: "reply"}
	o := newTestOrchestrator(store, agent)

	alice, err := o.RunTurn(context.Background(), "alice", uuid.Nil, "Hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mallory, err := o.RunTurn(context.Background(), "mallory", alice.Conversation.ID, "Hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mallory.Conversation.ID == alice.Conversation.ID {
		t.Error("foreign conversation id must resolve to a fresh conversation")
	}
	if len(store.messages[alice.Conversation.ID]) != 2 {
		t.Error("alice's conversation must be untouched")
	}
}

func TestRunTurn_AutoTitle(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "short message used verbatim",
			message: "Hi there",
			want:    "Hi there",
		},
		{
			name:    "long message truncated with ellipsis",
			message: "Hello, can you help me plan a trip to Japan for two weeks in spring?",
			want:    "Hello, can you help me plan a trip to Japan for tw...",
		},
		{
			name:    "surrounding whitespace trimmed",
			message: "  Hi there  ",
			want:    "Hi there",
		},
		{
			name:    "trailing space trimmed before ellipsis",
			message: strings.Repeat("a", 49) + " boundary falls on the space",
			want:    strings.Repeat("a", 49) + "...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			o := newTestOrchestrator(store, &stubAgent{reply: "ok"})

			turn, err := o.RunTurn(context.Background(), "alice", uuid.Nil, tt.message)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := store.conversations[turn.Conversation.ID].Title; got != tt.want {
				t.Errorf("title = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunTurn_AutoTitleOnlyOnFirstTurn(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &stubAgent{reply: "ok"})

	first, err := o.RunTurn(context.Background(), "alice", uuid.Nil, "First message")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.RunTurn(context.Background(), "alice", first.Conversation.ID, "Second message"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.conversations[first.Conversation.ID].Title; got != "First message" {
		t.Errorf("title must keep the first turn's value, got %q", got)
	}
}

func TestRunTurn_Validation(t *testing.T) {
	store := newMemStore()
	agent := &stubAgent{reply: "ok"}
	o := newTestOrchestrator(store, agent)

	if _, err := o.RunTurn(context.Background(), "alice", uuid.Nil, "   \n\t "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := o.RunTurn(context.Background(), "alice", uuid.Nil, strings.Repeat("x", MaxContentChars+1)); !errors.Is(err, ErrContentTooLong) {
		t.Errorf("expected ErrContentTooLong, got %v", err)
	}
	if agent.calls != 0 {
		t.Errorf("agent must not be called on validation failure, got %d calls", agent.calls)
	}
	if len(store.conversations) != 0 {
		t.Error("no conversation may be created on validation failure")
	}
}

func TestRunTurn_AgentFailureKeepsUserTurn(t *testing.T) {
	store := newMemStore()
	agent := &stubAgent{err: fmt.Errorf("upstream exploded")}
	o := newTestOrchestrator(store, agent)

	_, err := o.RunTurn(context.Background(), "alice", uuid.Nil, "Hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	// Exactly one conversation with the durable user turn and no reply.
	if len(store.conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(store.conversations))
	}
	for id := range store.conversations {
		msgs := store.messages[id]
		if len(msgs) != 1 {
			t.Fatalf("expected 1 persisted message, got %d", len(msgs))
		}
		if msgs[0].Role != RoleUser || msgs[0].Content != "Hello" {
			t.Errorf("unexpected persisted message: %+v", msgs[0])
		}
	}
}

func TestRunTurn_RateLimitClassification(t *testing.T) {
	store := newMemStore()
	agent := &stubAgent{err: fmt.Errorf("status 429: %w", llm.ErrRateLimited)}
	o := newTestOrchestrator(store, agent)

	_, err := o.RunTurn(context.Background(), "alice", uuid.Nil, "Hello")
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("rate-limit classification must survive wrapping, got %v", err)
	}
}

func TestRunTurn_WindowTruncation(t *testing.T) {
	store := newMemStore()
	agent := &stubAgent{reply: "ok"}
	o := NewOrchestrator(Config{
		Conversations: store,
		Messages:      store,
		Provider:      agent,
		HistoryLimit:  4,
		Logger:        testLogger(),
	})

	var convID uuid.UUID
	for i := 0; i < 5; i++ {
		turn, err := o.RunTurn(context.Background(), "alice", convID, fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		convID = turn.Conversation.ID
	}

	// 10 stored messages, window capped at 4, newest last.
	if got := len(agent.lastReq.Messages); got != 4 {
		t.Fatalf("expected window of 4, got %d", got)
	}
	last := agent.lastReq.Messages[3]
	if last.Role != llm.RoleUser || last.Content != "message 4" {
		t.Errorf("window should end with the latest user message, got %+v", last)
	}
}

func TestAutoTitleBoundary(t *testing.T) {
	exact := strings.Repeat("a", AutoTitleChars)
	if got := autoTitle(exact); got != exact {
		t.Errorf("message of exactly %d chars must be used verbatim", AutoTitleChars)
	}
	if got := autoTitle(exact + "b"); got != exact+"..." {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := autoTitle("  Hi there  "); got != "Hi there" {
		t.Errorf("short input must be trimmed, got %q", got)
	}
}
