package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/llm"
	"github.com/jkaninda/soga/internal/observability"
)

type stubRunner struct {
	turn *chat.Turn
	err  error

	lastUserID  string
	lastConvID  uuid.UUID
	lastContent string
}

func (s *stubRunner) RunTurn(ctx context.Context, userID string, conversationID uuid.UUID, content string) (*chat.Turn, error) {
	s.lastUserID = userID
	s.lastConvID = conversationID
	s.lastContent = content
	return s.turn, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestTurn() *chat.Turn {
	convID := uuid.New()
	return &chat.Turn{
		Conversation: &chat.Conversation{ID: convID, UserID: "alice"},
		UserMessage:  &chat.Message{ConversationID: convID, Role: chat.RoleUser, Content: "hi"},
		Reply:        &chat.Message{ConversationID: convID, Role: chat.RoleAssistant, Content: "hello there"},
	}
}

func dialTest(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http", "ws", 1)
	if token != "" {
		url += "?token=" + token
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"soga-chat-v1"},
	})
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, frame inboundFrame) outboundFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshaling frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	_, reply, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	var out outboundFrame
	if err := json.Unmarshal(reply, &out); err != nil {
		t.Fatalf("parsing reply: %v", err)
	}
	return out
}

func TestChat_TurnOverSocket(t *testing.T) {
	runner := &stubRunner{turn: newTestTurn()}
	s := NewServer(runner, map[string]string{"sk-test": "alice"}, nil, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv, "sk-test")

	out := exchange(t, conn, inboundFrame{Message: "hi"})
	if out.Error != "" {
		t.Fatalf("unexpected error frame: %q", out.Error)
	}
	if out.Message != "hello there" {
		t.Errorf("reply = %q, want %q", out.Message, "hello there")
	}
	if out.ConversationID != runner.turn.Conversation.ID.String() {
		t.Errorf("conversation_id = %q, want %q", out.ConversationID, runner.turn.Conversation.ID)
	}
	if runner.lastUserID != "alice" {
		t.Errorf("user id = %q, want alice", runner.lastUserID)
	}
	if runner.lastConvID != uuid.Nil {
		t.Errorf("conversation id = %v, want nil uuid", runner.lastConvID)
	}
}

func TestChat_ContinuesConversation(t *testing.T) {
	runner := &stubRunner{turn: newTestTurn()}
	s := NewServer(runner, map[string]string{"sk-test": "alice"}, nil, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv, "sk-test")

	want := uuid.New()
	out := exchange(t, conn, inboundFrame{Message: "again", ConversationID: want.String()})
	if out.Error != "" {
		t.Fatalf("unexpected error frame: %q", out.Error)
	}
	if runner.lastConvID != want {
		t.Errorf("conversation id = %v, want %v", runner.lastConvID, want)
	}
}

func TestChat_Unauthorized(t *testing.T) {
	s := NewServer(&stubRunner{}, map[string]string{"sk-test": "alice"}, nil, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(srv.URL, "http", "ws", 1) + "?token=wrong"
	_, _, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail with a bad token")
	}
}

func TestChat_RateLimitedFlag(t *testing.T) {
	runner := &stubRunner{err: fmt.Errorf("agent request: %w", llm.ErrRateLimited)}
	s := NewServer(runner, map[string]string{"sk-test": "alice"}, nil, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv, "sk-test")

	out := exchange(t, conn, inboundFrame{Message: "hi"})
	if out.Error == "" {
		t.Fatal("expected error frame")
	}
	if !out.RateLimited {
		t.Error("expected rate_limited flag on agent rate limit")
	}
}

func TestChat_TurnMetricsRecorded(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	runner := &stubRunner{turn: newTestTurn()}
	s := NewServer(runner, map[string]string{"sk-test": "alice"}, nil, metrics, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv, "sk-test")

	if out := exchange(t, conn, inboundFrame{Message: "hi"}); out.Error != "" {
		t.Fatalf("unexpected error frame: %q", out.Error)
	}

	mfs, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	var got float64
	for _, mf := range mfs {
		if mf.GetName() != "soga_chat_turns_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == "success" {
					got = m.GetCounter().GetValue()
				}
			}
		}
	}
	if got != 1 {
		t.Errorf("soga_chat_turns_total{status=success} = %v, want 1", got)
	}
}

func TestChat_InvalidConversationID(t *testing.T) {
	runner := &stubRunner{turn: newTestTurn()}
	s := NewServer(runner, map[string]string{"sk-test": "alice"}, nil, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv, "sk-test")

	out := exchange(t, conn, inboundFrame{Message: "hi", ConversationID: "not-a-uuid"})
	if out.Error == "" {
		t.Fatal("expected error frame for bad conversation_id")
	}
	if runner.lastContent != "" {
		t.Error("turn must not run on invalid conversation_id")
	}
}

func TestChat_ValidationError(t *testing.T) {
	runner := &stubRunner{err: chat.ErrEmptyMessage}
	s := NewServer(runner, map[string]string{"sk-test": "alice"}, nil, nil, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv, "sk-test")

	out := exchange(t, conn, inboundFrame{Message: "   "})
	if out.Error == "" {
		t.Fatal("expected error frame for empty message")
	}
	if out.RateLimited {
		t.Error("validation errors must not set rate_limited")
	}
}
