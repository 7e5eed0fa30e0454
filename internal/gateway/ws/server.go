// Package ws implements the WebSocket chat endpoint. A client connects,
// authenticates with its API key, and runs chat turns over the socket:
// each inbound JSON frame is one exchange, each outbound frame carries
// the assistant's reply or a classified error.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/llm"
	"github.com/jkaninda/soga/internal/observability"
	"github.com/jkaninda/soga/internal/ratelimit"
)

// TurnRunner executes one chat exchange. Implemented by chat.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID string, conversationID uuid.UUID, content string) (*chat.Turn, error)
}

// Server upgrades HTTP connections and runs chat turns over them.
type Server struct {
	turns   TurnRunner
	apiKeys map[string]string // API key to user ID mapping.
	limiter *ratelimit.Limiter
	metrics *observability.MetricsCollector
	logger  *slog.Logger
}

// NewServer creates a WebSocket chat server.
func NewServer(turns TurnRunner, apiKeys map[string]string, rl *ratelimit.Limiter, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	return &Server{
		turns:   turns,
		apiKeys: apiKeys,
		limiter: rl,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// inboundFrame is one chat turn request from the client.
type inboundFrame struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"` // Empty = new conversation.
}

// outboundFrame is the reply or error for one turn.
type outboundFrame struct {
	Message        string `json:"message,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
	RateLimited    bool   `json:"rate_limited,omitempty"`
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID := s.authenticate(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"soga-chat-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}

	s.logger.Info("websocket chat connected", slog.String("user_id", userID))
	s.handleConnection(r.Context(), conn, userID)
}

// authenticate resolves the user from the API key in the Authorization
// header or, for browser clients that cannot set headers, the token
// query parameter.
func (s *Server) authenticate(r *http.Request) string {
	apiKey := r.URL.Query().Get("token")
	if apiKey == "" {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			apiKey = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if apiKey == "" {
		return ""
	}

	userID := ""
	for key, mapped := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			userID = mapped
		}
	}
	return userID
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, userID string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket chat disconnected", slog.String("user_id", userID))
			} else {
				s.logger.Warn("websocket read error",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeFrame(ctx, conn, outboundFrame{Error: "invalid message frame"})
			continue
		}

		s.writeFrame(ctx, conn, s.runTurn(ctx, userID, frame))
	}
}

// runTurn executes one exchange and maps errors the same way the HTTP
// surface does, with a rate_limited flag instead of a 429.
func (s *Server) runTurn(ctx context.Context, userID string, frame inboundFrame) outboundFrame {
	if s.limiter != nil {
		if err := s.limiter.Allow(userID); err != nil {
			return outboundFrame{Error: "rate limit exceeded", RateLimited: true}
		}
	}

	conversationID := uuid.Nil
	if frame.ConversationID != "" {
		id, err := uuid.Parse(frame.ConversationID)
		if err != nil {
			return outboundFrame{Error: "invalid conversation_id"}
		}
		conversationID = id
	}

	start := time.Now()
	turn, err := s.turns.RunTurn(ctx, userID, conversationID, frame.Message)
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveTurn(status, time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			return outboundFrame{Error: "message is required"}
		case errors.Is(err, chat.ErrContentTooLong):
			return outboundFrame{Error: "message exceeds maximum length"}
		case errors.Is(err, llm.ErrRateLimited):
			return outboundFrame{Error: "agent is rate limited, retry later", RateLimited: true}
		default:
			s.logger.Error("websocket chat turn failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return outboundFrame{Error: "processing failed"}
		}
	}

	return outboundFrame{
		Message:        turn.Reply.Content,
		ConversationID: turn.Conversation.ID.String(),
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame outboundFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
	}
}
