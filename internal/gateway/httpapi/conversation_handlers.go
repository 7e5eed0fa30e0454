package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/okapi"
)

// **** Conversation request/response types ****

// CreateConversationRequest is the JSON body for POST /v1/conversations.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"` // Empty = untitled.
}

// RenameConversationRequest is the JSON body for PUT /v1/conversations/{id}.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// ConversationSummary is a conversation without its messages.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageBody is a single message in a conversation detail response.
type MessageBody struct {
	ID        string    `json:"id"`
	SeqNum    int       `json:"seq_num"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationDetail is a conversation together with its messages.
type ConversationDetail struct {
	ConversationSummary
	Messages []MessageBody `json:"messages"`
}

func toConversationSummary(conv *chat.Conversation) ConversationSummary {
	return ConversationSummary{
		ID:        conv.ID.String(),
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func toConversationDetail(conv *chat.Conversation, msgs []chat.Message) ConversationDetail {
	detail := ConversationDetail{
		ConversationSummary: toConversationSummary(conv),
		Messages:            make([]MessageBody, len(msgs)),
	}
	for i, m := range msgs {
		detail.Messages[i] = MessageBody{
			ID:        m.ID.String(),
			SeqNum:    m.SeqNum,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return detail
}

// **** Handlers ****

// handleConversationActive resolves the caller's active conversation. An
// absent, unknown, or foreign conversation_id yields a fresh conversation
// rather than an error.
func (g *Gateway) handleConversationActive(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	conversationID := uuid.Nil
	if raw := c.Request().URL.Query().Get("conversation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.AbortBadRequest("invalid conversation_id")
		}
		conversationID = id
	}

	conv, err := g.conversations.ResolveOrCreate(c.Context(), userID, conversationID)
	if err != nil {
		g.logger.Error("conversation resolution failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to resolve conversation")
	}

	msgs, err := g.messages.Window(c.Context(), conv.ID, detailMessageLimit)
	if err != nil {
		return c.AbortInternalServerError("failed to load messages")
	}

	return c.OK(toConversationDetail(conv, msgs))
}

func (g *Gateway) handleConversationList(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	convs, err := g.conversations.List(c.Context(), userID)
	if err != nil {
		return c.AbortInternalServerError("failed to list conversations")
	}

	resp := make([]ConversationSummary, len(convs))
	for i := range convs {
		resp[i] = toConversationSummary(&convs[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleConversationCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Title != "" {
		if err := chat.ValidateTitle(req.Title); err != nil {
			return c.AbortBadRequest(err.Error())
		}
	}

	conv, err := g.conversations.Create(c.Context(), userID, req.Title)
	if err != nil {
		g.logger.Error("conversation creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to create conversation")
	}

	g.logger.Info("conversation created",
		slog.String("conversation_id", conv.ID.String()),
		slog.String("user_id", userID),
	)

	return c.JSON(http.StatusCreated, toConversationSummary(conv))
}

func (g *Gateway) handleConversationGet(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid conversation ID")
	}

	conv, err := g.conversations.GetByID(c.Context(), userID, id)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("failed to load conversation")
	}

	msgs, err := g.messages.Window(c.Context(), conv.ID, detailMessageLimit)
	if err != nil {
		return c.AbortInternalServerError("failed to load messages")
	}

	return c.OK(toConversationDetail(conv, msgs))
}

func (g *Gateway) handleConversationRename(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid conversation ID")
	}

	var req RenameConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if err := chat.ValidateTitle(req.Title); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	conv, err := g.conversations.Rename(c.Context(), userID, id, req.Title)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("failed to rename conversation")
	}

	g.logger.Info("conversation renamed",
		slog.String("conversation_id", id.String()),
		slog.String("user_id", userID),
	)

	return c.OK(toConversationSummary(conv))
}

func (g *Gateway) handleConversationDelete(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid conversation ID")
	}

	if err := g.conversations.Delete(c.Context(), userID, id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		return c.AbortInternalServerError("failed to delete conversation")
	}

	g.logger.Info("conversation deleted",
		slog.String("conversation_id", id.String()),
		slog.String("user_id", userID),
	)

	return c.JSON(http.StatusNoContent, nil)
}
