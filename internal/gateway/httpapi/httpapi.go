// Package httpapi implements the HTTP API gateway for Soga.
//
// Security:
//   - API key authentication on every request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - All requests logged with the resolved user ID
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/llm"
	"github.com/jkaninda/soga/internal/observability"
	"github.com/jkaninda/soga/internal/ratelimit"
	"github.com/jkaninda/soga/internal/task"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// detailMessageLimit caps how many messages a detail endpoint returns.
// Messages outside the orchestration window are excluded from context
// and display alike, so clients see exactly what the agent sees.
const detailMessageLimit = chat.DefaultHistoryLimit

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// TurnRunner executes one chat exchange. Implemented by chat.Orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, userID string, conversationID uuid.UUID, content string) (*chat.Turn, error)
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key to user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config        Config
	turns         TurnRunner
	conversations chat.ConversationStore
	messages      chat.MessageStore
	tasks         task.Store // nil = task endpoints disabled.
	limiter       *ratelimit.Limiter
	logger        *slog.Logger
	server        *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., WebSocket chat endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, turns TurnRunner, conversations chat.ConversationStore, messages chat.MessageStore, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:        cfg,
		turns:         turns,
		conversations: conversations,
		messages:      messages,
		limiter:       rl,
		logger:        logger,
		okapi:         okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithTasks attaches task management endpoints to the gateway.
func (g *Gateway) WithTasks(store task.Store) *Gateway {
	g.tasks = store
	return g
}

// WithOpenAPIDocs enables the OpenAPI documentation UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Soga",
			Version: "v0.1.0",
		},
	)
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket chat endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Request body size limit.
	maxBody := g.config.MaxRequestSize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestSize
	}
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			next.ServeHTTP(w, r)
		})
	})

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Chat endpoint.
	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Send a chat message and get the assistant's reply"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	// Conversation endpoints.
	g.group.Get("/conversations", g.handleConversationActive,
		okapi.DocSummary("Resolve the active conversation, creating one if needed"),
		okapi.DocTags("Conversations"),
		okapi.DocResponse(ConversationDetail{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/conversations/all", g.handleConversationList,
		okapi.DocSummary("List the user's conversations, most recent first"),
		okapi.DocTags("Conversations"),
		okapi.DocResponse([]ConversationSummary{}),
	)
	g.group.Post("/conversations", g.handleConversationCreate,
		okapi.DocSummary("Create a new conversation"),
		okapi.DocTags("Conversations"),
		okapi.DocRequestBody(CreateConversationRequest{}),
		okapi.DocResponse(http.StatusCreated, ConversationSummary{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/conversations/{id}", g.handleConversationGet,
		okapi.DocSummary("Get a conversation with its messages"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID (UUID)"),
		okapi.DocResponse(ConversationDetail{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Put("/conversations/{id}", g.handleConversationRename,
		okapi.DocSummary("Rename a conversation"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID (UUID)"),
		okapi.DocRequestBody(RenameConversationRequest{}),
		okapi.DocResponse(ConversationSummary{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/conversations/{id}", g.handleConversationDelete,
		okapi.DocSummary("Delete a conversation and all its messages"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID (UUID)"),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Task endpoints (only if task store is configured).
	if g.tasks != nil {
		g.group.Get("/tasks", g.handleTaskList,
			okapi.DocSummary("List the user's tasks, newest first"),
			okapi.DocTags("Tasks"),
			okapi.DocResponse([]TaskResponse{}),
		)
		g.group.Post("/tasks", g.handleTaskCreate,
			okapi.DocSummary("Create a new task"),
			okapi.DocTags("Tasks"),
			okapi.DocRequestBody(TaskRequest{}),
			okapi.DocResponse(http.StatusCreated, TaskResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/tasks/{id}", g.handleTaskGet,
			okapi.DocSummary("Get a task by ID"),
			okapi.DocTags("Tasks"),
			okapi.DocPathParam("id", "string", "Task ID (UUID)"),
			okapi.DocResponse(TaskResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Put("/tasks/{id}", g.handleTaskUpdate,
			okapi.DocSummary("Update a task"),
			okapi.DocTags("Tasks"),
			okapi.DocPathParam("id", "string", "Task ID (UUID)"),
			okapi.DocRequestBody(TaskUpdateRequest{}),
			okapi.DocResponse(TaskResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Post("/tasks/{id}/toggle", g.handleTaskToggle,
			okapi.DocSummary("Toggle a task's completion state"),
			okapi.DocTags("Tasks"),
			okapi.DocPathParam("id", "string", "Task ID (UUID)"),
			okapi.DocResponse(TaskResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Delete("/tasks/{id}", g.handleTaskDelete,
			okapi.DocSummary("Delete a task"),
			okapi.DocTags("Tasks"),
			okapi.DocPathParam("id", "string", "Task ID (UUID)"),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	// Extra handlers (e.g., WebSocket chat endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Chat ---

// ChatRequest is the JSON body for POST /v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"` // Empty = new conversation.
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	userID := c.GetString("userID")
	if userID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return c.AbortBadRequest("invalid conversation_id")
		}
		conversationID = id
	}

	g.logger.Info("http chat",
		slog.String("user_id", userID),
		slog.String("conversation_id", req.ConversationID),
	)

	start := time.Now()
	turn, err := g.turns.RunTurn(c.Context(), userID, conversationID, req.Message)
	g.config.Metrics.ObserveTurn(turnStatus(err), time.Since(start))
	if err != nil {
		return g.turnError(c, err)
	}

	return c.OK(ChatResponse{
		Message:        turn.Reply.Content,
		ConversationID: turn.Conversation.ID.String(),
	})
}

// turnStatus is the metric label for a turn outcome.
func turnStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// turnError maps orchestration errors to HTTP responses.
func (g *Gateway) turnError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return c.AbortBadRequest("message is required")
	case errors.Is(err, chat.ErrContentTooLong):
		return c.AbortBadRequest("message exceeds maximum length")
	case errors.Is(err, llm.ErrRateLimited):
		return c.AbortTooManyRequests("agent is rate limited, retry later")
	default:
		g.logger.Error("chat turn failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("processing failed")
	}
}

// --- Health ---

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID on the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}
