// Package anthropic implements the LLM provider interface for the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jkaninda/soga/internal/llm"
)

const (
	defaultBaseURL  = "https://api.anthropic.com"
	messagesPath    = "/v1/messages"
	apiVersion      = "2023-06-01"
	defaultMaxToken = 4096
)

// Client implements llm.Provider using the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Anthropic client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an Anthropic provider.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "anthropic" }

// SendMessage sends the conversation to the Anthropic Messages API.
// HTTP 429 and "rate_limit_error" responses classify as llm.ErrRateLimited.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	apiReq := c.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		if isRateLimited(httpResp.StatusCode, respBody) {
			return nil, fmt.Errorf("API error (status %d): %s: %w", httpResp.StatusCode, string(respBody), llm.ErrRateLimited)
		}
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	resp := c.toResponse(&apiResp)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", "anthropic"),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)

	return resp, nil
}

// isRateLimited detects the Anthropic rate-limit condition either by
// status code or by the error type in the response body.
func isRateLimited(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	var errResp apiErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return false
	}
	return errResp.Error.Type == "rate_limit_error"
}

func (c *Client) buildRequest(req *llm.Request) apiRequest {
	messages := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = apiMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxToken
	}

	return apiRequest{
		Model:     c.model,
		System:    req.SystemPrompt,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
}

func (c *Client) toResponse(apiResp *apiResponse) *llm.Response {
	var textContent string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			textContent += block.Text
		}
	}

	return &llm.Response{
		Content:    textContent,
		StopReason: apiResp.StopReason,
		Usage: llm.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
}

// --- Anthropic API wire types (unexported) ---

type apiRequest struct {
	Model     string       `json:"model"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      apiUsage          `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
