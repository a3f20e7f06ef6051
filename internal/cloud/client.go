// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is the free Llama model used when none is configured.
	DefaultModel = "meta-llama/llama-3.3-70b-instruct:free"

	// DefaultTimeout bounds a buffered request, and the wait for response
	// headers of a streaming one.
	DefaultTimeout = 60 * time.Second

	// DefaultSiteTitle is sent as X-Title.
	DefaultSiteTitle = "AI Chat Assistant"

	// DefaultSiteURL is sent as HTTP-Referer.
	DefaultSiteURL = "http://localhost:5173"

	// DefaultSystemPrompt is the fixed system instruction.
	DefaultSystemPrompt = "You are a helpful AI assistant specialized in AI/ML and file content analysis. Provide clear, accurate, and helpful responses."

	// MaxResponseSize is the maximum buffered response body size.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4096
)

// errSendTimeout is the cancellation cause when DefaultTimeout elapses.
var errSendTimeout = errors.New("request timed out")

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is a single turn in the request payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request payload. Generation
// parameters are always sent, including zero penalties.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	Stream           bool          `json:"stream,omitempty"`
}

// Usage is the token accounting reported by the API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a buffered chat completions response. Pointers
// distinguish absent fields from empty ones.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// answer extracts choices[0].message.content.
func (r *ChatResponse) answer() (string, error) {
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices array found", ErrMalformedResponse)
	}
	msg := r.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", fmt.Errorf("%w: no message content found", ErrMalformedResponse)
	}
	reply := strings.TrimSpace(*msg.Content)
	if reply == "" {
		return "", ErrEmptyAnswer
	}
	return reply, nil
}

// ModelInfo describes a model listed by the API.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_length"`
}

type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds the request parameters.
type Config struct {
	BaseURL          string
	Model            string
	SiteURL          string
	SiteTitle        string
	SystemPrompt     string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Timeout          time.Duration
}

// DefaultConfig returns the stock generation parameters.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		SiteURL:      DefaultSiteURL,
		SiteTitle:    DefaultSiteTitle,
		SystemPrompt: DefaultSystemPrompt,
		MaxTokens:    2000,
		Temperature:  0.7,
		TopP:         1,
		Timeout:      DefaultTimeout,
	}
}

// CredentialSource returns the current API key. It is consulted at the
// start of every send so a key configured while running takes effect.
type CredentialSource func() string

// StaticCredential returns a source that always yields key.
func StaticCredential(key string) CredentialSource {
	return func() string { return key }
}

// Client talks to the OpenRouter chat completions endpoint.
type Client struct {
	cfg        Config
	credential CredentialSource
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its Timeout should be
// zero; deadlines are applied per request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client. Zero-valued config fields fall back to
// DefaultConfig except the penalties, which default to zero anyway.
func NewClient(cfg Config, credential CredentialSource, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if credential == nil {
		credential = StaticCredential("")
	}

	c := &Client{
		cfg:        cfg,
		credential: credential,
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the client's configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.cfg.Model
}

// IsConfigured reports whether a credential is currently available.
func (c *Client) IsConfigured() bool {
	return strings.TrimSpace(c.credential()) != ""
}

// Payload builds the request body for a composed prompt.
func (c *Client) Payload(prompt string, stream bool) ChatRequest {
	return ChatRequest{
		Model: c.cfg.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		PresencePenalty:  c.cfg.PresencePenalty,
		Stream:           stream,
	}
}

// apiKey reads and checks the credential.
func (c *Client) apiKey() (string, error) {
	key := strings.TrimSpace(c.credential())
	if key == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(key, "sk-") {
		c.logger.Warn().
			Str("key_fingerprint", Fingerprint(key)).
			Msg("API key format may be incorrect, OpenRouter keys typically start with sk-")
	}
	return key, nil
}

// newChatRequest builds the POST for a payload.
func (c *Client) newChatRequest(ctx context.Context, key string, payload ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, key)
	return req, nil
}

// setHeaders sets the OpenRouter request headers.
func (c *Client) setHeaders(req *http.Request, key string) {
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	}
	if c.cfg.SiteTitle != "" {
		req.Header.Set("X-Title", c.cfg.SiteTitle)
	}
}

// do performs the single HTTP call of a send. Non-2xx responses are
// drained, closed and returned as *OpenRouterError.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()
	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("model", c.cfg.Model).
		Msg("API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(context.Cause(ctx), errSendTimeout) {
			err = fmt.Errorf("%w: %w", errSendTimeout, err)
		}
		return nil, &TransportError{Op: "request failed", Err: err}
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("API response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, handleErrorResponse(resp, body)
	}
	return resp, nil
}

// handleErrorResponse converts a non-2xx response into an error.
func handleErrorResponse(resp *http.Response, body []byte) error {
	orErr := &OpenRouterError{
		Status:     resp.StatusCode,
		StatusText: StatusText(resp),
		Message:    strings.TrimSpace(string(body)),
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		orErr.Message = apiErr.Error.Message
		orErr.Code = strings.Trim(string(apiErr.Error.Code), `"`)
	}
	return orErr
}

// StatusText returns the reason phrase of a response, e.g. "Not Found".
func StatusText(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	if text, ok := strings.CutPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// readResponse reads a bounded response body.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &TransportError{Op: "failed to read response", Err: err}
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("%w: response exceeded maximum size of %d bytes", ErrMalformedResponse, MaxResponseSize)
	}
	return body, nil
}

// =============================================================================
// CONNECTION TEST
// =============================================================================

// ListModels returns the models visible to the configured key.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	key, err := c.apiKey()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.cfg.Timeout, errSendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, key)

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var models modelsResponse
	if err := json.Unmarshal(body, &models); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return models.Data, nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// =============================================================================
// KEY FINGERPRINT
// =============================================================================

// Fingerprint returns a short SHA-256 fingerprint of a key for logs.
func Fingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// KeyMasked describes the current key without exposing any of it.
func (c *Client) KeyMasked() string {
	key := strings.TrimSpace(c.credential())
	if key == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(key), Fingerprint(key))
}
