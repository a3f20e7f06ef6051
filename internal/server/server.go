// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/dispatch"
	"github.com/Ananddd06/domainchat/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxTextLength is the maximum length of the text field.
	MaxTextLength = 100000

	// MaxAttachments is the maximum number of attachments per send.
	MaxAttachments = 10

	// MaxClassifyBodySize bounds the /v1/classify request body.
	MaxClassifyBodySize = 64 * 1024

	// Version is the bridge API version.
	Version = "1.0.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the local HTTP bridge between a browser UI and the dispatch
// service.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server

	svc         *dispatch.Service
	loader      *attachment.Loader
	gatherer    prometheus.Gatherer
	cors        *CORSConfig
	limiter     *RateLimiter
	defaultMode cloud.Mode
	logger      zerolog.Logger
	started     time.Time

	mu sync.RWMutex
}

// NewServer creates a Server. An empty addr uses DefaultAddr.
func NewServer(addr string, svc *dispatch.Service, loader *attachment.Loader) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:        addr,
		router:      http.NewServeMux(),
		svc:         svc,
		loader:      loader,
		cors:        DefaultCORSConfig(),
		defaultMode: cloud.ModeStreaming,
		logger:      zerolog.Nop(),
		started:     time.Now(),
	}
	s.setupRoutes()
	return s
}

// WithLogger sets the logger for requests and lifecycle events.
func (s *Server) WithLogger(logger zerolog.Logger) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	return s
}

// WithGatherer exposes g on GET /metrics.
func (s *Server) WithGatherer(g prometheus.Gatherer) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gatherer = g
	return s
}

// WithCORS replaces the CORS configuration.
func (s *Server) WithCORS(cfg *CORSConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cors = cfg
	return s
}

// WithRateLimiter enables per-client rate limiting.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
	return s
}

// WithDefaultMode sets the mode used when a send names none.
func (s *Server) WithDefaultMode(mode cloud.Mode) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultMode = mode
	return s
}

// Addr returns the listen address; after Serve it is the bound address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/send", s.handleSend)
	s.router.HandleFunc("POST /v1/classify", s.handleClassify)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /metrics", s.handleMetrics)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		LoggingMiddleware(s.logger),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, s.logger))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// SEND HANDLER
// ============================================================================

// sendRequest is a parsed /v1/send form.
type sendRequest struct {
	Text        string
	Mode        cloud.Mode
	Attachments []model.Attachment
}

// streamFrame is one SSE data payload.
type streamFrame struct {
	Delta   string         `json:"delta,omitempty"`
	Message *model.Message `json:"message,omitempty"`
}

// handleSend handles POST /v1/send.
//
// The body is multipart/form-data with fields text, mode, any number of
// file parts and url parts formatted as "name|mime|url".
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSend(r)
	defer func() {
		if relErr := s.loader.ReleaseAll(req.Attachments); relErr != nil {
			s.logger.Warn().Err(relErr).Msg("attachment release failed")
		}
	}()

	if err != nil {
		var tooLarge *attachment.TooLargeError
		switch {
		case errors.As(err, &tooLarge):
			s.writeJSON(w, http.StatusRequestEntityTooLarge, dispatch.FailureMessage(err))
		case errors.Is(err, attachment.ErrUnreadable):
			s.writeJSON(w, http.StatusBadRequest, dispatch.FailureMessage(err))
		default:
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if req.Mode == cloud.ModeStreaming {
		s.streamSend(w, r, req)
		return
	}

	msg := s.svc.ComposeAndSend(r.Context(), req.Text, req.Attachments, cloud.ModeBuffered, nil)
	s.writeJSON(w, http.StatusOK, msg)
}

// parseSend reads the multipart form part by part so uploads are spooled by
// the loader instead of buffered in memory. Attachments loaded before an
// error are still returned so they can be released.
func (s *Server) parseSend(r *http.Request) (sendRequest, error) {
	s.mu.RLock()
	req := sendRequest{Mode: s.defaultMode}
	s.mu.RUnlock()

	mr, err := r.MultipartReader()
	if err != nil {
		return req, fmt.Errorf("expected multipart/form-data: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return req, fmt.Errorf("read form: %w", err)
		}

		switch part.FormName() {
		case "text":
			text, err := readField(part, MaxTextLength)
			if err != nil {
				return req, fmt.Errorf("text: %w", err)
			}
			req.Text = text

		case "mode":
			raw, err := readField(part, 32)
			if err != nil {
				return req, fmt.Errorf("mode: %w", err)
			}
			mode, err := cloud.ParseMode(raw)
			if err != nil {
				return req, err
			}
			req.Mode = mode

		case "file":
			if len(req.Attachments) >= MaxAttachments {
				return req, fmt.Errorf("too many attachments (max %d)", MaxAttachments)
			}
			name := part.FileName()
			if name == "" {
				name = "upload"
			}
			att, err := s.loader.Load(name, part.Header.Get("Content-Type"), part)
			if err != nil {
				return req, err
			}
			req.Attachments = append(req.Attachments, att)

		case "url":
			if len(req.Attachments) >= MaxAttachments {
				return req, fmt.Errorf("too many attachments (max %d)", MaxAttachments)
			}
			raw, err := readField(part, 4096)
			if err != nil {
				return req, fmt.Errorf("url: %w", err)
			}
			att, err := s.parseURLPart(raw)
			if err != nil {
				return req, err
			}
			req.Attachments = append(req.Attachments, att)
		}
		part.Close()
	}

	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return req, errors.New("text or at least one attachment is required")
	}
	return req, nil
}

// parseURLPart turns "name|mime|url" into a remote attachment.
func (s *Server) parseURLPart(raw string) (model.Attachment, error) {
	fields := strings.SplitN(raw, "|", 3)
	if len(fields) != 3 || strings.TrimSpace(fields[0]) == "" || strings.TrimSpace(fields[2]) == "" {
		return model.Attachment{}, fmt.Errorf("url part must be name|mime|url, got %q", raw)
	}
	return s.loader.LoadURL(strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]), strings.TrimSpace(fields[2]), 0)
}

// readField reads a small form value, rejecting anything over max bytes.
func readField(part *multipart.Part, max int) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, int64(max)+1))
	if err != nil {
		return "", err
	}
	if len(data) > max {
		return "", fmt.Errorf("field exceeds %d bytes", max)
	}
	return string(data), nil
}

// streamSend relays deltas as SSE frames, then the final message, then the
// completion sentinel.
func (s *Server) streamSend(w http.ResponseWriter, r *http.Request, req sendRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msg := s.svc.ComposeAndSend(r.Context(), req.Text, req.Attachments, cloud.ModeStreaming, func(delta string) {
		s.sendFrame(w, flusher, streamFrame{Delta: delta})
	})
	s.sendFrame(w, flusher, streamFrame{Message: &msg})

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// sendFrame writes one SSE data frame.
func (s *Server) sendFrame(w http.ResponseWriter, flusher http.Flusher, frame streamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// ============================================================================
// CLASSIFY HANDLER
// ============================================================================

// ClassifyRequest describes a failure observed by a client.
type ClassifyRequest struct {
	Error      string `json:"error"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"status_text,omitempty"`
	// Network marks a failure with no HTTP response, e.g. a failed fetch.
	Network bool `json:"network,omitempty"`
	// Credential marks a missing or unusable API key.
	Credential bool `json:"credential,omitempty"`
}

// ClassifyResponse carries the user-facing text.
type ClassifyResponse struct {
	Text string `json:"text"`
}

// handleClassify handles POST /v1/classify.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxClassifyBodySize)

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := errors.New(req.Error)
	switch {
	case req.Credential:
		err = fmt.Errorf("%w: %s", cloud.ErrMissingCredential, req.Error)
	case req.Network:
		err = &cloud.TransportError{Op: "fetch", Err: err}
	}

	var resp *http.Response
	if req.Status != 0 {
		resp = &http.Response{StatusCode: req.Status}
		if req.StatusText != "" {
			resp.Status = fmt.Sprintf("%d %s", req.Status, req.StatusText)
		}
	}

	s.writeJSON(w, http.StatusOK, ClassifyResponse{Text: dispatch.ClassifyFailure(err, resp)})
}

// ============================================================================
// HEALTH AND METRICS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Model       string `json:"model"`
	CloudStatus string `json:"cloud_status"`
	Uptime      string `json:"uptime"`
}

// handleHealth handles GET /health. It does not contact the API.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	client := s.svc.Client()
	health := HealthResponse{
		Status:      "ok",
		Version:     Version,
		Model:       client.Model(),
		CloudStatus: "configured",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}
	if !client.IsConfigured() {
		health.CloudStatus = "not_configured"
		health.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, health)
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	g := s.gatherer
	s.mu.RUnlock()

	if g == nil {
		s.writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	promhttp.HandlerFor(g, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr().String()
	logger := s.logger
	s.mu.Unlock()

	logger.Info().Str("addr", s.addr).Str("version", Version).Msg("server started")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	limiter := s.limiter
	logger := s.logger
	s.mu.RUnlock()

	if limiter != nil {
		limiter.Stop()
	}
	if srv == nil {
		return nil
	}
	logger.Info().Msg("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
