// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch composes a prompt from user text and attachments, sends it
// to the model and always answers with exactly one assistant message.
//
// It is the only entry point the CLI and HTTP bridge use for sending:
//
//	svc := dispatch.New(client, dispatch.WithMetrics(m))
//	msg := svc.ComposeAndSend(ctx, "Summarize this file", atts, cloud.ModeStreaming, printDelta)
//	if msg.Failed { ... }
//
// Failures never surface as errors; they come back as a message whose
// content starts with model.FailurePrefix.
package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/failure"
	"github.com/Ananddd06/domainchat/internal/model"
	"github.com/Ananddd06/domainchat/internal/prompt"
	"github.com/Ananddd06/domainchat/internal/telemetry"
)

// ledgerTimeout bounds the usage write after a send; it runs even if the
// caller's context is already done.
const ledgerTimeout = 5 * time.Second

// outcomeOK is the outcome label for a successful send.
const outcomeOK = "ok"

// =============================================================================
// SERVICE
// =============================================================================

// Service wires the composer, the cloud client and telemetry together.
// It holds no per-conversation state and is safe for concurrent use.
type Service struct {
	client   *cloud.Client
	composer *prompt.Composer
	metrics  *telemetry.Metrics
	ledger   *telemetry.Ledger
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithComposer replaces the default composer.
func WithComposer(c *prompt.Composer) Option {
	return func(s *Service) { s.composer = c }
}

// WithMetrics records Prometheus metrics for every send.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLedger records one usage row per send.
func WithLedger(l *telemetry.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service around client.
func New(client *cloud.Client, opts ...Option) *Service {
	s := &Service{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.composer == nil {
		s.composer = prompt.NewComposer(s.logger)
	}
	return s
}

// Client returns the underlying cloud client.
func (s *Service) Client() *cloud.Client {
	return s.client
}

// ComposeAndSend composes userText with atts and sends it in mode. onDelta,
// when non-nil, receives streamed fragments in order. The returned message is
// either the assistant's answer or a failure message; it is never empty.
func (s *Service) ComposeAndSend(ctx context.Context, userText string, atts []model.Attachment, mode cloud.Mode, onDelta cloud.DeltaFunc) model.Message {
	done := s.metrics.TrackInFlight()
	defer done()
	start := time.Now()

	composed := s.composer.Compose(userText, atts)
	s.metrics.ObservePrompt(composed.Tokens, dispositions(composed.Blocks))

	log := s.logger.With().
		Str("mode", string(mode)).
		Int("attachments", len(atts)).
		Int("prompt_tokens", composed.Tokens).
		Logger()
	log.Debug().Msg("sending prompt")

	deltaFn := func(delta string) {
		s.metrics.ObserveDelta()
		if onDelta != nil {
			onDelta(delta)
		}
	}

	res, err := s.client.Sender(mode).Send(ctx, composed.Text, deltaFn)
	elapsed := time.Since(start)

	usage := telemetry.Usage{
		Mode:         string(mode),
		Model:        s.client.Model(),
		PromptTokens: composed.Tokens,
		Attachments:  len(atts),
		Duration:     elapsed,
	}

	var msg model.Message
	if err != nil {
		f := failure.Classify(err, nil)
		msg = model.NewFailureMessage(f.Text)

		log.Warn().Err(err).Str("kind", f.Kind.String()).Int("status", f.Status).Msg("send failed")
		s.metrics.ObserveFailure(f.Kind.String())
		s.metrics.ObserveSend(string(mode), f.Kind.String(), elapsed)
		usage.Outcome = f.Kind.String()
	} else {
		msg = res.Message
		log.Debug().
			Int("deltas", res.Deltas).
			Str("finish_reason", res.FinishReason).
			Bool("incomplete", msg.Incomplete).
			Dur("duration", elapsed).
			Msg("send complete")
		s.metrics.ObserveSend(string(mode), outcomeOK, elapsed)

		usage.Outcome = outcomeOK
		usage.ResponseChars = len([]rune(msg.Content))
		usage.Deltas = res.Deltas
		usage.Incomplete = msg.Incomplete
		if res.Usage != nil {
			usage.PromptTokens = res.Usage.PromptTokens
			usage.CompletionTokens = res.Usage.CompletionTokens
		}
	}

	usage.MessageID = msg.ID
	s.record(ctx, usage)
	return msg
}

// record writes usage to the ledger, if any. Errors are logged only.
func (s *Service) record(ctx context.Context, u telemetry.Usage) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := s.ledger.Record(ctx, u); err != nil {
		s.logger.Warn().Err(err).Msg("usage not recorded")
	}
}

// Ping checks that the API is reachable with the current credential.
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// ClassifyFailure returns the user-facing text for err. resp is optional.
func ClassifyFailure(err error, resp *http.Response) string {
	return failure.Text(err, resp)
}

// FailureMessage wraps err in a failure-prefixed assistant message.
func FailureMessage(err error) model.Message {
	return failure.Message(err, nil)
}

func dispositions(blocks []prompt.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = string(b.Disposition)
	}
	return out
}

// =============================================================================
// CONFIG WIRING
// =============================================================================

// ClientConfig converts the API and prompt sections into a cloud.Config.
func ClientConfig(cfg *config.Config) cloud.Config {
	return cloud.Config{
		BaseURL:          cfg.API.BaseURL,
		Model:            cfg.API.Model,
		SiteURL:          cfg.API.SiteURL,
		SiteTitle:        cfg.API.SiteTitle,
		SystemPrompt:     cfg.Prompt.SystemPrompt,
		MaxTokens:        cfg.API.MaxTokens,
		Temperature:      cfg.API.Temperature,
		TopP:             cfg.API.TopP,
		FrequencyPenalty: cfg.API.FrequencyPenalty,
		PresencePenalty:  cfg.API.PresencePenalty,
		Timeout:          cfg.Timeout(),
	}
}

// NewFromStore builds a Service whose client reads the API key from store on
// every send.
func NewFromStore(store *config.Store, logger zerolog.Logger, opts ...Option) *Service {
	cfg := store.Get()
	client := cloud.NewClient(ClientConfig(cfg), store.APIKey,
		cloud.WithLogger(logger.With().Str("component", "cloud").Logger()))
	composer := prompt.NewComposer(logger.With().Str("component", "prompt").Logger()).
		WithInlineLimit(cfg.Prompt.InlineLimitBytes)

	all := append([]Option{WithLogger(logger), WithComposer(composer)}, opts...)
	return New(client, all...)
}
