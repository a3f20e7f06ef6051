// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ananddd06/domainchat/internal/model"
)

// Mode selects how a completion is delivered.
type Mode string

const (
	ModeBuffered  Mode = "buffered"
	ModeStreaming Mode = "streaming"
)

// ParseMode parses a mode name; the empty string means buffered.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "buffered", "buffer", "sync":
		return ModeBuffered, nil
	case "streaming", "stream":
		return ModeStreaming, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want buffered or streaming)", s)
	}
}

// DeltaFunc receives streamed content in arrival order.
type DeltaFunc func(delta string)

// Result is a completed send.
type Result struct {
	Message      model.Message
	Usage        *Usage
	Deltas       int
	FinishReason string
	Duration     time.Duration
}

// Sender delivers one composed prompt and returns the assistant reply.
// Each call makes exactly one HTTP request.
type Sender interface {
	Send(ctx context.Context, prompt string, onDelta DeltaFunc) (Result, error)
	Mode() Mode
}

// Sender returns the strategy for mode.
func (c *Client) Sender(mode Mode) Sender {
	if mode == ModeStreaming {
		return &Streaming{client: c}
	}
	return &Buffered{client: c}
}

// =============================================================================
// BUFFERED
// =============================================================================

// Buffered waits for the whole answer in one JSON response.
type Buffered struct {
	client *Client
}

// Mode implements Sender.
func (b *Buffered) Mode() Mode { return ModeBuffered }

// Send implements Sender. onDelta is not called.
func (b *Buffered) Send(ctx context.Context, prompt string, _ DeltaFunc) (Result, error) {
	c := b.client
	start := time.Now()

	key, err := c.apiKey()
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.cfg.Timeout, errSendTimeout)
	defer cancel()

	req, err := c.newChatRequest(ctx, key, c.Payload(prompt, false))
	if err != nil {
		return Result{}, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && timedOut(ctx) {
			te.Err = fmt.Errorf("%w: %w", errSendTimeout, te.Err)
		}
		return Result{}, err
	}

	var chat ChatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	reply, err := chat.answer()
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Message:  model.NewAssistantMessage(reply),
		Usage:    chat.Usage,
		Duration: time.Since(start),
	}
	if len(chat.Choices) > 0 {
		res.FinishReason = chat.Choices[0].FinishReason
	}
	if chat.Usage != nil {
		c.logger.Debug().
			Int("prompt_tokens", chat.Usage.PromptTokens).
			Int("completion_tokens", chat.Usage.CompletionTokens).
			Msg("token usage")
	}
	return res, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// Streaming receives the answer incrementally over SSE.
type Streaming struct {
	client *Client
}

// Mode implements Sender.
func (s *Streaming) Mode() Mode { return ModeStreaming }

// Send implements Sender. onDelta runs synchronously on the read loop for
// each non-empty delta. A stream that ends without the completion sentinel
// yields an Incomplete message.
func (s *Streaming) Send(ctx context.Context, prompt string, onDelta DeltaFunc) (Result, error) {
	c := s.client
	start := time.Now()

	key, err := c.apiKey()
	if err != nil {
		return Result{}, err
	}

	// The timeout covers waiting for response headers; the body may take
	// as long as the model keeps producing.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)
	timer := time.AfterFunc(c.cfg.Timeout, func() { cancel(errSendTimeout) })

	req, err := c.newChatRequest(ctx, key, c.Payload(prompt, true))
	if err != nil {
		timer.Stop()
		return Result{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(ctx, req)
	timer.Stop()
	if err != nil {
		return Result{}, err
	}

	dec := NewDecoder(resp.Body)
	defer dec.Close()

	for dec.Next() {
		if onDelta != nil {
			onDelta(dec.Delta())
		}
	}

	if err := dec.Err(); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		return Result{}, &StreamError{
			Partial: dec.Content(),
			Err:     &TransportError{Op: "stream interrupted", Err: err},
		}
	}

	content := dec.Content()
	if dec.Deltas() == 0 {
		return Result{}, ErrEmptyAnswer
	}

	msg := model.NewAssistantMessage(content)
	if dec.State() != StreamDone {
		msg = model.NewIncompleteMessage(content)
		c.logger.Warn().
			Int("deltas", dec.Deltas()).
			Msg("stream closed without completion sentinel")
	}
	if dec.Skipped() > 0 {
		c.logger.Debug().Int("skipped", dec.Skipped()).Msg("malformed stream frames ignored")
	}

	return Result{
		Message:      msg,
		Deltas:       dec.Deltas(),
		FinishReason: dec.FinishReason(),
		Duration:     time.Since(start),
	}, nil
}

// timedOut reports whether ctx ended because the send timed out.
func timedOut(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errSendTimeout)
}
