// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error variables for request-level failures.
var (
	// ErrMissingCredential indicates no API key is configured.
	ErrMissingCredential = errors.New("OpenRouter API key not configured")

	// ErrMalformedResponse indicates the response lacked the expected structure.
	ErrMalformedResponse = errors.New("invalid response structure")

	// ErrEmptyAnswer indicates the model returned only whitespace.
	ErrEmptyAnswer = errors.New("empty response from model")
)

// OpenRouterError is a non-2xx response from the API.
type OpenRouterError struct {
	Status     int    // HTTP status code
	StatusText string // Reason phrase, e.g. "Too Many Requests"
	Code       string // error.code from the JSON body, if any
	Message    string // error.message from the JSON body, or the raw body
}

// Error implements the error interface.
func (e *OpenRouterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// TransportError is a failure that produced no HTTP response: DNS,
// connection refused, TLS, timeout, or cancellation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, errSendTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Canceled reports whether the caller cancelled the request.
func (e *TransportError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, errSendTimeout)
}

// StreamError is a read failure in the middle of a stream. Partial holds
// the content accumulated before the failure.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}
