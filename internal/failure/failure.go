// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package failure maps errors from the dispatch pipeline onto a fixed
// taxonomy and a stable, user-facing message for each kind.
//
// Classification never panics and never fails: anything unrecognised is
// UnknownFailure. The priority order is local preconditions, then transport
// failures with no response, then HTTP status, then response-shape errors.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/model"
)

// Kind is a failure category.
type Kind int

const (
	UnknownFailure Kind = iota
	MissingCredential
	AttachmentTooLarge
	AttachmentUnreadable
	NetworkFailure
	AuthFailure
	QuotaFailure
	RateLimited
	UpstreamServerError
	UpstreamUnavailable
	APIError
	MalformedResponse
	EmptyAnswer
)

var kindNames = map[Kind]string{
	UnknownFailure:       "unknown_failure",
	MissingCredential:    "missing_credential",
	AttachmentTooLarge:   "attachment_too_large",
	AttachmentUnreadable: "attachment_unreadable",
	NetworkFailure:       "network_failure",
	AuthFailure:          "auth_failure",
	QuotaFailure:         "quota_failure",
	RateLimited:          "rate_limited",
	UpstreamServerError:  "upstream_server_error",
	UpstreamUnavailable:  "upstream_unavailable",
	APIError:             "api_error",
	MalformedResponse:    "malformed_response",
	EmptyAnswer:          "empty_answer",
}

// String returns the snake_case name used in logs and metrics.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// User-facing messages.
const (
	msgMissingCredential = "API key error: Please check that your OpenRouter API key is correctly configured (set OPENROUTER_API_KEY or api.key in ~/.domainchat/config.toml)."
	msgTooLarge          = "File too large: Maximum attachment size is 10MB."
	msgUnreadable        = "Could not read the attached file. Please check it and try again."
	msgNetwork           = "Network error: Unable to connect to the API. Please check your internet connection and try again."
	msgAuth              = "Authentication failed: Invalid API key. Please check your OpenRouter API key."
	msgQuota             = "Payment required: Your OpenRouter account may be out of credits."
	msgRateLimited       = "Rate limit exceeded: Too many requests. Please wait a moment and try again."
	msgServer            = "Server error: The OpenRouter API is currently experiencing issues. Please try again later."
	msgUnavailable       = "Service unavailable: The API is temporarily unavailable. Please try again later."
	msgMalformed         = "Invalid response: The API returned a response in an unexpected format. Please try again."
	msgEmpty             = "Empty response: The model returned no answer. Please try rephrasing your message."
	msgUnknown           = "An unexpected error occurred. Please try again or check the logs for more details."
)

// Failure is a classified error.
type Failure struct {
	Kind       Kind
	Status     int    // HTTP status, when one was received
	StatusText string // HTTP reason phrase, when one was received
	Text       string // user-facing message, without the failure prefix
	Err        error  // original error, may be nil
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return f.Text
}

// Unwrap returns the original error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify categorises err. resp is optional; when given, its status is
// used if err carries none.
func Classify(err error, resp *http.Response) (f *Failure) {
	defer func() {
		if r := recover(); r != nil {
			f = &Failure{Kind: UnknownFailure, Text: msgUnknown, Err: err}
		}
	}()

	f = &Failure{Err: err}
	if resp != nil {
		f.Status = resp.StatusCode
		f.StatusText = cloud.StatusText(resp)
	}

	var (
		orErr *cloud.OpenRouterError
		teErr *cloud.TransportError
	)

	switch {
	case errors.Is(err, cloud.ErrMissingCredential):
		f.Kind = MissingCredential
	case errors.Is(err, attachment.ErrTooLarge):
		f.Kind = AttachmentTooLarge
	case errors.Is(err, attachment.ErrUnreadable):
		f.Kind = AttachmentUnreadable
	case errors.As(err, &teErr):
		f.Kind = NetworkFailure
	case errors.As(err, &orErr):
		f.Status = orErr.Status
		f.StatusText = orErr.StatusText
		f.Kind = kindForStatus(orErr.Status)
	case f.Status != 0 && (f.Status < 200 || f.Status > 299):
		f.Kind = kindForStatus(f.Status)
	case errors.Is(err, cloud.ErrMalformedResponse):
		f.Kind = MalformedResponse
	case errors.Is(err, cloud.ErrEmptyAnswer):
		f.Kind = EmptyAnswer
	default:
		f.Kind = UnknownFailure
	}

	f.Text = f.message()
	return f
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return AuthFailure
	case http.StatusPaymentRequired:
		return QuotaFailure
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusInternalServerError:
		return UpstreamServerError
	case http.StatusServiceUnavailable:
		return UpstreamUnavailable
	default:
		return APIError
	}
}

func (f *Failure) message() string {
	switch f.Kind {
	case MissingCredential:
		return msgMissingCredential
	case AttachmentTooLarge:
		var tl *attachment.TooLargeError
		if errors.As(f.Err, &tl) {
			return fmt.Sprintf("File too large: %s is %.2fMB. Maximum size is 10MB.", tl.Name, float64(tl.Size)/(1024*1024))
		}
		return msgTooLarge
	case AttachmentUnreadable:
		return msgUnreadable
	case NetworkFailure:
		return msgNetwork
	case AuthFailure:
		return msgAuth
	case QuotaFailure:
		return msgQuota
	case RateLimited:
		return msgRateLimited
	case UpstreamServerError:
		return msgServer
	case UpstreamUnavailable:
		return msgUnavailable
	case APIError:
		text := f.StatusText
		if text == "" {
			text = http.StatusText(f.Status)
		}
		return fmt.Sprintf("API error (%d): %s. Please try again.", f.Status, text)
	case MalformedResponse:
		return msgMalformed
	case EmptyAnswer:
		return msgEmpty
	default:
		return msgUnknown
	}
}

// Text returns the user-facing message for err.
func Text(err error, resp *http.Response) string {
	return Classify(err, resp).Text
}

// Message wraps the classification in an assistant message carrying the
// failure prefix.
func Message(err error, resp *http.Response) model.Message {
	return model.NewFailureMessage(Text(err, resp))
}

// fixedTexts lists the kinds whose message never varies.
var fixedTexts = map[string]Kind{
	msgMissingCredential: MissingCredential,
	msgTooLarge:          AttachmentTooLarge,
	msgUnreadable:        AttachmentUnreadable,
	msgNetwork:           NetworkFailure,
	msgAuth:              AuthFailure,
	msgQuota:             QuotaFailure,
	msgRateLimited:       RateLimited,
	msgServer:            UpstreamServerError,
	msgUnavailable:       UpstreamUnavailable,
	msgMalformed:         MalformedResponse,
	msgEmpty:             EmptyAnswer,
	msgUnknown:           UnknownFailure,
}

// KindOf recovers the kind from a failure message's content. ok is false
// when msg is not a failure message.
func KindOf(msg model.Message) (kind Kind, ok bool) {
	if !msg.Failed {
		return UnknownFailure, false
	}
	text := strings.TrimPrefix(msg.Content, model.FailurePrefix)
	if k, found := fixedTexts[text]; found {
		return k, true
	}
	switch {
	case strings.HasPrefix(text, "File too large:"):
		return AttachmentTooLarge, true
	case strings.HasPrefix(text, "API error ("):
		return APIError, true
	}
	return UnknownFailure, true
}
